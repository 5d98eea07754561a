package features

// SchemaVersion 은 아래 feature 순서/의미에 붙은 태그.
// 순서나 의미가 바뀌면 반드시 올리고 trainer 쪽 아티팩트 헤더도 같이 바꾼다.
const SchemaVersion = "flight-v1"

// feature 인덱스. 추론 시 벡터 순서 == 모델의 feature_names 순서.
const (
	IdxSource = iota
	IdxDestination
	IdxDuration
	IdxHourStart
	IdxHourEnd
	IdxMinutesStart
	IdxMinutesEnd
	IdxDayOfWeek
	IdxMonth
	IdxYear
	IdxDayOfYear
	IdxDayOfMonth
	IdxWeekOfYear

	Width
)

var schema = [Width]string{
	IdxSource:       "source",
	IdxDestination:  "destination",
	IdxDuration:     "duration",
	IdxHourStart:    "hour_start_time",
	IdxHourEnd:      "hour_end_time",
	IdxMinutesStart: "minutes_start_time",
	IdxMinutesEnd:   "minutes_end_time",
	IdxDayOfWeek:    "dayofweek",
	IdxMonth:        "month",
	IdxYear:         "year",
	IdxDayOfYear:    "dayofyear",
	IdxDayOfMonth:   "dayofmonth",
	IdxWeekOfYear:   "weekofyear",
}

// Schema 는 feature 이름을 순서대로 돌려준다. 호출마다 새 슬라이스.
func Schema() []string {
	out := make([]string, Width)
	copy(out, schema[:])
	return out
}

// MatchSchema 는 names 가 Schema() 와 순서까지 같은지 본다.
// 다르면 처음 어긋난 위치를 돌려준다 (길이가 다르면 짧은 쪽 길이).
func MatchSchema(names []string) (int, bool) {
	n := len(names)
	if n > Width {
		n = Width
	}
	for i := 0; i < n; i++ {
		if names[i] != schema[i] {
			return i, false
		}
	}
	if len(names) != Width {
		return n, false
	}
	return -1, true
}
