package features

import (
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/model"
)

// Vector 는 Schema() 순서의 feature 값.
type Vector []float64

// Encoder
//
// FlightQuery → Vector 변환. 학습 파이프라인과 비트 단위로 같아야 한다.
//
//   - 출발 시/분: 출발 공항 timezone 기준
//   - 도착 시/분: 도착 공항 timezone 기준
//   - 공항을 모르면 timestamp 에 붙어온 offset 을 그대로 사용
//   - duration: (도착 - 출발) 분 단위, 0 방향 절삭, clamp 없음
//   - 달력 필드: 출발 공항 timezone 기준 출발 날짜
//
// 상태가 없어서 여러 goroutine 에서 공유해도 된다.
type Encoder struct {
	airports *Airports
}

func NewEncoder(a *Airports) *Encoder {
	return &Encoder{airports: a}
}

// Encode 는 새 Vector 를 할당해서 채운다.
func (e *Encoder) Encode(q model.FlightQuery, vocab Vocabulary) (Vector, error) {
	v := make(Vector, Width)
	if err := e.EncodeInto(v, q, vocab); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeInto 는 dst(길이 Width 이상)에 결과를 쓴다. 요청 경로에서는 풀 버퍼와 함께 쓴다.
func (e *Encoder) EncodeInto(dst []float64, q model.FlightQuery, vocab Vocabulary) error {
	if q.Departure.IsZero() {
		return perr.WithField(perr.InvalidInputf("departure time is required"), "departure_time")
	}
	if q.Arrival.IsZero() {
		return perr.WithField(perr.InvalidInputf("arrival time is required"), "arrival_time")
	}
	if len(dst) < Width {
		return perr.Internalf("feature buffer too short: %d < %d", len(dst), Width)
	}

	dep := e.local(q.Departure, q.Source)
	arr := e.local(q.Arrival, q.Destination)

	_, isoWeek := dep.ISOWeek()

	dst[IdxSource] = float64(vocab.SourceCode(q.Source))
	dst[IdxDestination] = float64(vocab.DestinationCode(q.Destination))
	dst[IdxDuration] = float64(int64(q.Arrival.Sub(q.Departure) / time.Minute))
	dst[IdxHourStart] = float64(dep.Hour())
	dst[IdxHourEnd] = float64(arr.Hour())
	dst[IdxMinutesStart] = float64(dep.Minute())
	dst[IdxMinutesEnd] = float64(arr.Minute())
	dst[IdxDayOfWeek] = float64(mondayFirst(dep.Weekday()))
	dst[IdxMonth] = float64(dep.Month())
	dst[IdxYear] = float64(dep.Year())
	dst[IdxDayOfYear] = float64(dep.YearDay())
	dst[IdxDayOfMonth] = float64(dep.Day())
	dst[IdxWeekOfYear] = float64(isoWeek)
	return nil
}

func (e *Encoder) local(t time.Time, code string) time.Time {
	if loc, ok := e.airports.Location(code); ok {
		return t.In(loc)
	}
	return t
}

// Monday=0 … Sunday=6
func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}
