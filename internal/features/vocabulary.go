package features

import "strings"

// UnknownCategory 는 학습 어휘집에 없는 공항 코드의 값 (LightGBM 에서 missing 취급).
const UnknownCategory = -1

// Vocabulary 는 학습 시 pandas category 인코딩을 그대로 재현한다.
// 코드 → 어휘집 내 인덱스. 만든 뒤에는 읽기 전용이라 모델과 함께 공유해도 된다.
type Vocabulary struct {
	source      map[string]int
	destination map[string]int
}

// NewVocabulary: pandas_categorical 의 [source 목록, destination 목록] 순서
func NewVocabulary(source, destination []string) Vocabulary {
	return Vocabulary{
		source:      index(source),
		destination: index(destination),
	}
}

func index(list []string) map[string]int {
	m := make(map[string]int, len(list))
	for i, c := range list {
		c = strings.ToUpper(strings.TrimSpace(c))
		if _, dup := m[c]; !dup {
			m[c] = i
		}
	}
	return m
}

func (v Vocabulary) SourceCode(code string) int {
	return lookup(v.source, code)
}

func (v Vocabulary) DestinationCode(code string) int {
	return lookup(v.destination, code)
}

func (v Vocabulary) Empty() bool {
	return len(v.source) == 0 && len(v.destination) == 0
}

func (v Vocabulary) Sizes() (source, destination int) {
	return len(v.source), len(v.destination)
}

func lookup(m map[string]int, code string) int {
	if i, ok := m[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return i
	}
	return UnknownCategory
}
