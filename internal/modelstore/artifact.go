// internal/modelstore/artifact.go
package modelstore

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/features"

	"github.com/dmitryikh/leaves"
	"github.com/goccy/go-json"
)

// Regressor 는 디코딩된 부스팅 트리 앙상블. 불변이고 동시 호출에 안전해야 한다.
type Regressor interface {
	Predict(fvals []float64) float64
	NFeatures() int
}

// Decoder 는 아티팩트 바이트를 Regressor 로 바꾼다.
type Decoder interface {
	Decode(data []byte) (Regressor, error)
}

// Model
// ------------------------------------------------------------
// 설치 가능한 모델 1개. 만든 뒤 절대 수정하지 않고, 교체는 포인터 단위로만 한다.
type Model struct {
	Key           string
	ObjectVersion string    // 스토리지 object 버전 (ETag). 같은 key 재업로드를 구분
	CreatedAt     time.Time // 스토리지 creation-date (없으면 LastModified)
	LoadedAt      time.Time
	FeatureNames  []string
	SchemaVersion string // 아티팩트 헤더에 있을 때만
	Vocabulary    features.Vocabulary
	Version       string // LightGBM 모델 포맷 버전 (v3, v4 …)
	Trees         int

	regressor Regressor
}

// NewModel 은 이미 디코딩된 Regressor 로 Model 을 만든다. 헤더 검증은 하지 않는다.
// 스토어 밖에서 모델을 조립해야 하는 곳(테스트, 임베디드 기본 모델)용.
func NewModel(key string, vocab features.Vocabulary, reg Regressor) *Model {
	return &Model{
		Key:          key,
		LoadedAt:     time.Now(),
		FeatureNames: features.Schema(),
		Vocabulary:   vocab,
		regressor:    reg,
	}
}

// Predict 는 Schema() 순서 벡터로 스칼라 가격을 예측한다.
func (m *Model) Predict(fvals []float64) float64 {
	return m.regressor.Predict(fvals)
}

// header 는 LightGBM 텍스트 모델에서 스키마 검증에 필요한 부분만 뽑은 것.
type header struct {
	Version       string
	MaxFeatureIdx int // 없으면 -1
	FeatureNames  []string
	SchemaVersion string
	Trees         int

	SourceVocab      []string
	DestinationVocab []string
}

// parseHeader 는 첫 "Tree=" 이전의 key=value 헤더와
// 파일 끝의 pandas_categorical 트레일러를 읽는다.
func parseHeader(data []byte) (header, error) {
	h := header{MaxFeatureIdx: -1}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	inHeader := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if strings.HasPrefix(line, "Tree=") {
			inHeader = false
			h.Trees++
			continue
		}
		if strings.HasPrefix(line, "pandas_categorical:") {
			if err := h.parseCategorical(strings.TrimPrefix(line, "pandas_categorical:")); err != nil {
				return h, err
			}
			continue
		}
		if !inHeader {
			continue
		}

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "version":
			h.Version = v
		case "max_feature_idx":
			n, err := strconv.Atoi(v)
			if err != nil {
				return h, fmt.Errorf("max_feature_idx %q: %w", v, err)
			}
			h.MaxFeatureIdx = n
		case "feature_names":
			h.FeatureNames = strings.Fields(v)
		case "schema_version":
			h.SchemaVersion = v
		}
	}
	if err := sc.Err(); err != nil {
		return h, err
	}
	return h, nil
}

// pandas_categorical 는 학습 DataFrame 의 category 컬럼 순서대로 [[source…],[destination…]].
// 카테고리가 정수로 저장된 경우도 있어서 문자열로 맞춘다.
func (h *header) parseCategorical(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	var lists [][]any
	if err := json.Unmarshal([]byte(raw), &lists); err != nil {
		return fmt.Errorf("pandas_categorical: %w", err)
	}
	if len(lists) > 0 {
		h.SourceVocab = stringify(lists[0])
	}
	if len(lists) > 1 {
		h.DestinationVocab = stringify(lists[1])
	}
	return nil
}

func stringify(xs []any) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		switch v := x.(type) {
		case string:
			out[i] = v
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// checkSchema 는 아티팩트가 현재 Encoder 와 같은 feature 순서로 학습됐는지 본다.
// 어긋나면 예측값이 조용히 틀어지므로 설치하지 않는다.
func (h header) checkSchema() error {
	if len(h.FeatureNames) == 0 {
		return fmt.Errorf("schema mismatch: artifact has no feature_names")
	}
	if pos, ok := features.MatchSchema(h.FeatureNames); !ok {
		got := "<missing>"
		if pos < len(h.FeatureNames) {
			got = h.FeatureNames[pos]
		}
		want := "<none>"
		if pos < features.Width {
			want = features.Schema()[pos]
		}
		return fmt.Errorf("schema mismatch at feature %d: artifact %q, encoder %q", pos, got, want)
	}
	if h.MaxFeatureIdx >= 0 && h.MaxFeatureIdx+1 != features.Width {
		return fmt.Errorf("schema mismatch: max_feature_idx=%d, encoder width %d", h.MaxFeatureIdx, features.Width)
	}
	if h.SchemaVersion != "" && h.SchemaVersion != features.SchemaVersion {
		return fmt.Errorf("schema mismatch: schema_version %q, encoder %q", h.SchemaVersion, features.SchemaVersion)
	}
	return nil
}

// decodeModel: 헤더 파싱 → 스키마 검증 → 트리 디코딩 → 폭 검증.
// 어느 단계든 실패하면 LoadError. 성공하면 완전히 만들어진 *Model.
func decodeModel(key string, data []byte, dec Decoder) (*Model, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, perr.LoadErrorf(err, "parse %s", key)
	}
	if err := h.checkSchema(); err != nil {
		return nil, perr.LoadErrorf(err, "validate %s", key)
	}

	reg, err := dec.Decode(data)
	if err != nil {
		return nil, perr.LoadErrorf(err, "decode %s", key)
	}
	if reg.NFeatures() != features.Width {
		return nil, perr.LoadErrorf(
			fmt.Errorf("schema mismatch: model expects %d features, encoder width %d", reg.NFeatures(), features.Width),
			"validate %s", key,
		)
	}

	return &Model{
		Key:           key,
		LoadedAt:      time.Now(),
		FeatureNames:  h.FeatureNames,
		SchemaVersion: h.SchemaVersion,
		Vocabulary:    features.NewVocabulary(h.SourceVocab, h.DestinationVocab),
		Version:       h.Version,
		Trees:         h.Trees,
		regressor:     reg,
	}, nil
}

// ------------------------------------------------------------
// LightGBM (leaves) 디코더
// ------------------------------------------------------------

// LeavesDecoder 는 LightGBM 텍스트 모델을 leaves 앙상블로 읽는다.
// transformation(objective 의 출력 변환)도 함께 적용한다.
type LeavesDecoder struct{}

func (LeavesDecoder) Decode(data []byte) (Regressor, error) {
	// leaves 는 v2/v3 헤더만 안다. v4 는 트리 섹션 형식이 같아서 v3 로 읽는다.
	data = bytes.Replace(data, []byte("\nversion=v4\n"), []byte("\nversion=v3\n"), 1)

	ens, err := leaves.LGEnsembleFromReader(bufio.NewReader(bytes.NewReader(data)), true)
	if err != nil {
		return nil, err
	}
	return leavesRegressor{ens: ens}, nil
}

type leavesRegressor struct {
	ens *leaves.Ensemble
}

// Predict: 0 = 모든 트리 사용
func (r leavesRegressor) Predict(fvals []float64) float64 {
	return r.ens.PredictSingle(fvals, 0)
}

func (r leavesRegressor) NFeatures() int {
	return r.ens.NFeatures()
}
