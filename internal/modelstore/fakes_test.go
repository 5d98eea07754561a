package modelstore

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/features"
	"priceest/internal/storage"
)

// memObjects 는 메모리 ObjectStore. gate 가 있는 key 는 채널이 닫힐 때까지 Get 이 멈춘다.
// 같은 key 에 다시 put 하면 버전이 올라간다.
type memObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	created  map[string]time.Time
	versions map[string]int
	gates    map[string]chan struct{}
	gets     map[string]int
	kept     []string
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects:  map[string][]byte{},
		created:  map[string]time.Time{},
		versions: map[string]int{},
		gates:    map[string]chan struct{}{},
		gets:     map[string]int{},
	}
}

func (m *memObjects) put(key string, data []byte, created time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.created[key] = created
	m.versions[key]++
}

func (m *memObjects) keptKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.kept...)
}

// infoLocked 는 mu 를 잡은 상태에서 부른다.
func (m *memObjects) infoLocked(key string) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(m.objects[key])),
		CreatedAt:    m.created[key],
		LastModified: m.created[key],
		Version:      "v" + strconv.Itoa(m.versions[key]),
	}
}

func (m *memObjects) gate(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[key] = ch
	return ch
}

func (m *memObjects) getCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[key]
}

func (m *memObjects) List(_ context.Context) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for k := range m.objects {
		out = append(out, m.infoLocked(k))
	}
	return out, nil
}

func (m *memObjects) Latest(ctx context.Context) (storage.ObjectInfo, error) {
	objs, _ := m.List(ctx)
	best, ok := storage.PickLatest(objs)
	if !ok {
		return storage.ObjectInfo{}, perr.NotFoundf("bucket is empty")
	}
	return best, nil
}

func (m *memObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return storage.ObjectInfo{}, perr.NotFoundf("%s: not found", key)
	}
	return m.infoLocked(key), nil
}

func (m *memObjects) Get(ctx context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	m.gets[key]++
	gate := m.gates[key]
	data, ok := m.objects[key]
	info := m.infoLocked(key)
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return storage.Object{}, perr.FromContext(ctx.Err())
		}
	}
	if !ok {
		return storage.Object{}, perr.NotFoundf("%s: not found", key)
	}
	return storage.Object{ObjectInfo: info, Data: data}, nil
}

func (m *memObjects) Keep(obj storage.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kept = append(m.kept, obj.Key+"@"+obj.Version)
	return nil
}

// constRegressor 는 feature 와 무관하게 같은 가격을 돌려준다.
type constRegressor struct {
	price float64
	width int
}

func (r constRegressor) Predict([]float64) float64 { return r.price }
func (r constRegressor) NFeatures() int            { return r.width }

// fakeDecoder 는 아티팩트의 "fake_price=" / "fake_width=" 줄만 읽는다.
type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) (Regressor, error) {
	r := constRegressor{width: features.Width}
	found := false
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "fake_price":
			p, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, err
			}
			r.price = p
			found = true
		case "fake_width":
			w, err := strconv.Atoi(v)
			if err != nil {
				return nil, err
			}
			r.width = w
		}
	}
	if !found {
		return nil, fmt.Errorf("no trees")
	}
	return r, nil
}

type artifactOpt func(*artifactSpec)

type artifactSpec struct {
	names         []string
	schemaVersion string
	maxFeatureIdx int
	width         int
	categorical   string
}

func withNames(names []string) artifactOpt {
	return func(a *artifactSpec) { a.names = names }
}

func withSchemaVersion(v string) artifactOpt {
	return func(a *artifactSpec) { a.schemaVersion = v }
}

func withWidth(w int) artifactOpt {
	return func(a *artifactSpec) { a.width = w }
}

func withCategorical(raw string) artifactOpt {
	return func(a *artifactSpec) { a.categorical = raw }
}

// artifact 는 LightGBM 텍스트 모델 모양의 바이트를 만든다.
func artifact(price float64, opts ...artifactOpt) []byte {
	a := artifactSpec{
		names:         features.Schema(),
		schemaVersion: features.SchemaVersion,
		maxFeatureIdx: features.Width - 1,
		categorical:   `[["ATL","JFK","SFO"],["LAX","ORD"]]`,
	}
	for _, o := range opts {
		o(&a)
	}

	var b bytes.Buffer
	b.WriteString("tree\nversion=v3\nnum_class=1\nnum_tree_per_iteration=1\nlabel_index=0\n")
	fmt.Fprintf(&b, "max_feature_idx=%d\n", a.maxFeatureIdx)
	b.WriteString("objective=regression\n")
	fmt.Fprintf(&b, "feature_names=%s\n", strings.Join(a.names, " "))
	if a.schemaVersion != "" {
		fmt.Fprintf(&b, "schema_version=%s\n", a.schemaVersion)
	}
	fmt.Fprintf(&b, "fake_price=%v\n", price)
	if a.width > 0 {
		fmt.Fprintf(&b, "fake_width=%d\n", a.width)
	}
	b.WriteString("\nTree=0\nnum_leaves=1\nleaf_value=0\n\nTree=1\nnum_leaves=1\nleaf_value=0\n\nend of trees\n\n")
	b.WriteString("feature_importances:\nduration=3\n\nparameters:\n[boosting: gbdt]\nend of parameters\n\n")
	fmt.Fprintf(&b, "pandas_categorical:%s\n", a.categorical)
	return b.Bytes()
}
