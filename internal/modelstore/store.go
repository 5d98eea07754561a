// internal/modelstore/store.go
package modelstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/metrics"
	"priceest/internal/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// SwapFunc 는 활성 모델이 바뀐 직후 호출된다. prev 는 nil 일 수 있다.
type SwapFunc func(prev, next *Model)

// Options: Store 생성 옵션
type Options struct {
	LoadTimeout time.Duration // 다운로드 + 디코딩 전체 상한. 0 이면 제한 없음
	LRUSize     int           // 디코딩된 모델 캐시 크기 (최소 1)
}

// Store
//
// 활성 모델 하나를 소유한다.
//   - 읽기(Current)는 atomic load 1회, 락 없음
//   - 쓰기(install)는 완전히 디코딩/검증한 뒤 Swap 1회
//   - 여러 로드가 겹치면 마지막으로 "완료된" 로드가 이긴다
//   - 로드 실패는 활성 모델에 영향을 주지 않는다
type Store struct {
	objects storage.ObjectStore
	decoder Decoder
	opts    Options
	metrics *metrics.Metrics
	log     zerolog.Logger

	current atomic.Pointer[Model]
	decoded *lru.Cache[string, *Model]

	hookMu sync.RWMutex
	hooks  []SwapFunc
}

func New(objects storage.ObjectStore, dec Decoder, opts Options, m *metrics.Metrics) (*Store, error) {
	if opts.LRUSize < 1 {
		opts.LRUSize = 1
	}
	cache, err := lru.New[string, *Model](opts.LRUSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		objects: objects,
		decoder: dec,
		opts:    opts,
		metrics: m,
		log:     zlog.Logger.With().Str("component", "modelstore").Logger(),
		decoded: cache,
	}, nil
}

// Current 는 활성 모델을 돌려준다. 아직 없으면 nil.
func (s *Store) Current() *Model {
	return s.current.Load()
}

// OnSwap 은 교체 hook 을 등록한다. hook 은 교체를 수행한 goroutine 에서 순서대로 불린다.
func (s *Store) OnSwap(fn SwapFunc) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

// LoadLatest 는 creation-date 가 가장 큰 object 를 설치한다.
// 버킷이 비어있으면 NotFound, 그 외 실패는 LoadError.
func (s *Store) LoadLatest(ctx context.Context) (*Model, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, err := s.objects.Latest(ctx)
	if err != nil {
		atomic.AddInt64(&s.metrics.ModelLoadErrorsTotal, 1)
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return nil, err
		}
		return nil, perr.LoadErrorf(err, "list models")
	}

	m, err := s.fetch(ctx, info.Key)
	if err != nil {
		atomic.AddInt64(&s.metrics.ModelLoadErrorsTotal, 1)
		return nil, err
	}
	s.install(m, "latest")
	return m, nil
}

// LoadByKey 는 지정한 object 를 생성 시각과 무관하게 설치한다 (발행 순서를 믿는다).
// 저장소의 현재 버전을 먼저 보고, 같은 (key, 버전) 을 최근에 디코딩했으면
// 다운로드 없이 캐시된 *Model 을 다시 설치한다. 같은 key 로 다시 올라온 아티팩트는
// 버전이 달라서 새로 내려받는다.
func (s *Store) LoadByKey(ctx context.Context, key string) (*Model, error) {
	if key == "" {
		atomic.AddInt64(&s.metrics.ModelLoadErrorsTotal, 1)
		return nil, perr.LoadErrorf(nil, "empty object key")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	info, err := s.objects.Stat(ctx, key)
	if err != nil {
		atomic.AddInt64(&s.metrics.ModelLoadErrorsTotal, 1)
		return nil, perr.LoadErrorf(err, "stat %s", key)
	}

	if m, ok := s.cached(key, info.Version); ok {
		atomic.AddInt64(&s.metrics.ModelCacheHitsTotal, 1)
		s.install(m, "cache")
		return m, nil
	}

	m, err := s.fetch(ctx, key)
	if err != nil {
		atomic.AddInt64(&s.metrics.ModelLoadErrorsTotal, 1)
		return nil, err
	}
	s.install(m, "notification")
	return m, nil
}

// fetch: 다운로드 → 디코딩/검증. 설치는 하지 않는다.
// 검증을 통과한 object 만 디코딩 캐시와 로컬 아티팩트 캐시에 남긴다.
func (s *Store) fetch(ctx context.Context, key string) (*Model, error) {
	start := time.Now()

	obj, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, perr.LoadErrorf(err, "download %s", key)
	}

	m, err := decodeModel(key, obj.Data, s.decoder)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = obj.CreatedAt
	m.ObjectVersion = obj.Version

	// 디코딩 중에 시간이 다 됐으면 설치하지 않는다
	if err := ctx.Err(); err != nil {
		return nil, perr.LoadErrorf(perr.FromContext(err), "load %s", key)
	}

	if obj.Version != "" {
		s.decoded.Add(decodedKey(key, obj.Version), m)
	}
	if err := s.objects.Keep(obj); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("artifact cache save failed")
	}
	s.log.Debug().
		Str("key", key).
		Str("object_version", obj.Version).
		Int("bytes", len(obj.Data)).
		Int("trees", m.Trees).
		Dur("took", time.Since(start)).
		Msg("model decoded")
	return m, nil
}

// install 은 유일한 쓰기 지점이다.
func (s *Store) install(m *Model, via string) {
	prev := s.current.Swap(m)

	atomic.AddInt64(&s.metrics.ModelLoadsTotal, 1)
	if prev != m {
		atomic.AddInt64(&s.metrics.ModelSwapsTotal, 1)
	}

	ev := s.log.Info().Str("key", m.Key).Str("via", via)
	if prev != nil {
		ev = ev.Str("prev_key", prev.Key)
	}
	ev.Msg("model installed")

	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(prev, m)
	}
}

// cached 는 같은 (key, 버전) 으로 디코딩해 둔 모델을 찾는다. 버전을 모르면 항상 miss.
func (s *Store) cached(key, version string) (*Model, bool) {
	if version == "" {
		return nil, false
	}
	return s.decoded.Get(decodedKey(key, version))
}

func decodedKey(key, version string) string {
	return key + "\x00" + version
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.LoadTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.LoadTimeout)
	}
	return context.WithCancel(ctx)
}
