package listener

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/features"
	"priceest/internal/metrics"
	"priceest/internal/modelstore"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber 는 payload 를 순서대로 돌려주고, 다 쓰면 fail 이 있으면 그 에러를,
// 없으면 ctx 가 끝날 때까지 막힌다.
type fakeSubscriber struct {
	payloads chan []byte
	fail     error
	closed   atomic.Bool
}

func newFakeSubscriber(payloads ...string) *fakeSubscriber {
	ch := make(chan []byte, len(payloads))
	for _, p := range payloads {
		ch <- []byte(p)
	}
	return &fakeSubscriber{payloads: ch}
}

func (f *fakeSubscriber) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p := <-f.payloads:
		return p, nil
	default:
	}
	if f.fail != nil {
		return nil, f.fail
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSubscriber) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeLoader 는 알고 있는 key 만 설치한다. 모르는 key 는 스토어처럼 LoadError.
type fakeLoader struct {
	mu      sync.Mutex
	known   map[string]bool
	calls   []string
	current *modelstore.Model
}

func (l *fakeLoader) LoadByKey(_ context.Context, key string) (*modelstore.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, key)
	if !l.known[key] {
		return nil, perr.LoadErrorf(perr.NotFoundf("%s: not found", key), "download %s", key)
	}
	l.current = modelstore.NewModel(key, features.Vocabulary{}, nil)
	return l.current, nil
}

func (l *fakeLoader) snapshot() ([]string, *modelstore.Model) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...), l.current
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := zlog.Logger
	zlog.Logger = zerolog.New(buf)
	t.Cleanup(func() { zlog.Logger = prev })
	return buf
}

func flat(bucket, key string) string {
	return `{"bucket":"` + bucket + `","objectKey":"` + key + `"}`
}

func TestMissingObjectKeepsModelAndConsumesNext(t *testing.T) {
	logs := captureLogs(t)
	sub := newFakeSubscriber(
		flat("ml-model", "model_1.txt"),
		flat("ml-model", "model_2024-05-01.txt"),
		flat("ml-model", "model_2.txt"),
	)
	loader := &fakeLoader{known: map[string]bool{"model_1.txt": true, "model_2.txt": true}}
	m := metrics.New()
	l := New(sub, loader, "ml-model", m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _ := loader.snapshot()
		return len(calls) == 3
	}, time.Second, time.Millisecond)

	// missing object 뒤의 메시지까지 소비되고, 실패는 현재 모델을 바꾸지 않았다
	calls, current := loader.snapshot()
	assert.Equal(t, []string{"model_1.txt", "model_2024-05-01.txt", "model_2.txt"}, calls)
	assert.Equal(t, "model_2.txt", current.Key)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, l.State())

	out := logs.String()
	assert.Contains(t, out, "model load failed, keeping current model")
	assert.Contains(t, out, `"code":"load_error"`)
	assert.Contains(t, out, "model_2024-05-01.txt")
	assert.Equal(t, int64(3), atomic.LoadInt64(&m.NotificationsReceivedTotal))
}

func TestMissingObjectWhileModelActive(t *testing.T) {
	sub := newFakeSubscriber(flat("ml-model", "gone.txt"))
	loader := &fakeLoader{known: map[string]bool{}}
	loader.current = modelstore.NewModel("model_1.txt", features.Vocabulary{}, nil)
	l := New(sub, loader, "ml-model", metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _ := loader.snapshot()
		return len(calls) == 1
	}, time.Second, time.Millisecond)

	_, current := loader.snapshot()
	assert.Equal(t, "model_1.txt", current.Key)

	cancel()
	require.NoError(t, <-done)
}

func TestMalformedAndForeignNotificationsAreSkipped(t *testing.T) {
	captureLogs(t)
	sub := newFakeSubscriber(
		"not json",
		`{"bucket":"ml-model"}`,
		flat("ml-data", "train.csv"),
		flat("ml-model", "model_1.txt"),
	)
	loader := &fakeLoader{known: map[string]bool{"model_1.txt": true}}
	m := metrics.New()
	l := New(sub, loader, "ml-model", m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&m.NotificationsReceivedTotal) == 4
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	calls, _ := loader.snapshot()
	assert.Equal(t, []string{"model_1.txt"}, calls)
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.NotificationsMalformedTotal))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.NotificationsIgnoredTotal))
}

func TestEmptyBucketFilterAcceptsAnyBucket(t *testing.T) {
	sub := newFakeSubscriber(flat("other", "model_1.txt"))
	loader := &fakeLoader{known: map[string]bool{"model_1.txt": true}}
	l := New(sub, loader, "", metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _ := loader.snapshot()
		return len(calls) == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestChannelFailureEndsRun(t *testing.T) {
	captureLogs(t)
	sub := newFakeSubscriber(flat("ml-model", "model_1.txt"))
	sub.fail = errors.New("connection reset by peer")
	loader := &fakeLoader{known: map[string]bool{"model_1.txt": true}}
	l := New(sub, loader, "ml-model", metrics.New())

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeChannelFailure))
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, StateFailed, l.State())

	// 장애 전에 온 메시지는 처리됐다
	calls, _ := loader.snapshot()
	assert.Equal(t, []string{"model_1.txt"}, calls)
}

func TestShutdownStopsRun(t *testing.T) {
	sub := newFakeSubscriber()
	l := New(sub, &fakeLoader{}, "ml-model", metrics.New())
	assert.Equal(t, StateIdle, l.State())

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool { return l.State() == StateConsuming }, time.Second, time.Millisecond)
	l.Shutdown()
	l.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Equal(t, StateStopped, l.State())
	assert.True(t, sub.closed.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "consuming", StateConsuming.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
