// internal/listener/listener.go
package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/metrics"
	"priceest/internal/modelstore"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Subscriber 는 알림 채널 1개. Receive 는 다음 payload 가 올 때까지 블록한다.
// ctx 가 끝나면 ctx.Err() 를, 채널 자체가 죽으면 그 외 에러를 돌려준다.
type Subscriber interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Loader 는 key 로 모델을 설치한다 (*modelstore.Store).
type Loader interface {
	LoadByKey(ctx context.Context, key string) (*modelstore.Model, error)
}

type State int32

const (
	StateIdle State = iota
	StateConsuming
	StateProcessing
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsuming:
		return "consuming"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listener
//
// 모델 갱신 알림을 순차적으로 소비한다.
//
//	Idle → Consuming → Processing → Consuming …
//	                 ↘ Stopped (ctx 종료 / Shutdown)
//	                 ↘ Failed  (채널 장애 → ChannelFailure 반환, 프로세스 종료 대상)
//
// 메시지는 받는 즉시 ack 된 것으로 본다 (at-most-once).
// 메시지 단위 실패(파싱, 검증, 버킷 불일치, 로드 실패)는 로그/카운트만 하고 루프를 계속한다.
type Listener struct {
	sub     Subscriber
	loader  Loader
	bucket  string
	metrics *metrics.Metrics
	log     zerolog.Logger

	state atomic.Int32

	stopCtx  context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
}

// New: bucket 이 비어있지 않으면 다른 버킷 알림은 무시한다.
func New(sub Subscriber, loader Loader, bucket string, m *metrics.Metrics) *Listener {
	stopCtx, stop := context.WithCancel(context.Background())
	return &Listener{
		sub:     sub,
		loader:  loader,
		bucket:  bucket,
		metrics: m,
		log:     zlog.Logger.With().Str("component", "listener").Logger(),
		stopCtx: stopCtx,
		stop:    stop,
	}
}

func (l *Listener) State() State {
	return State(l.state.Load())
}

// Run 은 ctx 가 끝나거나 Shutdown 될 때까지 블록한다.
// 정상 종료면 nil, 채널 장애면 ChannelFailure.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(l.stopCtx, cancel)()

	l.state.Store(int32(StateConsuming))
	l.log.Info().Str("bucket", l.bucket).Msg("listener started")

	for {
		payload, err := l.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || l.stopCtx.Err() != nil {
				l.state.Store(int32(StateStopped))
				l.log.Info().Msg("listener stopped")
				return nil
			}
			l.state.Store(int32(StateFailed))
			l.log.Error().Err(err).Msg("notification channel failed")
			return perr.ChannelFailuref(err, "notification channel")
		}

		l.state.Store(int32(StateProcessing))
		l.handle(ctx, payload)
		l.state.Store(int32(StateConsuming))
	}
}

// Shutdown 은 Run 을 멈추고 subscriber 를 닫는다. 여러 번 불러도 안전하다.
// Run 의 반환을 기다리지는 않는다.
func (l *Listener) Shutdown() {
	l.stopOnce.Do(func() {
		l.stop()
		if err := l.sub.Close(); err != nil {
			l.log.Warn().Err(err).Msg("subscriber close")
		}
	})
}

// handle 은 메시지 1건을 처리한다. 어떤 실패도 호출자에게 올리지 않는다.
func (l *Listener) handle(ctx context.Context, payload []byte) {
	atomic.AddInt64(&l.metrics.NotificationsReceivedTotal, 1)

	n, err := ParseNotification(payload)
	if err != nil {
		atomic.AddInt64(&l.metrics.NotificationsMalformedTotal, 1)
		l.log.Warn().Err(err).Int("bytes", len(payload)).Msg("malformed notification dropped")
		return
	}

	if l.bucket != "" && n.Bucket != l.bucket {
		atomic.AddInt64(&l.metrics.NotificationsIgnoredTotal, 1)
		l.log.Warn().
			Str("bucket", n.Bucket).
			Str("key", n.ObjectKey).
			Str("want_bucket", l.bucket).
			Msg("notification for another bucket ignored")
		return
	}

	start := time.Now()
	m, err := l.loader.LoadByKey(ctx, n.ObjectKey)
	if err != nil {
		l.log.Error().
			Err(err).
			Str("code", perr.CodeOf(err).String()).
			Str("bucket", n.Bucket).
			Str("key", n.ObjectKey).
			Msg("model load failed, keeping current model")
		return
	}

	l.log.Info().
		Str("bucket", n.Bucket).
		Str("key", m.Key).
		Dur("took", time.Since(start)).
		Msg("model updated from notification")
}
