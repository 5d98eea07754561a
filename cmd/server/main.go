package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"priceest/internal/config"
	perr "priceest/internal/errors"
	"priceest/internal/estimator"
	"priceest/internal/features"
	"priceest/internal/listener"
	"priceest/internal/logger"
	"priceest/internal/metrics"
	"priceest/internal/modelstore"
	"priceest/internal/rpc"
	"priceest/internal/server"
	"priceest/internal/storage"
)

func main() {
	os.Exit(run(config.Load()))
}

// run 은 서버 수명 전체를 돌고 프로세스 exit code 를 돌려준다.
// 실패 경로도 return 으로 빠져나가서 defer 된 정리(로그 파일 닫기 등)가 항상 실행된다.
func run(cfg config.Config) int {

	// ====================================================================
	// CPU 설정
	// ====================================================================
	//
	// 컨테이너 CPU quota 가 논리 코어 수보다 작으면 Go 스케줄러가
	// 과하게 P 를 잡아 throttling 이 생긴다. GOMAXPROCS 환경변수로 맞춘다.
	// 예측은 트리 순회라 CPU bound 이고 요청 goroutine 끼리 락을 공유하지 않으므로
	// 지정이 없으면 런타임 기본값(코어 수)을 그대로 쓴다.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	}

	// ====================================================================
	// Logger / Metrics
	// ====================================================================
	closer := logger.Init(cfg)
	defer closer.Close()

	log := logger.Component("main")
	m := metrics.New()

	log.Info().
		Str("grpc_addr", cfg.GRPCAddr).
		Str("http_addr", cfg.HTTPAddr).
		Str("bucket", cfg.ModelBucket).
		Str("notify_driver", cfg.NotifyDriver).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Msg("starting price estimation server")

	// 종료 시그널: SIGTERM(오케스트레이터) / SIGINT(로컬)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ====================================================================
	// Object storage (MinIO)
	// ====================================================================
	//
	// - SDK retry 는 끄고 S3Store 의 app-level retry 만 사용
	// - MODEL_CACHE_DIR 가 있으면 다운로드한 아티팩트를 로컬에 남겨
	//   같은 key 의 재다운로드를 피한다 (key 는 불변)
	// ====================================================================
	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("s3 client")
		return 1
	}

	var storeOpts []storage.Option
	if cfg.ModelCacheDir != "" {
		cache, err := storage.NewArtifactCache(cfg.ModelCacheDir, cfg.ModelCacheMaxAge, cfg.ModelCacheMaxBytes, m)
		if err != nil {
			log.Error().Err(err).Str("dir", cfg.ModelCacheDir).Msg("artifact cache")
			return 1
		}
		storeOpts = append(storeOpts, storage.WithCache(cache))
	}
	objects := storage.NewS3Store(client, cfg.ModelBucket, cfg.S3Timeout, cfg.S3AppRetries, m, storeOpts...)

	if err := objects.EnsureBucket(ctx); err != nil {
		log.Error().Err(err).Str("bucket", cfg.ModelBucket).Msg("model bucket is not reachable")
		return 1
	}

	// ====================================================================
	// Model store / Estimation service
	// ====================================================================
	store, err := modelstore.New(objects, modelstore.LeavesDecoder{}, modelstore.Options{
		LoadTimeout: cfg.ModelLoadTimeout,
		LRUSize:     cfg.ModelLRUSize,
	}, m)
	if err != nil {
		log.Error().Err(err).Msg("model store")
		return 1
	}

	airports, err := features.DefaultAirports()
	if err != nil {
		log.Error().Err(err).Msg("airport table")
		return 1
	}
	svc := estimator.NewService(store, features.NewEncoder(airports), m)

	// ====================================================================
	// 서버 (gRPC + HTTP admin)
	// ====================================================================
	grpcSrv := rpc.NewServer(svc, cfg.RequestTimeout)
	store.OnSwap(grpcSrv.OnSwap)

	httpSrv := server.NewServer(cfg.HTTPAddr, server.NewRouter(server.NewHandler(svc, store, m, cfg.RequestTimeout)))

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
		return 1
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		log.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("http listen")
		return 1
	}

	errCh := make(chan error, 3)
	go func() { errCh <- grpcSrv.Serve(grpcLis) }()
	go func() { errCh <- httpSrv.Serve(httpLis) }()

	// ====================================================================
	// 기동 시 모델 1회 로드
	// ====================================================================
	//
	// 버킷이 비어있으면 Unavailable 상태로 서빙을 시작하고 알림을 기다린다.
	// 로드 실패도 치명적이지 않다. 다음 알림이 모델을 설치할 수 있다.
	// ====================================================================
	if mdl, err := store.LoadLatest(ctx); err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			log.Warn().Msg("no model in bucket yet, serving Unavailable until a notification arrives")
		} else {
			log.Error().Err(err).Msg("initial model load failed, serving Unavailable until a notification arrives")
		}
	} else {
		log.Info().Str("key", mdl.Key).Time("created_at", mdl.CreatedAt).Msg("initial model ready")
	}

	// ====================================================================
	// 모델 갱신 리스너
	// ====================================================================
	// 리스너 없이 서빙을 계속하면 모델이 갱신되지 않으므로 시작 실패는 종료 사유다
	exitCode := 0
	var lsn *listener.Listener
	if sub, err := listener.Dial(ctx, cfg); err != nil {
		log.Error().Err(err).Str("driver", cfg.NotifyDriver).Msg("notification channel")
		exitCode = 1
	} else {
		lsn = listener.New(sub, store, cfg.ModelBucket, m)
		go func() { errCh <- lsn.Run(ctx) }()
	}

	// ====================================================================
	// 대기 → Graceful Shutdown
	// ====================================================================
	//
	// 종료 순서:
	//  1. 리스너 중지 (더 이상 모델 교체 없음)
	//  2. HTTP / gRPC 가 진행 중인 요청을 마칠 때까지 대기 (최대 15초)
	//
	// 알림 채널 장애(ChannelFailure)는 non-zero exit 로 끝낸다.
	// 오케스트레이터가 재시작하면 LoadLatest 로 최신 모델을 다시 잡는다.
	// ====================================================================
	if lsn != nil {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Str("code", perr.CodeOf(err).String()).Msg("fatal component error")
				exitCode = 1
			}
		}
		lsn.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcSrv.Shutdown(shutdownCtx)
	cancel()

	log.Info().Int("exit_code", exitCode).Msg("shutdown complete")
	return exitCode
}
