// internal/rpc/server.go
package rpc

import (
	"context"
	"net"
	"runtime/debug"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/modelstore"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader 는 클라이언트가 넘기면 그대로 쓰고, 없으면 새로 만든다.
const RequestIDHeader = "x-request-id"

type ctxKey struct{}

// RequestID 는 인터셉터가 심어둔 요청 id. 없으면 "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Server
// ------------------------------------------------------------
// gRPC 서버 + 표준 health 서비스.
// health 는 모델이 설치되기 전까지 NOT_SERVING 이다.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewServer(est Estimator, requestTimeout time.Duration) *Server {
	log := zlog.Logger.With().Str("component", "rpc").Logger()

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoverInterceptor(log),
			requestLogInterceptor(log),
		),
	)
	gs.RegisterService(&ServiceDesc, &priceService{est: est, timeout: requestTimeout})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs, log: log}
}

// SetServing 은 health 상태를 바꾼다.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// OnSwap 은 modelstore.Store.OnSwap 에 등록하는 hook. 모델이 생기면 SERVING.
func (s *Server) OnSwap(_, next *modelstore.Model) {
	s.SetServing(next != nil)
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpc.Serve(lis)
}

// Shutdown: 진행 중인 RPC 를 기다리되 ctx 가 끝나면 강제 종료.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("grpc graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

// ------------------------------------------------------------
// interceptors
// ------------------------------------------------------------

func requestLogInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := incomingRequestID(ctx)
		ctx = context.WithValue(ctx, ctxKey{}, id)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		var ev *zerolog.Event
		switch code {
		case codes.OK:
			ev = log.Debug()
		case codes.InvalidArgument, codes.Unavailable, codes.Canceled, codes.DeadlineExceeded:
			ev = log.Info()
		default:
			ev = log.Error().Err(err)
		}
		ev.Str("request_id", id).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("took", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

func recoverInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("rpc handler panic")
				err = ToStatus(perr.Internalf("internal error"))
			}
		}()
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDHeader); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.NewString()
}
