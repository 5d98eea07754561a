package server

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	perr "priceest/internal/errors"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// NewRouter 는 admin/gateway 라우트를 chi 에 올린다.
//
//	GET  /health       프로세스 생존
//	GET  /ready        활성 모델 유무
//	GET  /metrics      카운터
//	POST /v1/estimate  gRPC EstimatePrice 의 JSON gateway
func NewRouter(h *Handler) *chi.Mux {
	log := zlog.Logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(recoverJSON(log))
	r.Use(accessLog(log))

	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
	r.Get("/metrics", h.HandleMetrics)
	r.Post("/v1/estimate", h.HandleEstimate)
	return r
}

// Server 는 chi + http.Server 의 얇은 래퍼.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, h http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       8 * time.Second,
			WriteTimeout:      8 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: zlog.Logger.With().Str("component", "http").Logger(),
	}
}

// Serve 는 lis 에서 블록한다. Shutdown 으로 닫히면 nil.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("http server listening")
	if err := s.srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// ------------------------------------------------------------
// middleware
// ------------------------------------------------------------

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			// 헬스체크 경로는 trace 로만
			ev := log.Debug()
			switch {
			case ww.Status() >= 500:
				ev = log.Warn()
			case r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics":
				ev = log.Trace()
			}
			ev.Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("ip", clientIP(r)).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http")
		})
	}
}

func recoverJSON(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					reqID := chimw.GetReqID(r.Context())
					log.Error().
						Str("request_id", reqID).
						Interface("panic", v).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")

					if reqID != "" {
						w.Header().Set("X-Request-ID", reqID)
					}
					writeError(w, http.StatusInternalServerError, perr.Internalf("panic recovered"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
