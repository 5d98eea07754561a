package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/metrics"
	"priceest/internal/model"
	"priceest/internal/modelstore"
	"priceest/internal/pool"

	"github.com/goccy/go-json"
)

// MaxBodySize 는 /v1/estimate 요청 바디 상한. 요청 1건은 수백 바이트.
const MaxBodySize = 64 << 10

// Estimator 는 wire 요청을 처리한다 (*estimator.Service).
type Estimator interface {
	Estimate(ctx context.Context, req *model.EstimatePriceRequest) (*model.EstimatePriceResponse, error)
}

// ModelSource 는 readiness 판단용 (*modelstore.Store).
type ModelSource interface {
	Current() *modelstore.Model
}

type Handler struct {
	est     Estimator
	models  ModelSource
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewHandler(est Estimator, models ModelSource, m *metrics.Metrics, requestTimeout time.Duration) *Handler {
	return &Handler{
		est:     est,
		models:  models,
		metrics: m,
		timeout: requestTimeout,
	}
}

// HandleEstimate
//
// gRPC EstimatePrice 와 같은 JSON 을 HTTP 로 받는 gateway.
//  1. 바디 크기 제한 (MaxBodySize)
//  2. BufferPool 버퍼로 읽고 goccy/go-json 으로 디코딩
//  3. gRPC 와 같은 Estimator 호출
//  4. 실패는 perr 코드 → HTTP status + {"code","message","field"}
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer r.Body.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, perr.InvalidInputf("request body exceeds %d bytes", MaxBodySize))
			return
		}
		writeError(w, http.StatusBadRequest, perr.InvalidInputf("read body: %v", err))
		return
	}

	var req model.EstimatePriceRequest
	if err := json.NewDecoder(bytes.NewReader(buf.Bytes())).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, perr.InvalidInputf("malformed json: %v", err))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp, err := h.est.Estimate(ctx, &req)
	if err != nil {
		if perr.CodeOf(err) == perr.ErrorCodeUnknown {
			if ce := perr.FromContext(err); perr.CodeOf(ce) != perr.ErrorCodeUnknown {
				err = ce
			}
		}
		writeError(w, perr.HTTPStatusCode(perr.CodeOf(err)), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleReady: 활성 모델이 있으면 200 + key, 없으면 503.
// 로드밸런서는 /health 가 아니라 이 경로로 트래픽 투입 여부를 판단해야 한다.
func (h *Handler) HandleReady(w http.ResponseWriter, _ *http.Request) {
	m := h.models.Current()
	if m == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}

	body := map[string]any{
		"ready":     true,
		"model_key": m.Key,
		"loaded_at": m.LoadedAt.UTC().Format(time.RFC3339),
	}
	if !m.CreatedAt.IsZero() {
		body["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

// HandleHealth: 프로세스 생존 여부만. 모델 유무와 무관하게 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// HandleMetrics
//
// 서빙 상태 카운터를 name=value 형식으로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, perr.WireFrom(err))
}
