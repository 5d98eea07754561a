// internal/estimator/service.go
package estimator

import (
	"context"
	"math"
	"sync/atomic"

	perr "priceest/internal/errors"
	"priceest/internal/features"
	"priceest/internal/metrics"
	"priceest/internal/model"
	"priceest/internal/modelstore"
	"priceest/internal/pool"
)

// CurrencyUSD 는 모든 응답의 고정 통화 코드.
const CurrencyUSD = "USD"

// ModelSource 는 활성 모델 스냅샷을 주는 쪽 (*modelstore.Store).
type ModelSource interface {
	Current() *modelstore.Model
}

// Service
//
// 요청마다:
//  1. atomic load 1회로 모델 스냅샷을 잡는다 (없으면 Unavailable)
//  2. 그 스냅샷의 어휘집으로 인코딩하고 같은 스냅샷으로 예측한다
//  3. float 가격 → {units, nanos}
//
// 락이 없다. 스냅샷은 불변이라 교체 중에도 요청 하나는 모델 하나만 본다.
type Service struct {
	models  ModelSource
	encoder *features.Encoder
	metrics *metrics.Metrics
}

func NewService(models ModelSource, enc *features.Encoder, m *metrics.Metrics) *Service {
	return &Service{models: models, encoder: enc, metrics: m}
}

// Estimate 는 wire 요청 검증부터 응답 포장까지 한다. gRPC 와 HTTP gateway 공용.
func (s *Service) Estimate(ctx context.Context, req *model.EstimatePriceRequest) (*model.EstimatePriceResponse, error) {
	q, err := req.ToQuery()
	if err != nil {
		atomic.AddInt64(&s.metrics.EstimateRequestsTotal, 1)
		atomic.AddInt64(&s.metrics.EstimateInvalidInputTotal, 1)
		return nil, err
	}

	p, err := s.EstimatePrice(ctx, q)
	if err != nil {
		return nil, err
	}
	return model.NewEstimatePriceResponse(p), nil
}

// EstimatePrice 는 모델 로드를 절대 유발하지 않는다.
func (s *Service) EstimatePrice(ctx context.Context, q model.FlightQuery) (model.PriceEstimate, error) {
	atomic.AddInt64(&s.metrics.EstimateRequestsTotal, 1)

	p, err := s.estimate(ctx, q)
	switch perr.CodeOf(err) {
	case perr.ErrorCodeUnknown:
		if err == nil {
			atomic.AddInt64(&s.metrics.EstimateSuccessTotal, 1)
			return p, nil
		}
		atomic.AddInt64(&s.metrics.EstimateErrorsTotal, 1)
	case perr.ErrorCodeUnavailable:
		atomic.AddInt64(&s.metrics.EstimateUnavailableTotal, 1)
	case perr.ErrorCodeInvalidInput:
		atomic.AddInt64(&s.metrics.EstimateInvalidInputTotal, 1)
	default:
		atomic.AddInt64(&s.metrics.EstimateErrorsTotal, 1)
	}
	return model.PriceEstimate{}, err
}

func (s *Service) estimate(ctx context.Context, q model.FlightQuery) (model.PriceEstimate, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceEstimate{}, perr.FromContext(err)
	}

	m := s.models.Current()
	if m == nil {
		return model.PriceEstimate{}, perr.Unavailablef("model not loaded yet")
	}

	buf := pool.GetFeatures(features.Width)
	defer pool.PutFeatures(buf)

	if err := s.encoder.EncodeInto(*buf, q, m.Vocabulary); err != nil {
		return model.PriceEstimate{}, err
	}

	price := m.Predict(*buf)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return model.PriceEstimate{}, perr.Internalf("model %s produced non-finite price %v", m.Key, price)
	}

	if err := ctx.Err(); err != nil {
		return model.PriceEstimate{}, perr.FromContext(err)
	}
	return Split(price), nil
}

// Split 은 가격을 정수부(0 방향 절삭)와 소수부*1e9 로 나눈다.
// 부동소수 오차로 |nanos| 가 1e9 에 닿으면 999999999 로 자른다.
func Split(price float64) model.PriceEstimate {
	units, frac := math.Modf(price)

	nanos := math.Trunc(frac * 1e9)
	if nanos >= 1e9 {
		nanos = 1e9 - 1
	} else if nanos <= -1e9 {
		nanos = -(1e9 - 1)
	}

	return model.PriceEstimate{
		CurrencyCode: CurrencyUSD,
		Units:        clampInt64(units),
		Nanos:        int32(nanos),
	}
}

func clampInt64(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}
