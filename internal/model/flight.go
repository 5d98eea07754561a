// internal/model/flight.go
package model

import (
	"strings"
	"time"

	perr "priceest/internal/errors"
)

// FlightQuery
// ------------------------------------------------------------
// 예측 요청 1건. 요청마다 새로 만들고 이후에는 바꾸지 않는다.
// Departure / Arrival 은 wire 문자열(RFC 3339, offset 포함)을 파싱한 값이며
// 원래 offset 을 그대로 들고 있다 (공항 timezone 을 모를 때 fallback 으로 쓴다).
type FlightQuery struct {
	Source      string
	Destination string
	Departure   time.Time
	Arrival     time.Time
}

// PriceEstimate
// ------------------------------------------------------------
// 가격의 고정소수점 표현. Units 는 정수부(0 방향 절삭),
// Nanos 는 소수부 * 1e9. |Nanos| < 1e9 이고 둘 다 0 이 아니면 부호가 같다.
type PriceEstimate struct {
	CurrencyCode string `json:"currency_code"`
	Units        int64  `json:"units"`
	Nanos        int32  `json:"nanos"`
}

// UpdateNotification
// ------------------------------------------------------------
// 알림 payload 에서 뽑아낸 "새 모델이 올라갔다" 는 사실 1건.
// listener 경계에서만 만들어지고 한 번 소비된다.
type UpdateNotification struct {
	Bucket    string `json:"bucket" validate:"required"`
	ObjectKey string `json:"objectKey" validate:"required"`
}

// ------------------------------------------------------------
// wire DTO (gRPC JSON codec, HTTP gateway 공용)
// ------------------------------------------------------------

type Flight struct {
	Source        string `json:"source" validate:"required,airport_code"`
	Destination   string `json:"destination" validate:"required,airport_code"`
	DepartureTime string `json:"departure_time" validate:"required"`
	ArrivalTime   string `json:"arrival_time" validate:"required"`
}

type EstimatePriceRequest struct {
	Flight *Flight `json:"flight" validate:"required"`
}

type EstimatePriceResponse struct {
	Price PriceEstimate `json:"price"`
}

// ToQuery 는 요청을 검증하고 FlightQuery 로 바꾼다.
// 모든 실패는 InvalidInput 이며 어느 필드인지 Field 로 알려준다.
func (r *EstimatePriceRequest) ToQuery() (FlightQuery, error) {
	if r == nil {
		return FlightQuery{}, perr.WithField(perr.InvalidInputf("flight is required"), "flight")
	}
	if err := Validate(r); err != nil {
		return FlightQuery{}, err
	}

	dep, err := parseTimestamp(r.Flight.DepartureTime, "departure_time")
	if err != nil {
		return FlightQuery{}, err
	}
	arr, err := parseTimestamp(r.Flight.ArrivalTime, "arrival_time")
	if err != nil {
		return FlightQuery{}, err
	}

	return FlightQuery{
		Source:      strings.ToUpper(strings.TrimSpace(r.Flight.Source)),
		Destination: strings.ToUpper(strings.TrimSpace(r.Flight.Destination)),
		Departure:   dep,
		Arrival:     arr,
	}, nil
}

func parseTimestamp(s, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, perr.WithField(perr.InvalidInputf("%s is not an RFC 3339 timestamp: %q", field, s), field)
	}
	return t, nil
}

// NewEstimatePriceResponse: wire 응답 포장
func NewEstimatePriceResponse(p PriceEstimate) *EstimatePriceResponse {
	return &EstimatePriceResponse{Price: p}
}
