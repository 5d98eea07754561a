// internal/errors/errors.go
package errors

// 항상 perr 로 import 해서 사용한다: perr "priceest/internal/errors"

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrorCode 는 서빙 런타임 전체에서 공유하는 에러 분류 코드.
// 값은 로그/메트릭에 그대로 찍히므로 순서를 바꾸지 않는다.
type ErrorCode uint16

const (
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeInvalidInput : 잘못된 요청 (4xx 성격, 서버는 재시도하지 않음)
	ErrorCodeInvalidInput

	// ErrorCodeUnavailable : 아직 활성 모델이 없음 → 클라이언트가 backoff 후 재시도
	ErrorCodeUnavailable

	// ErrorCodeNotFound : 스토리지에 모델 object 가 없음
	ErrorCodeNotFound

	// ErrorCodeLoadError : 다운로드/역직렬화/스키마 검증 실패. 기존 모델에는 영향 없음
	ErrorCodeLoadError

	// ErrorCodeChannelFailure : 구독 채널이 끊김 → 프로세스 종료 대상
	ErrorCodeChannelFailure

	ErrorCodeDeadlineExceeded
	ErrorCodeCanceled

	// ErrorCodeInternal : 예측 결과가 NaN 등, 서버 내부 문제
	ErrorCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidInput:
		return "invalid_input"
	case ErrorCodeUnavailable:
		return "unavailable"
	case ErrorCodeNotFound:
		return "not_found"
	case ErrorCodeLoadError:
		return "load_error"
	case ErrorCodeChannelFailure:
		return "channel_failure"
	case ErrorCodeDeadlineExceeded:
		return "deadline_exceeded"
	case ErrorCodeCanceled:
		return "canceled"
	case ErrorCodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// GRPCCode 는 ErrorCode 를 gRPC status code 로 변환한다.
// Unavailable 은 "아직 준비 안 됨" 을 의미하므로 반드시 codes.Unavailable 로 나가야 한다.
func GRPCCode(c ErrorCode) codes.Code {
	switch c {
	case ErrorCodeInvalidInput:
		return codes.InvalidArgument
	case ErrorCodeUnavailable:
		return codes.Unavailable
	case ErrorCodeNotFound:
		return codes.NotFound
	case ErrorCodeDeadlineExceeded:
		return codes.DeadlineExceeded
	case ErrorCodeCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// HTTPStatusCode 는 HTTP gateway(/v1/estimate) 용 매핑.
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case ErrorCodeCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Error 는 code + 메시지 + (선택) field/원인 에러를 담는 구조화 에러.
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
}

// Wire 는 HTTP 응답 바디로 나가는 JSON 형태.
type Wire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.orig }

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Field() string { return e.field }

func (e *Error) ToWire() Wire {
	return Wire{Code: e.code.String(), Message: e.Error(), Field: e.field}
}

// WireFrom 은 임의의 error 를 Wire 로 변환한다. 우리 에러가 아니면 unknown.
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown.String(), Message: err.Error()}
}

// As 는 체인 안에서 *Error 를 찾는다.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf 는 에러 코드를 추출한다. 없으면 Unknown.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// WithField 는 copy-on-write 로 field 를 붙인다. *Error 가 아니면 그대로 반환.
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

func InvalidInputf(format string, a ...any) error { return Newf(ErrorCodeInvalidInput, format, a...) }

func Unavailablef(format string, a ...any) error { return Newf(ErrorCodeUnavailable, format, a...) }

func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

func LoadErrorf(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeLoadError, format, a...)
}

func ChannelFailuref(orig error, format string, a ...any) error {
	return Wrapf(orig, ErrorCodeChannelFailure, format, a...)
}

func Internalf(format string, a ...any) error { return Newf(ErrorCodeInternal, format, a...) }

// FromContext 는 ctx.Err() 를 Deadline/Canceled 코드로 감싼다. ctx 가 살아있으면 nil.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrs.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrorCodeDeadlineExceeded, "deadline exceeded")
	case stderrs.Is(err, context.Canceled):
		return Wrap(err, ErrorCodeCanceled, "request canceled")
	default:
		return Wrap(err, ErrorCodeUnknown, "context error")
	}
}
