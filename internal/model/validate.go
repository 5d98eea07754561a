package model

import (
	"reflect"
	"strings"
	"sync"

	perr "priceest/internal/errors"

	"github.com/go-playground/validator/v10"
)

var (
	vOnce sync.Once
	v     *validator.Validate
)

func validate() *validator.Validate {
	vOnce.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())

		// 메시지에는 json 태그 이름을 쓴다
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = v.RegisterValidation("airport_code", isAirportCode)
	})
	return v
}

// isAirportCode: IATA(3) / ICAO(4) 형태의 영숫자. 어휘집에 없는 코드도 통과한다.
func isAirportCode(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if len(s) < 3 || len(s) > 4 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Validate 는 struct 태그 검증을 돌리고 첫 번째 실패를 InvalidInput 으로 바꾼다.
func Validate(s any) error {
	err := validate().Struct(s)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return perr.WithField(perr.InvalidInputf("%s failed %q validation", fe.Field(), fe.Tag()), fe.Field())
	}
	return perr.InvalidInputf("validation: %v", err)
}
