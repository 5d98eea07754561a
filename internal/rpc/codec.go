// internal/rpc/codec.go
package rpc

import (
	"github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// CodecName 은 content-subtype. 클라이언트는 application/grpc+json 으로 호출한다.
const CodecName = "json"

// Codec 은 요청/응답 DTO 를 JSON 으로 직렬화하는 gRPC codec.
// proto 코드 생성 없이 model 패키지의 wire 타입을 그대로 쓴다.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
