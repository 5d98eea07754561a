package storage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"priceest/internal/pool"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DecodeAll 은 여러 goroutine 에서 동시에 불러도 안전하다.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// Compression 은 아티팩트 압축 형식.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Detect 는 key 확장자를 먼저 보고, 없으면 magic bytes 로 판단한다.
func Detect(key string, data []byte) Compression {
	lk := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lk, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(lk, ".zst"), strings.HasSuffix(lk, ".zstd"):
		return CompressionZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// Decompress 는 압축된 아티팩트를 풀어서 새 슬라이스로 돌려준다 (호출자 소유).
// 압축이 아니면 data 를 그대로 돌려준다.
func Decompress(key string, data []byte) ([]byte, error) {
	switch Detect(key, data) {
	case CompressionGzip:
		return gunzip(data)
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", key, err)
		}
		return out, nil
	default:
		return data, nil
	}
}

func gunzip(data []byte) ([]byte, error) {
	zr := pool.GzipReaderPool.Get().(*gzip.Reader)
	defer pool.GzipReaderPool.Put(zr)

	if err := zr.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, zr); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}

	// pool 버퍼를 그대로 넘기면 재사용 시 데이터가 덮어써진다 → 복사
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
