package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 예측 요청마다 feature 벡터가 할당되고, 모델 교체 때마다
// 수 MB 짜리 아티팩트를 버퍼에 받는다.
// 요청 경로의 할당을 줄이고 큰 버퍼는 재사용한다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - S3 다운로드 / 압축 해제 결과를 담는 임시 버퍼
	//   - 초기 용량 1MB (LightGBM 텍스트 아티팩트 기준)
	//   - MaxBufferCap 초과 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 1*1024*1024))
		},
	}

	// FeaturePool:
	//   - 요청당 feature 벡터 재사용
	//   - 길이는 GetFeatures 호출 측(스키마 길이)이 정한다
	FeaturePool = sync.Pool{
		New: func() any {
			s := make([]float64, 0, 16)
			return &s
		},
	}

	// GzipReaderPool:
	//   - gzip.Reader 재사용. 풀에서 꺼낸 뒤 반드시 Reset 해서 사용
	GzipReaderPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 GC 에 맡긴다.
const MaxBufferCap = 64 * 1024 * 1024 // 64MB

// GetBuffer: 비어있는 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 반환 후에는 buf.Bytes() 로 얻은 슬라이스를 더 이상 참조하면 안 된다
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// GetFeatures: 길이 n, 0 으로 채워진 벡터를 꺼낸다.
func GetFeatures(n int) *[]float64 {
	p := FeaturePool.Get().(*[]float64)
	s := *p
	if cap(s) < n {
		s = make([]float64, n)
	} else {
		s = s[:n]
		for i := range s {
			s[i] = 0
		}
	}
	*p = s
	return p
}

// PutFeatures: 벡터를 풀로 돌려준다.
func PutFeatures(p *[]float64) {
	*p = (*p)[:0]
	FeaturePool.Put(p)
}
