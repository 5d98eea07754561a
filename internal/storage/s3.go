// internal/storage/s3.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"priceest/internal/config"
	perr "priceest/internal/errors"
	"priceest/internal/metrics"
	"priceest/internal/pool"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// S3API 는 S3Store 가 쓰는 client 메서드만 모은 것 (*s3.Client 가 만족).
// 테스트에서는 fake 로 바꾼다.
type S3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store 는 MinIO(S3 호환) 모델 버킷에 대한 ObjectStore 구현.
//   - 모든 호출은 시도(attempt)당 S3Timeout
//   - 재시도는 애플리케이션 레벨(S3AppRetries) + exponential backoff 만 사용
//   - NotFound 류 에러는 재시도하지 않는다
//   - cache 가 있으면 Get 은 (key, 버전) 이 맞는 캐시를 먼저 본다
type S3Store struct {
	client  S3API
	bucket  string
	timeout time.Duration
	retries int
	metrics *metrics.Metrics
	cache   *ArtifactCache
	log     zerolog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option 은 S3Store 선택 설정.
type Option func(*S3Store)

// WithCache: 로컬 아티팩트 캐시 사용
func WithCache(c *ArtifactCache) Option {
	return func(s *S3Store) { s.cache = c }
}

// WithBackoff: 재시도 간격 (테스트에서 줄이는 용도)
func WithBackoff(base, max time.Duration) Option {
	return func(s *S3Store) {
		s.backoffBase = base
		s.backoffMax = max
	}
}

func NewS3Store(client S3API, bucket string, timeout time.Duration, retries int, m *metrics.Metrics, opts ...Option) *S3Store {
	if retries < 1 {
		retries = 1
	}
	s := &S3Store{
		client:      client,
		bucket:      bucket,
		timeout:     timeout,
		retries:     retries,
		metrics:     m,
		log:         zlog.Logger.With().Str("component", "storage").Str("bucket", bucket).Logger(),
		backoffBase: 200 * time.Millisecond,
		backoffMax:  2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewS3Client 는 MinIO endpoint 용 S3 client 를 만든다.
//   - 정적 access/secret key
//   - path-style 주소 (MinIO 기본)
//   - SDK retry 비활성 (재시도는 S3Store 가 담당)
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		ctx,
		awsCfgLib.WithRegion(cfg.MinioRegion),
		awsCfgLib.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := EndpointURL(cfg.MinioEndpoint, cfg.MinioSecure)

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.Retryer = aws.NopRetryer{}
	}), nil
}

// EndpointURL: scheme 이 없으면 secure 여부로 http/https 를 붙인다.
func EndpointURL(endpoint string, secure bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// EnsureBucket 은 모델 버킷이 존재하는지 확인한다. 기동 시 fail-fast 용.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	return s.withRetry(ctx, "head bucket", func(ctx context.Context) error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	})
}

// List 는 버킷의 모든 object 를 페이지 단위로 읽고,
// object 마다 HeadObject 로 creation-date 메타데이터를 가져온다.
func (s *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})

	var out []ObjectInfo
	for p.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := s.withRetry(ctx, "list", func(ctx context.Context) error {
			var err error
			page, err = p.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			info := ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}

			head, err := s.head(ctx, key)
			if err != nil {
				// 목록과 head 사이에 지워진 object 는 건너뛴다
				if perr.IsCode(err, perr.ErrorCodeNotFound) {
					continue
				}
				return nil, err
			}
			info.CreatedAt = CreationTime(head.Metadata, info.LastModified)
			info.Version = VersionOf(aws.ToString(head.ETag), info.LastModified)
			out = append(out, info)
		}
	}
	return out, nil
}

// Latest: List + PickLatest
func (s *S3Store) Latest(ctx context.Context) (ObjectInfo, error) {
	objs, err := s.List(ctx)
	if err != nil {
		return ObjectInfo{}, err
	}
	best, ok := PickLatest(objs)
	if !ok {
		return ObjectInfo{}, perr.NotFoundf("bucket %s has no model objects", s.bucket)
	}
	return best, nil
}

// Stat 은 HeadObject 한 번으로 key 의 현재 버전과 생성 시각을 읽는다.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	head, err := s.head(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	modified := aws.ToTime(head.LastModified)
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(head.ContentLength),
		LastModified: modified,
		CreatedAt:    CreationTime(head.Metadata, modified),
		Version:      VersionOf(aws.ToString(head.ETag), modified),
	}, nil
}

// Get 은 object 를 내려받아 (필요하면 압축을 풀어) 돌려준다.
//   - 캐시가 있으면 먼저 Stat 으로 현재 버전을 보고 (key, 버전) 이 맞을 때만 캐시를 쓴다
//   - 같은 key 에 새 아티팩트가 올라오면 버전이 달라져 다시 내려받는다
//   - 캐시 저장은 여기서 하지 않는다. 검증이 끝난 뒤 Keep 이 한다
func (s *S3Store) Get(ctx context.Context, key string) (Object, error) {
	if s.cache != nil {
		info, err := s.Stat(ctx, key)
		if err != nil {
			return Object{}, err
		}
		if raw, ok := s.loadCached(info); ok {
			return s.object(info, raw, true)
		}
	}

	info, raw, err := s.download(ctx, key)
	if err != nil {
		return Object{}, err
	}
	return s.object(info, raw, false)
}

func (s *S3Store) object(info ObjectInfo, raw []byte, cached bool) (Object, error) {
	data, err := Decompress(info.Key, raw)
	if err != nil {
		return Object{}, perr.LoadErrorf(err, "decompress %s", info.Key)
	}
	return Object{ObjectInfo: info, Data: data, raw: raw, cached: cached}, nil
}

// Keep 은 검증된 아티팩트의 원본 바이트를 (key, 버전) 으로 로컬 캐시에 쓴다.
// 버전을 모르는 object 나 이미 캐시에서 읽은 object 는 건너뛴다.
func (s *S3Store) Keep(obj Object) error {
	if s.cache == nil || obj.cached || obj.Version == "" || len(obj.raw) == 0 {
		return nil
	}
	return s.cache.Save(obj.Key, obj.Version, obj.raw)
}

func (s *S3Store) loadCached(info ObjectInfo) ([]byte, bool) {
	if info.Version == "" {
		return nil, false
	}
	data, ok := s.cache.Load(info.Key, info.Version)
	if ok {
		s.log.Debug().Str("key", info.Key).Str("version", info.Version).Msg("artifact cache hit")
	}
	return data, ok
}

// download 는 GetObject 응답 헤더로 버전/생성 시각을 채운다.
// Stat 과 GetObject 사이에 object 가 바뀌었어도 바이트와 버전은 서로 맞는다.
func (s *S3Store) download(ctx context.Context, key string) (ObjectInfo, []byte, error) {
	var (
		out  []byte
		info ObjectInfo
	)
	err := s.withRetry(ctx, "get "+key, func(ctx context.Context) error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		buf := pool.GetBuffer()
		defer pool.PutBuffer(buf)

		if _, err := io.Copy(buf, resp.Body); err != nil {
			return err
		}
		out = make([]byte, buf.Len())
		copy(out, buf.Bytes())

		modified := aws.ToTime(resp.LastModified)
		info = ObjectInfo{
			Key:          key,
			Size:         int64(len(out)),
			LastModified: modified,
			CreatedAt:    CreationTime(resp.Metadata, modified),
			Version:      VersionOf(aws.ToString(resp.ETag), modified),
		}
		return nil
	})
	return info, out, err
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	var out *s3.HeadObjectOutput
	err := s.withRetry(ctx, "head "+key, func(ctx context.Context) error {
		var err error
		out, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	return out, err
}

// withRetry
// ---------
// fn 을 최대 retries 번 호출한다.
//   - 시도마다 timeout 을 건 자식 ctx 사용
//   - 실패할 때마다 StorageGetErrorsTotal 증가
//   - not found 는 즉시 NotFound 로 반환
//   - shutdown(ctx.Done) 시 즉시 중단
func (s *S3Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	backoff := s.backoffBase

	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return perr.FromContext(err)
		}

		actx, cancel := context.WithTimeout(ctx, s.timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}

		atomic.AddInt64(&s.metrics.StorageGetErrorsTotal, 1)
		if isNotFound(err) {
			return perr.Wrapf(err, perr.ErrorCodeNotFound, "%s: not found", op)
		}
		lastErr = err
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("s3 call failed")

		if attempt == s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return perr.FromContext(ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > s.backoffMax {
				backoff = s.backoffMax
			}
		}
	}

	return perr.LoadErrorf(lastErr, "%s: giving up after %d attempts", op, s.retries)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
