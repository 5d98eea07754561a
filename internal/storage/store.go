// internal/storage/store.go
package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CreationDateLayout 은 trainer 가 user metadata "creation-date" 에 쓰는 ctime 형식.
// 예: "Wed May  1 12:00:00 2024"
const CreationDateLayout = "Mon Jan _2 15:04:05 2006"

// CreationDateMetaKey: S3 user metadata 키 (x-amz-meta- 접두사 제외)
const CreationDateMetaKey = "creation-date"

// ObjectInfo 는 모델 버킷 object 1개의 목록 정보.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time

	// CreatedAt 은 creation-date 메타데이터. 없거나 파싱 실패 시 LastModified.
	CreatedAt time.Time

	// Version 은 같은 key 에 다시 올라온 object 를 구분한다 (ETag, 없으면 LastModified).
	// 비어 있으면 버전을 알 수 없는 것이고, 캐시는 이 object 를 재사용하지 않는다.
	Version string
}

// Object 는 내려받은 아티팩트. Data 는 압축이 풀린 바이트.
type Object struct {
	ObjectInfo
	Data []byte

	raw    []byte // 저장소에 있는 그대로의 바이트 (로컬 캐시용)
	cached bool   // 로컬 캐시에서 읽었음
}

// ObjectStore 는 모델 아티팩트 저장소에서 필요한 연산만 모은 인터페이스.
// 구현은 S3Store (MinIO), 테스트는 메모리 fake.
type ObjectStore interface {
	// List 는 버킷 안의 모든 object 와 생성 시각을 돌려준다.
	List(ctx context.Context) ([]ObjectInfo, error)

	// Latest 는 생성 시각이 가장 큰 object 정보. 버킷이 비어있으면 NotFound.
	Latest(ctx context.Context) (ObjectInfo, error)

	// Stat 은 key 의 현재 정보(버전 포함)만 읽는다. 없는 key 면 NotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Get 은 object 를 내려받는다. gzip/zstd 압축은 이미 풀린 상태.
	// 없는 key 면 NotFound 코드 에러.
	Get(ctx context.Context, key string) (Object, error)

	// Keep 은 디코딩/검증을 통과한 object 를 로컬에 남긴다.
	// 검증 전의 바이트는 남기지 않는다. 캐시가 없으면 no-op.
	Keep(obj Object) error
}

// VersionOf 는 ETag(따옴표 제거)를 버전으로 쓰고, 없으면 LastModified 를 쓴다.
func VersionOf(etag string, modified time.Time) string {
	if v := strings.Trim(etag, `"`); v != "" {
		return v
	}
	if modified.IsZero() {
		return ""
	}
	return "mtime-" + strconv.FormatInt(modified.UnixNano(), 10)
}

// PickLatest 는 CreatedAt 최대값을 고른다. 동률이면 key 사전순 최대.
func PickLatest(objs []ObjectInfo) (ObjectInfo, bool) {
	if len(objs) == 0 {
		return ObjectInfo{}, false
	}
	best := objs[0]
	for _, o := range objs[1:] {
		if o.CreatedAt.After(best.CreatedAt) ||
			(o.CreatedAt.Equal(best.CreatedAt) && o.Key > best.Key) {
			best = o
		}
	}
	return best, true
}

// SortByCreation 은 오래된 것부터 정렬한다 (목록 출력/로그용).
func SortByCreation(objs []ObjectInfo) {
	sort.SliceStable(objs, func(i, j int) bool {
		if objs[i].CreatedAt.Equal(objs[j].CreatedAt) {
			return objs[i].Key < objs[j].Key
		}
		return objs[i].CreatedAt.Before(objs[j].CreatedAt)
	})
}

// CreationTime 은 metadata 에서 creation-date 를 찾아 파싱한다 (키 대소문자 무관).
// 없거나 형식이 틀리면 fallback 을 돌려준다.
func CreationTime(meta map[string]string, fallback time.Time) time.Time {
	for k, v := range meta {
		if !strings.EqualFold(k, CreationDateMetaKey) {
			continue
		}
		if t, err := time.Parse(CreationDateLayout, strings.TrimSpace(v)); err == nil {
			return t
		}
		break
	}
	return fallback
}
