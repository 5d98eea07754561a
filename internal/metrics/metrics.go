package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 서빙 런타임 상태를 나타내는 카운터 모음이다.
// 요청 경로와 리스너 양쪽에서 atomic 으로만 증가시키며, 읽기는 /metrics 에서만 한다.
type Metrics struct {
	// ======================
	// 예측 요청 (gRPC + HTTP gateway 합산)
	// ======================

	// EstimateRequestsTotal
	// - EstimatePrice 진입 횟수. 성공/실패와 관계없이 1씩 증가.
	EstimateRequestsTotal int64

	EstimateSuccessTotal int64

	// EstimateUnavailableTotal
	// - 활성 모델이 없어 Unavailable 로 응답한 요청 수.
	// - 기동 직후가 아닌데 이 값이 증가한다면 LoadLatest 실패 + 알림 미수신 상태.
	EstimateUnavailableTotal int64

	EstimateInvalidInputTotal int64

	// EstimateErrorsTotal
	// - 그 외 실패 (deadline, NaN 예측 등).
	EstimateErrorsTotal int64

	// ======================
	// 모델 로딩
	// ======================

	// ModelLoadsTotal
	// - 설치까지 성공한 로드 횟수 (LoadLatest + LoadByKey).
	ModelLoadsTotal int64

	// ModelLoadErrorsTotal
	// - 다운로드/디코딩/스키마 검증 실패. 기존 모델은 그대로 유지된다.
	ModelLoadErrorsTotal int64

	// ModelSwapsTotal
	// - atomic 포인터가 실제로 교체된 횟수.
	ModelSwapsTotal int64

	// ModelCacheHitsTotal
	// - 디코딩된 모델 LRU 에서 바로 재설치한 횟수 (중복 알림).
	ModelCacheHitsTotal int64

	// ======================
	// 알림 채널
	// ======================

	NotificationsReceivedTotal  int64
	NotificationsMalformedTotal int64

	// NotificationsIgnoredTotal
	// - 다른 버킷을 가리키는 알림이라 건너뛴 수.
	NotificationsIgnoredTotal int64

	// ======================
	// 스토리지 / 로컬 아티팩트 캐시
	// ======================

	// StorageGetErrorsTotal
	// - S3 호출 실패 "시도(attempt)" 횟수. 재시도마다 증가한다.
	StorageGetErrorsTotal int64

	// ArtifactCacheFilesCurrent / ArtifactCacheSizeBytes
	// - gauge. 기동 시 디렉토리 스캔으로 초기화되고 쓰기/삭제마다 증감.
	ArtifactCacheFilesCurrent int64
	ArtifactCacheSizeBytes    int64

	// ArtifactCacheEvictedTotal
	// - TTL 또는 용량 제한으로 삭제된 캐시 파일 수.
	ArtifactCacheEvictedTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "estimate_requests_total=%d\n", atomic.LoadInt64(&m.EstimateRequestsTotal))
	fmt.Fprintf(&sb, "estimate_success_total=%d\n", atomic.LoadInt64(&m.EstimateSuccessTotal))
	fmt.Fprintf(&sb, "estimate_unavailable_total=%d\n", atomic.LoadInt64(&m.EstimateUnavailableTotal))
	fmt.Fprintf(&sb, "estimate_invalid_input_total=%d\n", atomic.LoadInt64(&m.EstimateInvalidInputTotal))
	fmt.Fprintf(&sb, "estimate_errors_total=%d\n", atomic.LoadInt64(&m.EstimateErrorsTotal))

	fmt.Fprintf(&sb, "model_loads_total=%d\n", atomic.LoadInt64(&m.ModelLoadsTotal))
	fmt.Fprintf(&sb, "model_load_errors_total=%d\n", atomic.LoadInt64(&m.ModelLoadErrorsTotal))
	fmt.Fprintf(&sb, "model_swaps_total=%d\n", atomic.LoadInt64(&m.ModelSwapsTotal))
	fmt.Fprintf(&sb, "model_cache_hits_total=%d\n", atomic.LoadInt64(&m.ModelCacheHitsTotal))

	fmt.Fprintf(&sb, "notifications_received_total=%d\n", atomic.LoadInt64(&m.NotificationsReceivedTotal))
	fmt.Fprintf(&sb, "notifications_malformed_total=%d\n", atomic.LoadInt64(&m.NotificationsMalformedTotal))
	fmt.Fprintf(&sb, "notifications_ignored_total=%d\n", atomic.LoadInt64(&m.NotificationsIgnoredTotal))

	fmt.Fprintf(&sb, "storage_get_errors_total=%d\n", atomic.LoadInt64(&m.StorageGetErrorsTotal))
	fmt.Fprintf(&sb, "artifact_cache_files_current=%d\n", atomic.LoadInt64(&m.ArtifactCacheFilesCurrent))
	fmt.Fprintf(&sb, "artifact_cache_size_bytes=%d\n", atomic.LoadInt64(&m.ArtifactCacheSizeBytes))
	fmt.Fprintf(&sb, "artifact_cache_evicted_total=%d\n", atomic.LoadInt64(&m.ArtifactCacheEvictedTotal))

	return sb.String()
}
