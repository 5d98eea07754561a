// internal/storage/cache.go
package storage

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"priceest/internal/metrics"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ArtifactCache 는 검증을 통과한 모델 아티팩트를 로컬 디스크에 보관한다.
// 항목은 (key, 버전) 단위다. 같은 key 에 새 아티팩트가 올라오면 버전이 달라 miss 가 된다.
//   - 재기동 후 같은 (key, 버전) 알림이 오면 S3 다운로드 생략
//   - 같은 key 의 새 버전을 저장하면 이전 버전 파일은 지운다
//   - TTL(maxAge) 초과 파일은 Load/Save 시점에 삭제
//   - 전체 용량(maxBytes) 초과 시 가장 오래된 파일부터 삭제
//
// 파일명: "<unix>_<hex(version)>_<url.PathEscape(key)>" → 문자열 정렬 = 시간 정렬.
// 시작할 때 어떤 모델을 쓸지 고르는 데에는 사용하지 않는다.
type ArtifactCache struct {
	dir      string
	maxAge   time.Duration
	maxBytes int64
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sizeBytes int64 // 현재 디렉토리의 data 파일 총 바이트 수
}

// NewArtifactCache 는 디렉토리를 만들고 기존 파일을 스캔해
// 용량/파일 수 gauge 를 복원한다. 쓰다 만 임시 파일(.tmp-*)은 지운다.
func NewArtifactCache(dir string, maxAge time.Duration, maxBytes int64, m *metrics.Metrics) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact cache dir: %w", err)
	}

	c := &ArtifactCache{
		dir:      dir,
		maxAge:   maxAge,
		maxBytes: maxBytes,
		metrics:  m,
		log:      zlog.Logger.With().Str("component", "artifact_cache").Logger(),
		now:      time.Now,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact cache scan: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".tmp-") {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}
		if _, ok := parseCacheName(name); !ok {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	c.sizeBytes = total
	atomic.AddInt64(&m.ArtifactCacheSizeBytes, total)
	atomic.AddInt64(&m.ArtifactCacheFilesCurrent, count)

	return c, nil
}

// Load 는 (key, version) 의 캐시 파일을 읽는다. TTL 이 지났으면 지우고 miss 로 처리한다.
func (c *ArtifactCache) Load(key, version string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, e, ok := c.find(key)
	if !ok || e.version != version {
		return nil, false
	}
	if c.expired(e.sec) {
		c.removeLocked(name, "ttl")
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		c.log.Warn().Err(err).Str("file", name).Msg("artifact cache read failed")
		c.removeLocked(name, "unreadable")
		return nil, false
	}
	return data, true
}

// Save 는 (key, version) 의 아티팩트를 저장한다. 같은 key 의 다른 버전은 지운다.
// 용량을 확보하지 못하면 저장하지 않고 nil 을 돌려준다 (캐시는 best-effort).
func (c *ArtifactCache) Save(key, version string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if name, _, ok := c.find(key); ok {
		c.removeLocked(name, "replace")
	}
	c.sweepExpiredLocked()

	size := int64(len(data))
	if !c.ensureCapacity(size) {
		c.log.Warn().Str("key", key).Int64("bytes", size).Msg("artifact larger than cache capacity, not cached")
		return nil
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	final := filepath.Join(c.dir, cacheName(c.now().Unix(), version, key))
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	c.sizeBytes += size
	atomic.AddInt64(&c.metrics.ArtifactCacheSizeBytes, size)
	atomic.AddInt64(&c.metrics.ArtifactCacheFilesCurrent, 1)
	return nil
}

// SizeBytes: 현재 캐시 용량
func (c *ArtifactCache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}

// ensureCapacity 는 maxBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 더 없으면 false.
func (c *ArtifactCache) ensureCapacity(incoming int64) bool {
	if c.maxBytes <= 0 {
		return true
	}
	if incoming > c.maxBytes {
		return false
	}
	for c.sizeBytes+incoming > c.maxBytes {
		oldest := c.pickOldest()
		if oldest == "" {
			return false
		}
		c.removeLocked(oldest, "capacity")
	}
	return true
}

func (c *ArtifactCache) sweepExpiredLocked() {
	if c.maxAge <= 0 {
		return
	}
	for _, name := range c.names() {
		if e, ok := parseCacheName(name); ok && c.expired(e.sec) {
			c.removeLocked(name, "ttl")
		}
	}
}

func (c *ArtifactCache) expired(sec int64) bool {
	if c.maxAge <= 0 {
		return false
	}
	return c.now().Sub(time.Unix(sec, 0)) > c.maxAge
}

func (c *ArtifactCache) removeLocked(name, reason string) {
	path := filepath.Join(c.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		c.log.Warn().Err(err).Str("file", name).Msg("artifact cache remove failed")
		return
	}

	c.sizeBytes -= info.Size()
	atomic.AddInt64(&c.metrics.ArtifactCacheSizeBytes, -info.Size())
	atomic.AddInt64(&c.metrics.ArtifactCacheFilesCurrent, -1)
	if reason != "replace" {
		atomic.AddInt64(&c.metrics.ArtifactCacheEvictedTotal, 1)
	}
	c.log.Info().Str("file", name).Str("reason", reason).Msg("artifact cache evicted")
}

func (c *ArtifactCache) find(key string) (string, cacheEntry, bool) {
	for _, name := range c.names() {
		if e, ok := parseCacheName(name); ok && e.key == key {
			return name, e, true
		}
	}
	return "", cacheEntry{}, false
}

// pickOldest 는 파일명(=timestamp) 기준으로 가장 오래된 파일을 돌려준다.
// ReadDir 순서를 믿지 않고 직접 정렬한다.
func (c *ArtifactCache) pickOldest() string {
	files := c.names()
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool {
		ei, _ := parseCacheName(files[i])
		ej, _ := parseCacheName(files[j])
		if ei.sec != ej.sec {
			return ei.sec < ej.sec
		}
		return files[i] < files[j]
	})
	return files[0]
}

func (c *ArtifactCache) names() []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' {
			continue
		}
		if _, ok := parseCacheName(name); ok {
			files = append(files, name)
		}
	}
	return files
}

type cacheEntry struct {
	key     string
	version string
	sec     int64
}

func cacheName(sec int64, version, key string) string {
	return strconv.FormatInt(sec, 10) + "_" + hex.EncodeToString([]byte(version)) + "_" + url.PathEscape(key)
}

// parseCacheName: "<unix>_<hex(version)>_<escaped key>" → entry
func parseCacheName(name string) (cacheEntry, bool) {
	secPart, rest, ok := strings.Cut(name, "_")
	if !ok {
		return cacheEntry{}, false
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec <= 0 {
		return cacheEntry{}, false
	}
	verPart, keyPart, ok := strings.Cut(rest, "_")
	if !ok {
		return cacheEntry{}, false
	}
	version, err := hex.DecodeString(verPart)
	if err != nil {
		return cacheEntry{}, false
	}
	key, err := url.PathUnescape(keyPart)
	if err != nil || key == "" {
		return cacheEntry{}, false
	}
	return cacheEntry{key: key, version: string(version), sec: sec}, true
}
