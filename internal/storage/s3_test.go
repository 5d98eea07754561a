package storage

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	perr "priceest/internal/errors"
	"priceest/internal/metrics"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(f *fakeS3, retries int, opts ...Option) (*S3Store, *metrics.Metrics) {
	m := metrics.New()
	opts = append([]Option{WithBackoff(time.Millisecond, 2*time.Millisecond)}, opts...)
	return NewS3Store(f, "models", time.Second, retries, m, opts...), m
}

func TestListReadsCreationDateWithFallback(t *testing.T) {
	f := newFakeS3()
	f.pageSize = 1
	f.put("model_a.txt", []byte("a"), t0, "Wed May  1 09:00:00 2024")
	f.put("model_b.txt", []byte("b"), t0, "not a date")
	f.put("model_c.txt", []byte("c"), t0.Add(time.Hour), "")
	f.put("old/", nil, t0, "")

	s, _ := newStore(f, 1)
	objs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 3)

	byKey := map[string]ObjectInfo{}
	for _, o := range objs {
		byKey[o.Key] = o
	}
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), byKey["model_a.txt"].CreatedAt)
	assert.Equal(t, t0, byKey["model_b.txt"].CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), byKey["model_c.txt"].CreatedAt)
	assert.Equal(t, 4, f.listCalls)
}

func TestLatestPicksNewestCreationThenGreatestKey(t *testing.T) {
	f := newFakeS3()
	f.put("model_2024-04-01.txt", []byte("x"), t0.Add(48*time.Hour), "Mon Apr  1 10:00:00 2024")
	f.put("model_2024-05-01.txt", []byte("x"), t0, "Wed May  1 10:00:00 2024")
	f.put("model_2024-05-01b.txt", []byte("x"), t0, "Wed May  1 10:00:00 2024")

	s, _ := newStore(f, 1)
	best, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "model_2024-05-01b.txt", best.Key)
}

func TestLatestOnEmptyBucketIsNotFound(t *testing.T) {
	s, _ := newStore(newFakeS3(), 1)
	_, err := s.Latest(context.Background())
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestGetRetriesTransientFailures(t *testing.T) {
	f := newFakeS3()
	f.put("model.txt", []byte("tree=0"), t0, "")
	f.getFailures = 2

	s, m := newStore(f, 3)
	obj, err := s.Get(context.Background(), "model.txt")
	require.NoError(t, err)
	assert.Equal(t, "tree=0", string(obj.Data))
	assert.Equal(t, "etag-1", obj.Version)
	assert.Equal(t, 3, f.gets())
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.StorageGetErrorsTotal))
}

func TestGetGivesUpAsLoadError(t *testing.T) {
	f := newFakeS3()
	f.put("model.txt", []byte("tree=0"), t0, "")
	f.getFailures = 5

	s, _ := newStore(f, 2)
	_, err := s.Get(context.Background(), "model.txt")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeLoadError))
	assert.Equal(t, 2, f.gets())
}

func TestGetMissingKeyIsNotFoundWithoutRetry(t *testing.T) {
	f := newFakeS3()
	s, _ := newStore(f, 5)

	_, err := s.Get(context.Background(), "model_2024-05-01.txt")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
	assert.Equal(t, 1, f.gets())
}

func TestGetHonoursCanceledContext(t *testing.T) {
	f := newFakeS3()
	f.put("model.txt", []byte("x"), t0, "")
	s, _ := newStore(f, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, "model.txt")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeCanceled))
	assert.Equal(t, 0, f.gets())
}

func TestGetDecompressesArtifacts(t *testing.T) {
	plain := []byte("tree\nversion=v3\n")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll(plain, nil)
	require.NoError(t, enc.Close())

	f := newFakeS3()
	f.put("model.txt.gz", gz.Bytes(), t0, "")
	f.put("model.txt.zst", zst, t0, "")
	f.put("model-sniffed.bin", gz.Bytes(), t0, "")
	f.put("model.txt", plain, t0, "")

	s, _ := newStore(f, 1)
	for _, key := range []string{"model.txt.gz", "model.txt.zst", "model-sniffed.bin", "model.txt"} {
		obj, err := s.Get(context.Background(), key)
		require.NoError(t, err, key)
		assert.Equal(t, plain, obj.Data, key)
	}
}

func TestGetCorruptGzipIsLoadError(t *testing.T) {
	f := newFakeS3()
	f.put("model.txt.gz", []byte("definitely not gzip"), t0, "")

	s, _ := newStore(f, 1)
	_, err := s.Get(context.Background(), "model.txt.gz")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeLoadError))
}

func newCachedStore(t *testing.T, f *fakeS3) (*S3Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	cache, err := NewArtifactCache(t.TempDir(), time.Hour, 1<<20, m)
	require.NoError(t, err)
	return NewS3Store(f, "models", time.Second, 1, m, WithCache(cache)), m
}

func gzipBytes(t *testing.T, plain []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := gzip.NewWriter(&b)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return b.Bytes()
}

func TestGetUsesArtifactCacheAfterKeep(t *testing.T) {
	f := newFakeS3()
	f.put("models/model_1.txt", []byte("tree=1"), t0, "")
	s, m := newCachedStore(t, f)

	obj, err := s.Get(context.Background(), "models/model_1.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), atomic.LoadInt64(&m.ArtifactCacheFilesCurrent), "nothing cached before Keep")
	require.NoError(t, s.Keep(obj))

	for i := 0; i < 3; i++ {
		obj, err := s.Get(context.Background(), "models/model_1.txt")
		require.NoError(t, err)
		assert.Equal(t, "tree=1", string(obj.Data))
		require.NoError(t, s.Keep(obj))
	}
	assert.Equal(t, 1, f.gets())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.ArtifactCacheFilesCurrent))
}

func TestCorruptUploadIsNotCachedAndFixedUploadIsServed(t *testing.T) {
	f := newFakeS3()
	f.put("model_1.txt.gz", []byte("definitely not gzip"), t0, "")
	s, m := newCachedStore(t, f)

	_, err := s.Get(context.Background(), "model_1.txt.gz")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeLoadError))
	assert.Equal(t, int64(0), atomic.LoadInt64(&m.ArtifactCacheFilesCurrent))

	// 같은 key 로 고친 아티팩트를 다시 올린다
	f.put("model_1.txt.gz", gzipBytes(t, []byte("tree=fixed")), t0.Add(time.Minute), "")

	obj, err := s.Get(context.Background(), "model_1.txt.gz")
	require.NoError(t, err)
	assert.Equal(t, "tree=fixed", string(obj.Data))
	assert.Equal(t, 2, f.gets())
}

func TestOverwrittenKeyBypassesCachedVersion(t *testing.T) {
	f := newFakeS3()
	f.put("model_1.txt", []byte("tree=old"), t0, "")
	s, m := newCachedStore(t, f)

	obj, err := s.Get(context.Background(), "model_1.txt")
	require.NoError(t, err)
	require.NoError(t, s.Keep(obj))

	f.put("model_1.txt", []byte("tree=new"), t0.Add(time.Minute), "")

	obj, err = s.Get(context.Background(), "model_1.txt")
	require.NoError(t, err)
	assert.Equal(t, "tree=new", string(obj.Data))
	assert.Equal(t, "etag-2", obj.Version)
	require.NoError(t, s.Keep(obj))

	// 이전 버전 파일은 새 버전으로 대체됐다
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.ArtifactCacheFilesCurrent))
	assert.Equal(t, 2, f.gets())
}

func TestStatReportsVersionAndCreation(t *testing.T) {
	f := newFakeS3()
	f.put("model_1.txt", []byte("tree=1"), t0, "Wed May  1 09:00:00 2024")
	s, _ := newStore(f, 1)

	info, err := s.Stat(context.Background(), "model_1.txt")
	require.NoError(t, err)
	assert.Equal(t, "etag-1", info.Version)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), info.CreatedAt)
	assert.Equal(t, int64(6), info.Size)

	_, err = s.Stat(context.Background(), "missing.txt")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestKeepWithoutCacheIsNoop(t *testing.T) {
	f := newFakeS3()
	f.put("model_1.txt", []byte("tree=1"), t0, "")
	s, _ := newStore(f, 1)

	obj, err := s.Get(context.Background(), "model_1.txt")
	require.NoError(t, err)
	assert.NoError(t, s.Keep(obj))
}

func TestVersionOf(t *testing.T) {
	assert.Equal(t, "abc", VersionOf(`"abc"`, t0))
	assert.Equal(t, "mtime-1714564800000000000", VersionOf("", t0))
	assert.Equal(t, "", VersionOf("", time.Time{}))
}

func TestEnsureBucket(t *testing.T) {
	f := newFakeS3()
	s, _ := newStore(f, 1)
	assert.NoError(t, s.EnsureBucket(context.Background()))

	f.noBucket = true
	err := s.EnsureBucket(context.Background())
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", EndpointURL("minio:9000", false))
	assert.Equal(t, "https://minio:9000", EndpointURL("minio:9000", true))
	assert.Equal(t, "http://already:9000", EndpointURL("http://already:9000", true))
}

func TestPickLatestAndSort(t *testing.T) {
	objs := []ObjectInfo{
		{Key: "b", CreatedAt: t0},
		{Key: "c", CreatedAt: t0.Add(-time.Hour)},
		{Key: "a", CreatedAt: t0},
	}
	best, ok := PickLatest(objs)
	require.True(t, ok)
	assert.Equal(t, "b", best.Key)

	SortByCreation(objs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{objs[0].Key, objs[1].Key, objs[2].Key})

	_, ok = PickLatest(nil)
	assert.False(t, ok)
}

func TestCreationTimeMetaKeyIsCaseInsensitive(t *testing.T) {
	got := CreationTime(map[string]string{"Creation-Date": "Fri Mar 15 08:30:00 2024"}, t0)
	assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC), got)
}
