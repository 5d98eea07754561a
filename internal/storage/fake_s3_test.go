package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	modified time.Time
	meta     map[string]string
	etag     string
}

// fakeS3 는 단일 버킷만 흉내낸다. pageSize 가 0 이면 한 페이지로 돌려준다.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	pageSize int

	getFailures int // 앞에서부터 이 횟수만큼 GetObject 를 일시 실패시킨다
	getCalls    int
	headCalls   int
	listCalls   int
	noBucket    bool
	puts        int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func (f *fakeS3) put(key string, data []byte, modified time.Time, creation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta := map[string]string{}
	if creation != "" {
		meta["creation-date"] = creation
	}
	// 같은 key 에 다시 put 하면 S3 처럼 ETag 가 바뀐다
	f.puts++
	etag := `"etag-` + strconv.Itoa(f.puts) + `"`
	f.objects[key] = fakeObject{data: data, modified: modified, meta: meta, etag: etag}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		o := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.modified),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++

	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		Metadata:      o.meta,
		LastModified:  aws.Time(o.modified),
		ContentLength: aws.Int64(int64(len(o.data))),
		ETag:          aws.String(o.etag),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++

	if f.getFailures > 0 {
		f.getFailures--
		return nil, errors.New("connection reset by peer")
	}
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(o.data)),
		Metadata:     o.meta,
		LastModified: aws.Time(o.modified),
		ETag:         aws.String(o.etag),
	}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.noBucket {
		return nil, &types.NoSuchBucket{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}
