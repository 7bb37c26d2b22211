package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// fakeS3 is an in-memory S3API keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]map[int32][]byte
	nextID  int
	gets    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func (f *fakeS3) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
}

func (f *fakeS3) object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	return data, ok
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey(in.Bucket, in.Key)] = data
	return &s3.PutObjectOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key, UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	parts[aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	nums := make([]int32, 0, len(parts))
	for n := range parts {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	var buf bytes.Buffer
	for _, n := range nums {
		buf.Write(parts[n])
	}
	f.objects[objectKey(in.Bucket, in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	var start, end int
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	if end >= len(data) {
		end = len(data) - 1
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[start : end+1]))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucketPrefix := aws.ToString(in.Bucket) + "/"
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, bucketPrefix) {
			continue
		}
		key := strings.TrimPrefix(k, bucketPrefix)
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	limit := len(keys)
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	for _, key := range keys[:limit] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.objects[bucketPrefix+key]))),
		})
	}
	return out, nil
}

func TestParseS3Path(t *testing.T) {
	bucket, key, err := ParseS3Path("s3://bucket/dir/file.parquet")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "dir/file.parquet", key)

	bucket, key, err = ParseS3Path("s3://bucket")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Empty(t, key)

	_, _, err = ParseS3Path("s3:///key")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, _, err = ParseS3Path("/local/path")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestS3OpenRangedReads(t *testing.T) {
	client := newFakeS3()
	client.put("bucket", "data/a.parquet", []byte("0123456789"))
	s := NewS3FromClient(client, S3Options{})

	f, err := s.Open(context.Background(), "s3://bucket/data/a.parquet")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(10), f.Size())

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = f.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = f.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)

	pos, err := f.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)
}

func TestS3OpenMissing(t *testing.T) {
	s := NewS3FromClient(newFakeS3(), S3Options{})
	_, err := s.Open(context.Background(), "s3://bucket/missing.parquet")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
}

func TestS3CreateCommitSinglePart(t *testing.T) {
	client := newFakeS3()
	s := NewS3FromClient(client, S3Options{})
	ctx := context.Background()

	out, err := s.Create(ctx, "s3://bucket/out/part-0.parquet")
	require.NoError(t, err)
	_, err = io.WriteString(out, "parquet bytes")
	require.NoError(t, err)
	require.NoError(t, out.Commit())
	require.NoError(t, out.Commit())

	data, ok := client.object("bucket", "out/part-0.parquet")
	require.True(t, ok)
	assert.Equal(t, "parquet bytes", string(data))
}

func TestS3CreateCommitMultipart(t *testing.T) {
	client := newFakeS3()
	s := NewS3FromClient(client, S3Options{PartSize: 5 * 1024 * 1024, Concurrency: 2})

	payload := bytes.Repeat([]byte("abcdefgh"), 1600*1024)
	out, err := s.Create(context.Background(), "s3://bucket/big.parquet")
	require.NoError(t, err)
	_, err = out.Write(payload)
	require.NoError(t, err)
	require.NoError(t, out.Commit())

	data, ok := client.object("bucket", "big.parquet")
	require.True(t, ok)
	assert.Equal(t, len(payload), len(data))
	assert.True(t, bytes.Equal(payload, data))
}

func TestS3CreateAbort(t *testing.T) {
	client := newFakeS3()
	s := NewS3FromClient(client, S3Options{})

	out, err := s.Create(context.Background(), "s3://bucket/out/part-0.parquet")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.WriteString(out, "partial")
	}()
	require.NoError(t, out.Abort())
	<-done
	require.NoError(t, out.Commit())

	_, ok := client.object("bucket", "out/part-0.parquet")
	assert.False(t, ok)
}

func TestS3CreateRejectsPrefix(t *testing.T) {
	s := NewS3FromClient(newFakeS3(), S3Options{})
	_, err := s.Create(context.Background(), "s3://bucket/out/")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestS3List(t *testing.T) {
	client := newFakeS3()
	client.put("bucket", "in/b.parquet", []byte("bb"))
	client.put("bucket", "in/a.parquet", []byte("a"))
	client.put("bucket", "in/sub/", nil)
	client.put("bucket", "input-other/x.parquet", []byte("x"))
	s := NewS3FromClient(client, S3Options{})
	ctx := context.Background()

	files, err := s.List(ctx, "s3://bucket/in")
	require.NoError(t, err)
	assert.Equal(t, []FileInfo{
		{Path: "s3://bucket/in/a.parquet", Length: 1},
		{Path: "s3://bucket/in/b.parquet", Length: 2},
	}, files)

	files, err = s.List(ctx, "s3://bucket/in/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, []FileInfo{{Path: "s3://bucket/in/a.parquet", Length: 1}}, files)

	_, err = s.List(ctx, "s3://bucket/nothing")
	assert.True(t, errors.IsType(err, errors.ErrorTypePathNotFound))
}

func TestS3ExistsAndIsDir(t *testing.T) {
	client := newFakeS3()
	client.put("bucket", "in/a.parquet", []byte("a"))
	s := NewS3FromClient(client, S3Options{})
	ctx := context.Background()

	ok, err := s.Exists(ctx, "s3://bucket/in/a.parquet")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "s3://bucket/in")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "s3://bucket/out")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.IsDir(ctx, "s3://bucket/in")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsDir(ctx, "s3://bucket/in/a.parquet")
	require.NoError(t, err)
	assert.False(t, ok)
}
