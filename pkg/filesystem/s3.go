package filesystem

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

const (
	s3Scheme = "s3://"

	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 4
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	s3.HeadObjectAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 backend.
type S3Options struct {
	Region string
	// Endpoint overrides the service endpoint (MinIO, localstack); path-style
	// addressing is used when it is set.
	Endpoint string
	// PartSize is the multipart upload part size.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel.
	Concurrency int
}

// S3 serves s3://bucket/key objects. Reads are ranged GetObject calls,
// writes stream through a multipart uploader.
type S3 struct {
	client   S3API
	uploader *manager.Uploader
}

// NewS3 creates an S3 backend from the default AWS credential chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FromClient(client, opts), nil
}

// NewS3FromClient creates an S3 backend over an existing client.
func NewS3FromClient(client S3API, opts S3Options) *S3 {
	partSize := opts.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = defaultUploadPartSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}

	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
		}),
	}
}

// Name implements FileSystem.
func (s *S3) Name() string { return "s3" }

// ParseS3Path splits s3://bucket/key into bucket and key.
func ParseS3Path(path string) (bucket, key string, err error) {
	if !IsS3Path(path) {
		return "", "", errors.Newf(errors.ErrorTypeValidation, "not an s3 path: %q", path)
	}
	rest := strings.TrimPrefix(path, s3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.Newf(errors.ErrorTypeValidation, "s3 path %q has no bucket", path)
	}
	return bucket, key, nil
}

// Open implements FileSystem.
func (s *S3) Open(ctx context.Context, path string) (File, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err, "failed to open object", path)
	}
	return &s3File{
		ctx:    ctx,
		client: s.client,
		bucket: bucket,
		key:    key,
		path:   path,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Create implements FileSystem. The object only appears once Commit
// completes the upload.
func (s *S3) Create(ctx context.Context, path string) (OutputFile, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return nil, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, errors.Newf(errors.ErrorTypeValidation, "s3 output path %q names no object", path)
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	out := &s3Output{
		path:   path,
		pw:     pw,
		cancel: cancel,
		done:   make(chan error, 1),
	}

	go func() {
		_, err := s.uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		out.done <- err
	}()

	return out, nil
}

// List implements FileSystem.
func (s *S3) List(ctx context.Context, path string) ([]FileInfo, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return nil, err
	}

	dirPrefix := key
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	var files []FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err, "failed to list objects", path)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if strings.HasSuffix(k, "/") {
				continue
			}
			if k != key && !strings.HasPrefix(k, dirPrefix) {
				continue
			}
			files = append(files, FileInfo{
				Path:   s3Scheme + bucket + "/" + k,
				Length: aws.ToInt64(obj.Size),
			})
		}
	}

	if len(files) == 0 {
		return nil, errors.New(errors.ErrorTypePathNotFound, "no objects under path").WithDetail("path", path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Exists implements FileSystem. A prefix with objects below it exists.
func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	isObj, err := s.isObject(ctx, path)
	if err != nil || isObj {
		return isObj, err
	}
	return s.IsDir(ctx, path)
}

// IsDir implements FileSystem. A bucket root or a prefix with objects
// below it is a directory.
func (s *S3) IsDir(ctx context.Context, path string) (bool, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return false, err
	}
	prefix := key
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, s3Error(err, "failed to list objects", path)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3) isObject(ctx context.Context, path string) (bool, error) {
	bucket, key, err := ParseS3Path(path)
	if err != nil {
		return false, err
	}
	if key == "" {
		return false, nil
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, s3Error(err, "failed to head object", path)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if stderrors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if stderrors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func s3Error(err error, msg, path string) *errors.Error {
	errType := errors.ErrorTypeIO
	if isNotFound(err) {
		errType = errors.ErrorTypePathNotFound
	}
	return errors.Wrap(err, errType, msg).WithDetail("path", path)
}

// s3File reads an object with ranged GetObject requests.
type s3File struct {
	ctx    context.Context
	client S3API
	bucket string
	key    string
	path   string
	size   int64

	mu     sync.Mutex
	offset int64
}

func (f *s3File) Size() int64 { return f.size }

func (f *s3File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "negative offset").WithDetail("path", f.path)
	}
	if off >= f.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p)) - 1
	if end >= f.size {
		end = f.size - 1
	}
	out, err := f.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, s3Error(err, "failed to read object range", f.path)
	}
	defer out.Body.Close()

	want := int(end - off + 1)
	n, err := io.ReadFull(out.Body, p[:want])
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeIO, "short read of object range").WithDetail("path", f.path)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *s3File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.size + offset
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation, "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "negative position").WithDetail("path", f.path)
	}
	f.offset = abs
	return abs, nil
}

func (f *s3File) Read(p []byte) (int, error) {
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()

	n, err := f.ReadAt(p, off)

	f.mu.Lock()
	f.offset += int64(n)
	f.mu.Unlock()
	return n, err
}

func (f *s3File) Close() error { return nil }

var errUploadAborted = stderrors.New("upload aborted")

// s3Output streams written bytes into an uploader goroutine through a pipe.
type s3Output struct {
	path   string
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error

	once sync.Once
	err  error
}

func (o *s3Output) Write(p []byte) (int, error) {
	n, err := o.pw.Write(p)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeIO, "failed to upload output").WithDetail("path", o.path)
	}
	return n, nil
}

func (o *s3Output) Commit() error {
	o.once.Do(func() {
		_ = o.pw.Close()
		if err := <-o.done; err != nil {
			o.err = errors.Wrap(err, errors.ErrorTypeIO, "failed to complete upload").WithDetail("path", o.path)
		}
		o.cancel()
	})
	return o.err
}

func (o *s3Output) Abort() error {
	o.once.Do(func() {
		_ = o.pw.CloseWithError(errUploadAborted)
		o.cancel()
		<-o.done
	})
	return nil
}
