// Package filesystem abstracts where parquet files live. Readers and writers
// only see the FileSystem interface; the Local backend serves local (or
// in-memory) files through afero and the S3 backend serves s3://bucket/key
// objects.
package filesystem

import (
	"context"
	"io"
	"strings"

	"github.com/ajitpratap0/pqshim/pkg/config"
)

// File is an open, random-access input file.
type File interface {
	io.ReaderAt
	io.Seeker
	io.Closer
	// Size returns the length of the file in bytes.
	Size() int64
}

// OutputFile is an uncommitted output. Bytes written are invisible at the
// destination until Commit succeeds; Abort discards them. Once either has
// been called the other is a no-op.
type OutputFile interface {
	io.Writer
	Commit() error
	Abort() error
}

// FileInfo describes a listed file.
type FileInfo struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// FileSystem is the storage a job reads from and writes to.
type FileSystem interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Open(ctx context.Context, path string) (File, error)
	Create(ctx context.Context, path string) (OutputFile, error)
	// List returns every regular file at or below path, sorted by path. A
	// file path lists itself.
	List(ctx context.Context, path string) ([]FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
}

// IsS3Path reports whether path is an s3:// URI.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, s3Scheme)
}

// ForPath returns the backend that serves path: S3 for s3:// URIs, the local
// filesystem otherwise.
func ForPath(ctx context.Context, path string, cfg *config.JobConfig) (FileSystem, error) {
	if IsS3Path(path) {
		if cfg == nil {
			cfg = config.NewJobConfig()
		}
		return NewS3(ctx, S3Options{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint})
	}
	return NewLocal(), nil
}

// Join appends name to a directory path of either backend.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
