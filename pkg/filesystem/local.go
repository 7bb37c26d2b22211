package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// Local serves files from an afero filesystem, the OS filesystem by default.
type Local struct {
	fs afero.Fs
}

// NewLocal returns a Local backend over the OS filesystem.
func NewLocal() *Local {
	return &Local{fs: afero.NewOsFs()}
}

// NewLocalFromFs returns a Local backend over fs, typically an
// afero.NewMemMapFs() in tests.
func NewLocalFromFs(fs afero.Fs) *Local {
	return &Local{fs: fs}
}

// Name implements FileSystem.
func (l *Local) Name() string { return "local" }

// Fs exposes the underlying afero filesystem.
func (l *Local) Fs() afero.Fs { return l.fs }

// Open implements FileSystem.
func (l *Local) Open(_ context.Context, path string) (File, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, pathError(err, "failed to open file", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, pathError(err, "failed to stat file", path)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, errors.New(errors.ErrorTypeIO, "cannot open a directory as a file").WithDetail("path", path)
	}
	return &localFile{File: f, size: info.Size()}, nil
}

// Create implements FileSystem. Bytes go to a hidden temporary file next to
// path which Commit renames into place.
func (l *Local) Create(_ context.Context, path string) (OutputFile, error) {
	dir := filepath.Dir(path)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, pathError(err, "failed to create output directory", dir)
	}
	tmp, err := afero.TempFile(l.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, pathError(err, "failed to create temporary output", path)
	}
	return &localOutput{fs: l.fs, file: tmp, tmpPath: tmp.Name(), path: path}, nil
}

// List implements FileSystem.
func (l *Local) List(_ context.Context, path string) ([]FileInfo, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return nil, pathError(err, "failed to stat input path", path)
	}
	if !info.IsDir() {
		return []FileInfo{{Path: path, Length: info.Size()}}, nil
	}

	var files []FileInfo
	err = afero.Walk(l.fs, path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			files = append(files, FileInfo{Path: p, Length: fi.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, pathError(err, "failed to list input path", path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Exists implements FileSystem.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	ok, err := afero.Exists(l.fs, path)
	if err != nil {
		return false, pathError(err, "failed to check path", path)
	}
	return ok, nil
}

// IsDir implements FileSystem.
func (l *Local) IsDir(_ context.Context, path string) (bool, error) {
	ok, err := afero.IsDir(l.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pathError(err, "failed to check path", path)
	}
	return ok, nil
}

func pathError(err error, msg, path string) *errors.Error {
	errType := errors.ErrorTypeIO
	if os.IsNotExist(err) {
		errType = errors.ErrorTypePathNotFound
	}
	return errors.Wrap(err, errType, msg).WithDetail("path", path)
}

type localFile struct {
	afero.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }

type localOutput struct {
	fs      afero.Fs
	file    afero.File
	tmpPath string
	path    string
	done    bool
}

func (o *localOutput) Write(p []byte) (int, error) {
	if o.done {
		return 0, errors.New(errors.ErrorTypeValidation, "write to a finished output").WithDetail("path", o.path)
	}
	n, err := o.file.Write(p)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeIO, "failed to write output").WithDetail("path", o.path)
	}
	return n, nil
}

func (o *localOutput) Commit() error {
	if o.done {
		return nil
	}
	o.done = true

	if err := o.file.Sync(); err != nil {
		_ = o.file.Close()
		_ = o.fs.Remove(o.tmpPath)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to sync output").WithDetail("path", o.path)
	}
	if err := o.file.Close(); err != nil {
		_ = o.fs.Remove(o.tmpPath)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to close output").WithDetail("path", o.path)
	}
	if err := o.fs.Rename(o.tmpPath, o.path); err != nil {
		_ = o.fs.Remove(o.tmpPath)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to commit output").WithDetail("path", o.path)
	}
	return nil
}

func (o *localOutput) Abort() error {
	if o.done {
		return nil
	}
	o.done = true

	_ = o.file.Close()
	if err := o.fs.Remove(o.tmpPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to remove temporary output").WithDetail("path", o.tmpPath)
	}
	return nil
}
