package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrInvalidPermissions = errors.New("insecure file permissions: file accessible to other users")

// File stores a blob in a single owner-only file. Writes go through a
// temporary file in the same directory followed by a rename.
type File struct {
	path string
}

var _ Blob = (*File)(nil)

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Load(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(f.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", f.path, err)
	}

	if err := checkFilePermissions(f.path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return data, nil
}

func (f *File) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := setFilePermissions(name); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := os.Rename(name, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (f *File) Delete(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}

// PreparePrivateFile makes sure path exists with owner-only access before
// another component opens it. A missing file is created with mode 0600; an
// existing file other users can read is rejected with ErrInvalidPermissions.
func PreparePrivateFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	switch {
	case err == nil:
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		if err := setFilePermissions(path); err != nil {
			return fmt.Errorf("set permissions: %w", err)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return checkFilePermissions(path)
	default:
		return fmt.Errorf("create %s: %w", path, err)
	}
}
