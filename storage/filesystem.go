package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Filesystem caches files below a root directory.
type Filesystem struct {
	root string
}

func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		return nil, fmt.Errorf("cache directory must not be empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Root() string {
	return f.root
}

// path resolves name inside the root; ".." and symlinks cannot escape it.
func (f *Filesystem) path(name string) (string, error) {
	p, err := securejoin.SecureJoin(f.root, filepath.FromSlash(name))
	if err != nil {
		return "", fmt.Errorf("invalid cache path %q: %w", name, err)
	}
	if p == filepath.Clean(f.root) {
		return "", fmt.Errorf("invalid cache path %q", name)
	}
	return p, nil
}

func (f *Filesystem) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotExist
		}
		return nil, 0, fmt.Errorf("failed to open cached file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat cached file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, ErrNotExist
	}
	return file, info.Size(), nil
}

// Put writes to a temporary file and renames it into place, so readers never
// see a partial file.
func (f *Filesystem) Put(ctx context.Context, name string, r io.Reader) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cached file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cached file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move cached file into place: %w", err)
	}

	slog.Debug("File cached", "path", p)
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, name string) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete cached file: %w", err)
	}
	return nil
}
