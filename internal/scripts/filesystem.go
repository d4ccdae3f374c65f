package scripts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilesystemBackend stores script bytes as plain files under a base
// directory, one file per script name.
type FilesystemBackend struct {
	basePath string
}

// NewFilesystemBackend creates a filesystem backend rooted at basePath.
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath}
}

func (f *FilesystemBackend) filePath(key string) (string, error) {
	// Keys are validated upstream, but the backend is also reachable
	// from the watcher and tests, so it refuses path-like keys itself.
	if err := ValidateName(key); err != nil {
		return "", err
	}
	return filepath.Join(f.basePath, key), nil
}

// Put stores the script bytes, replacing any previous content.
func (f *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	path, err := f.filePath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.basePath, 0o755); err != nil {
		return fmt.Errorf("creating scripts directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating script file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing script file: %w", err)
	}

	return nil
}

// Get opens the stored script bytes for reading.
func (f *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := f.filePath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening script file: %w", err)
	}

	return file, nil
}

// Delete removes the stored script bytes.
func (f *FilesystemBackend) Delete(ctx context.Context, key string) error {
	path, err := f.filePath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("deleting script file: %w", err)
	}

	return nil
}

// Exists reports whether script bytes are stored under key.
func (f *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.filePath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking script file: %w", err)
	}

	return true, nil
}
