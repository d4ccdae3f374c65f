// Package scripts stores the executable payloads that jobs run. Script
// bytes live in a pluggable backend keyed by script name, while metadata
// (size, checksum, MIME type) lives in the scripts table. Re-uploading a
// name replaces the stored bytes in place, so jobs referencing the name
// pick up the new version on their next fire.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/watzon/oncue/internal/config"
)

var (
	// ErrNotFound is returned when a script does not exist.
	ErrNotFound = errors.New("script not found")

	// ErrInUse is returned when deleting a script that jobs still reference.
	ErrInUse = errors.New("script is referenced by jobs")

	// ErrInvalidName is returned for script names that are not bare file names.
	ErrInvalidName = errors.New("invalid script name")

	// ErrInvalidConfig is returned when backend configuration is invalid.
	ErrInvalidConfig = errors.New("invalid scripts configuration")
)

// Backend stores raw script bytes keyed by script name.
type Backend interface {
	// Put stores the bytes read from r under key. Existing bytes for the
	// key are replaced. Size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get returns a reader for the stored bytes. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the stored bytes. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether bytes are stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewBackend builds the backend described by cfg, wrapped with
// compression when configured.
func NewBackend(ctx context.Context, cfg *config.ScriptsConfig) (Backend, error) {
	var backend Backend

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: filesystem backend requires a path", ErrInvalidConfig)
		}
		backend = NewFilesystemBackend(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 backend requires s3 settings", ErrInvalidConfig)
		}
		s3Backend, err := NewS3Backend(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Backend)
	}

	if cfg.Compression != "" && cfg.Compression != "none" {
		compressed, err := NewCompressedBackend(backend, cfg.Compression)
		if err != nil {
			return nil, err
		}
		backend = compressed
	}

	return backend, nil
}

// ValidateName rejects script names that are not bare file names. Names
// become backend keys and filesystem paths, so anything resembling a
// path is refused outright.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name exceeds 255 characters", ErrInvalidName)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name contains a null byte", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\\") || filepath.Clean(name) != name {
		return fmt.Errorf("%w: %q must be a bare file name", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q must be a bare file name", ErrInvalidName, name)
	}
	return nil
}
