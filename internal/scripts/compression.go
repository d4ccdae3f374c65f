package scripts

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressedBackend wraps another backend and transparently compresses
// script bytes at rest. Callers always see the uncompressed stream.
type CompressedBackend struct {
	backend Backend
	algo    string
}

// NewCompressedBackend wraps backend with the given compression
// algorithm, one of "gzip" or "zstd".
func NewCompressedBackend(backend Backend, algo string) (*CompressedBackend, error) {
	switch algo {
	case "gzip", "zstd":
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, algo)
	}
	return &CompressedBackend{backend: backend, algo: algo}, nil
}

// Put compresses the stream and stores it in the underlying backend.
// The stored size differs from the input size, so -1 is passed through.
func (c *CompressedBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()

	go func() {
		cw, err := c.newWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(cw, r); err != nil {
			cw.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(cw.Close())
	}()

	if err := c.backend.Put(ctx, key, pr, -1); err != nil {
		pr.CloseWithError(err)
		return err
	}

	return nil
}

// Get returns a reader that decompresses the stored stream on the fly.
func (c *CompressedBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	switch c.algo {
	case "gzip":
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return &decompressReader{Reader: gz, close: func() error {
			gz.Close()
			return rc.Close()
		}}, nil
	case "zstd":
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return &decompressReader{Reader: zr.IOReadCloser(), close: func() error {
			zr.Close()
			return rc.Close()
		}}, nil
	default:
		rc.Close()
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, c.algo)
	}
}

// Delete removes the stored bytes.
func (c *CompressedBackend) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

// Exists reports whether bytes are stored under key.
func (c *CompressedBackend) Exists(ctx context.Context, key string) (bool, error) {
	return c.backend.Exists(ctx, key)
}

func (c *CompressedBackend) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.algo {
	case "gzip":
		return gzip.NewWriter(w), nil
	case "zstd":
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, c.algo)
	}
}

type decompressReader struct {
	io.Reader
	close func() error
}

func (d *decompressReader) Close() error {
	return d.close()
}
