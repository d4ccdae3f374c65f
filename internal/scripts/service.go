package scripts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/job"
)

// Service coordinates script bytes, their metadata, and the jobs that
// reference them.
type Service struct {
	store   *Store
	jobs    *job.Store
	backend Backend
}

// NewService creates a script service.
func NewService(store *Store, jobs *job.Store, backend Backend) *Service {
	return &Service{
		store:   store,
		jobs:    jobs,
		backend: backend,
	}
}

// Upload stores the script bytes under name and records its metadata.
// Uploading an existing name replaces the stored bytes; the metadata
// keeps its original id and created_at.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader, size int64) (*Script, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	existing, err := s.store.GetByName(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Sniff the content type from the first 512 bytes, then splice them
	// back in front of the remaining stream.
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	head = head[:n]

	hasher := sha256.New()
	counted := &countingReader{r: io.TeeReader(io.MultiReader(bytes.NewReader(head), r), hasher)}

	if err := s.backend.Put(ctx, name, counted, size); err != nil {
		return nil, fmt.Errorf("storing script: %w", err)
	}

	script := &Script{
		Name:     name,
		Size:     counted.n,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		MimeType: http.DetectContentType(head),
	}
	if existing != nil {
		script.ID = existing.ID
		script.CreatedAt = existing.CreatedAt
	}

	if err := s.store.Upsert(ctx, script); err != nil {
		// Roll back the stored bytes, but never for a re-upload: the
		// previous version is already overwritten and deleting would
		// leave referencing jobs with nothing to run.
		if existing == nil {
			_ = s.backend.Delete(ctx, name)
		}
		return nil, err
	}

	log.Info().
		Str("script", name).
		Int64("size", script.Size).
		Str("mime_type", script.MimeType).
		Msg("Script stored")

	return script, nil
}

// Get returns the metadata for the named script.
func (s *Service) Get(ctx context.Context, name string) (*Script, error) {
	return s.store.GetByName(ctx, name)
}

// List returns metadata for all scripts ordered by name.
func (s *Service) List(ctx context.Context) ([]*Script, error) {
	return s.store.List(ctx)
}

// Open returns the script content along with its metadata. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, name string) (io.ReadCloser, *Script, error) {
	script, err := s.store.GetByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.backend.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	return rc, script, nil
}

// Resolve materializes the named script into a private temp file and
// returns its path. The file keeps the script's extension so the
// executor can pick an interpreter. The caller runs cleanup once the
// execution finishes.
func (s *Service) Resolve(ctx context.Context, name string) (string, func(), error) {
	rc, err := s.backend.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "oncue-*"+filepath.Ext(name))
	if err != nil {
		return "", nil, fmt.Errorf("creating temp script: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("materializing script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing temp script: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o700); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("marking script executable: %w", err)
	}

	return tmp.Name(), cleanup, nil
}

// Delete removes the named script. Deletion is refused while any job
// still references the script.
func (s *Service) Delete(ctx context.Context, name string) error {
	if _, err := s.store.GetByName(ctx, name); err != nil {
		return err
	}

	count, err := s.jobs.CountByScript(ctx, name)
	if err != nil {
		return fmt.Errorf("counting script references: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s is used by %d jobs", ErrInUse, name, count)
	}

	if err := s.backend.Delete(ctx, name); err != nil {
		return fmt.Errorf("deleting script bytes: %w", err)
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}

	log.Info().Str("script", name).Msg("Script deleted")

	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
