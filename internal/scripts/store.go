package scripts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/oncue/internal/database"
)

// Script is stored metadata about an uploaded script. The bytes
// themselves live in the backend under the script's name.
type Script struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	MimeType string `json:"mime_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists script metadata.
type Store struct {
	db *database.DB
}

// NewStore creates a script metadata store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts metadata for a new script or refreshes it for a
// re-uploaded one. The original id and created_at survive re-uploads.
func (s *Store) Upsert(ctx context.Context, script *Script) error {
	// Second granularity so the struct matches what a later read returns.
	now := time.Now().UTC().Truncate(time.Second)
	if script.ID == "" {
		script.ID = uuid.New().String()
	}
	if script.CreatedAt.IsZero() {
		script.CreatedAt = now
	}
	script.UpdatedAt = now

	query := `
		INSERT INTO scripts (id, name, size, checksum, mime_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			size = excluded.size,
			checksum = excluded.checksum,
			mime_type = excluded.mime_type,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		script.ID,
		script.Name,
		script.Size,
		script.Checksum,
		script.MimeType,
		database.FormatTime(script.CreatedAt),
		database.FormatTime(script.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving script metadata: %w", database.ClassifyError(err))
	}

	return nil
}

// GetByName returns the metadata for the named script.
func (s *Store) GetByName(ctx context.Context, name string) (*Script, error) {
	query := `
		SELECT id, name, size, checksum, mime_type, created_at, updated_at
		FROM scripts
		WHERE name = ?
	`

	script, err := scanScript(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting script: %w", err)
	}

	return script, nil
}

// List returns all script metadata ordered by name.
func (s *Store) List(ctx context.Context) ([]*Script, error) {
	query := `
		SELECT id, name, size, checksum, mime_type, created_at, updated_at
		FROM scripts
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning script: %w", err)
		}
		scripts = append(scripts, script)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scripts: %w", err)
	}

	return scripts, nil
}

// Delete removes the metadata for the named script.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting script metadata: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func scanScript(row interface{ Scan(dest ...any) error }) (*Script, error) {
	var script Script
	var createdAt, updatedAt string

	err := row.Scan(
		&script.ID,
		&script.Name,
		&script.Size,
		&script.Checksum,
		&script.MimeType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if script.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if script.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &script, nil
}
