package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/oncue/internal/database"
)

// Store handles database operations for execution records.
type Store struct {
	db *database.DB
}

// NewStore creates a new execution record store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// execContext is satisfied by both the database handle and a transaction.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a new execution record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	return s.insert(ctx, s.db, rec)
}

// CreateTx inserts a new execution record inside an open transaction.
// The scheduling loop uses this so the pending record lands atomically
// with the job claim that produced it.
func (s *Store) CreateTx(ctx context.Context, tx *database.Tx, rec *Record) error {
	return s.insert(ctx, tx, rec)
}

func (s *Store) insert(ctx context.Context, ec execContext, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Trigger == "" {
		rec.Trigger = TriggerSchedule
	}

	query := `
		INSERT INTO executions (id, job_id, job_name, trigger_kind, status, scheduled_at, started_at, finished_at, duration_ms, exit_code, output, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ec.ExecContext(ctx, query,
		rec.ID,
		rec.JobID,
		rec.JobName,
		string(rec.Trigger),
		string(rec.Status),
		database.FormatTime(rec.ScheduledAt),
		nullTime(rec.StartedAt),
		nullTime(rec.FinishedAt),
		rec.DurationMs,
		nullInt(rec.ExitCode),
		rec.Output,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting execution record: %w", err)
	}

	return nil
}

// MarkRunning transitions a pending record to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE executions
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(StatusRunning),
		database.FormatTime(startedAt),
		id,
		string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("marking execution running: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Finish writes the terminal state of a record.
func (s *Store) Finish(ctx context.Context, rec *Record) error {
	query := `
		UPDATE executions
		SET status = ?, started_at = ?, finished_at = ?, duration_ms = ?, exit_code = ?, output = ?, error = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(rec.Status),
		nullTime(rec.StartedAt),
		nullTime(rec.FinishedAt),
		rec.DurationMs,
		nullInt(rec.ExitCode),
		rec.Output,
		rec.Error,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing execution record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Get retrieves an execution record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, job_id, job_name, trigger_kind, status, scheduled_at, started_at, finished_at, duration_ms, exit_code, output, error
		FROM executions
		WHERE id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting execution record: %w", err)
	}

	return rec, nil
}

// List retrieves execution records matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, error) {
	query := `
		SELECT id, job_id, job_name, trigger_kind, status, scheduled_at, started_at, finished_at, duration_ms, exit_code, output, error
		FROM executions
		WHERE 1=1
	`
	args := []any{}

	if filter.JobID != "" {
		query += " AND job_id = ?"
		args = append(args, filter.JobID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Trigger != "" {
		query += " AND trigger_kind = ?"
		args = append(args, string(filter.Trigger))
	}
	if filter.Keyword != "" {
		query += " AND (output LIKE ? OR error LIKE ?)"
		pattern := "%" + filter.Keyword + "%"
		args = append(args, pattern, pattern)
	}
	if filter.From != nil {
		query += " AND scheduled_at >= ?"
		args = append(args, database.FormatTime(*filter.From))
	}
	if filter.To != nil {
		query += " AND scheduled_at < ?"
		args = append(args, database.FormatTime(*filter.To))
	}

	query += " ORDER BY scheduled_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution records: %w", err)
	}

	return records, nil
}

// CancelInFlight marks every pending or running record as canceled.
// Startup recovery calls this to close out records orphaned by an
// unclean shutdown.
func (s *Store) CancelInFlight(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE executions
		SET status = ?, finished_at = ?, error = ?
		WHERE status IN (?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		string(StatusCanceled),
		database.Now(),
		reason,
		string(StatusPending),
		string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("canceling in-flight records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// DeleteOlderThan removes terminal records scheduled before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	query := `
		DELETE FROM executions
		WHERE scheduled_at < ?
		  AND status IN ('success', 'failed', 'timed_out', 'canceled')
	`

	result, err := s.db.ExecContext(ctx, query, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old execution records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// CountByStatus reports how many records exist in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting execution records: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[Status(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	return counts, nil
}

// rowScanner is satisfied by sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var trigger, status, scheduledAt string
	var startedAt, finishedAt sql.NullString
	var durationMs, exitCode sql.NullInt64

	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.JobName,
		&trigger,
		&status,
		&scheduledAt,
		&startedAt,
		&finishedAt,
		&durationMs,
		&exitCode,
		&rec.Output,
		&rec.Error,
	)
	if err != nil {
		return nil, err
	}

	rec.Trigger = TriggerKind(trigger)
	rec.Status = Status(status)

	if rec.ScheduledAt, err = database.ParseTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("parsing scheduled_at: %w", err)
	}
	if startedAt.Valid {
		t, err := database.ParseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := database.ParseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		rec.FinishedAt = &t
	}
	if durationMs.Valid {
		rec.DurationMs = durationMs.Int64
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}

	return &rec, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
