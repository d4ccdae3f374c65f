package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/trigger"
)

// Store handles database operations for jobs.
type Store struct {
	db *database.DB
}

// NewStore creates a new job store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job, computing its first fire time when the job
// is enabled and none was supplied.
func (s *Store) Create(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}

	if j.Enabled && j.NextFireAt == nil {
		next, err := trigger.Next(&j.Rule, j.Timezone, j.LastFireAt, now)
		if err != nil {
			return fmt.Errorf("computing initial fire time: %w", err)
		}
		j.NextFireAt = next
	}

	ruleJSON, err := json.Marshal(j.Rule)
	if err != nil {
		return fmt.Errorf("marshaling rule: %w", err)
	}

	query := `
		INSERT INTO jobs (id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		j.ID,
		j.Name,
		j.ScriptRef,
		string(j.Rule.Kind),
		string(ruleJSON),
		j.Timezone,
		j.Enabled,
		nullTime(j.NextFireAt),
		nullTime(j.LastFireAt),
		nullTime(j.ClaimedAt),
		j.TimeoutSeconds,
		j.LastError,
		database.FormatTime(j.CreatedAt),
		database.FormatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", database.ClassifyError(err))
	}

	return nil
}

// Update rewrites every mutable column of the job.
func (s *Store) Update(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now().UTC()

	ruleJSON, err := json.Marshal(j.Rule)
	if err != nil {
		return fmt.Errorf("marshaling rule: %w", err)
	}

	query := `
		UPDATE jobs
		SET name = ?, script_ref = ?, rule_kind = ?, rule = ?, timezone = ?, enabled = ?, next_fire_at = ?, last_fire_at = ?, claimed_at = ?, timeout_seconds = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		j.Name,
		j.ScriptRef,
		string(j.Rule.Kind),
		string(ruleJSON),
		j.Timezone,
		j.Enabled,
		nullTime(j.NextFireAt),
		nullTime(j.LastFireAt),
		nullTime(j.ClaimedAt),
		j.TimeoutSeconds,
		j.LastError,
		database.FormatTime(j.UpdatedAt),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", database.ClassifyError(err))
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

// Delete removes a job. Its execution records stay behind.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
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

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`

	j, err := s.scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}

	return j, nil
}

// GetByName retrieves a job by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Job, error) {
	query := `
		SELECT id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at
		FROM jobs
		WHERE name = ?
	`

	j, err := s.scanJob(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job by name: %w", err)
	}

	return j, nil
}

// List retrieves jobs matching the filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	query := `
		SELECT id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []any{}

	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}
	if filter.Kind != "" {
		query += " AND rule_kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Name != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Name+"%")
	}

	query += " ORDER BY " + sortClause(filter.Sort)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := s.scanJobs(rows)
	if err != nil {
		return nil, err
	}

	if filter.Glob != "" {
		matcher, err := glob.Compile(filter.Glob)
		if err != nil {
			return nil, fmt.Errorf("compiling name glob: %w", err)
		}
		matched := jobs[:0]
		for _, j := range jobs {
			if matcher.Match(j.Name) {
				matched = append(matched, j)
			}
		}
		jobs = matched
	}

	return jobs, nil
}

// sortClause maps a sort key onto a whitelisted ORDER BY clause.
func sortClause(sort string) string {
	switch sort {
	case "created_at":
		return "created_at ASC"
	case "next_fire_at":
		// Jobs without a fire time (disabled, exhausted) sort last.
		return "next_fire_at IS NULL, next_fire_at ASC"
	default:
		return "name ASC"
	}
}

// GetDue retrieves unclaimed enabled jobs whose fire time has arrived.
func (s *Store) GetDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	query := `
		SELECT id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at
		FROM jobs
		WHERE enabled = 1
		  AND claimed_at IS NULL
		  AND next_fire_at IS NOT NULL
		  AND next_fire_at <= ?
		ORDER BY next_fire_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, database.FormatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due jobs: %w", err)
	}
	defer rows.Close()

	return s.scanJobs(rows)
}

// Claim marks a due job as handed to the executor. The guard re-checks
// everything the due query saw, so exactly one concurrent claimer wins
// and a job whose schedule was mutated in between is skipped.
func (s *Store) Claim(ctx context.Context, tx *database.Tx, jobID string, observed, now time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND enabled = 1
		  AND claimed_at IS NULL
		  AND next_fire_at = ?
	`

	result, err := tx.ExecContext(ctx, query,
		database.FormatTime(now),
		database.FormatTime(now),
		jobID,
		database.FormatTime(observed),
	)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows == 1, nil
}

// Reschedule advances a claimed job past a consumed fire time and
// releases the claim. A nil next parks the job, which is how once rules
// end up after their single fire.
func (s *Store) Reschedule(ctx context.Context, jobID string, firedAt time.Time, next *time.Time) error {
	query := `
		UPDATE jobs
		SET next_fire_at = ?, last_fire_at = ?, claimed_at = NULL, last_error = '', updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		nullTime(next),
		database.FormatTime(firedAt),
		database.Now(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("rescheduling job: %w", err)
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

// MarkDegraded records a bookkeeping failure on the job. The claim mark
// stays in place so the loop cannot refire a job whose reschedule never
// landed; re-enabling the job or a restart clears it.
func (s *Store) MarkDegraded(ctx context.Context, jobID, message string) error {
	query := `UPDATE jobs SET last_error = ?, updated_at = ? WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, message, database.Now(), jobID); err != nil {
		return fmt.Errorf("marking job degraded: %w", err)
	}

	return nil
}

// SetEnabled flips the enabled flag. Enabling recomputes the fire time
// from the current instant and clears any degraded state; disabling
// parks the job with no fire time.
func (s *Store) SetEnabled(ctx context.Context, jobID string, enabled bool) (*Job, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Enabled == enabled {
		return j, nil
	}

	j.Enabled = enabled
	j.ClaimedAt = nil
	if enabled {
		next, err := trigger.Next(&j.Rule, j.Timezone, j.LastFireAt, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("computing fire time: %w", err)
		}
		j.NextFireAt = next
		j.LastError = ""
	} else {
		j.NextFireAt = nil
	}

	if err := s.Update(ctx, j); err != nil {
		return nil, err
	}

	return j, nil
}

// UpdateNextFire moves a job's fire time without touching claim state.
func (s *Store) UpdateNextFire(ctx context.Context, jobID string, next *time.Time) error {
	query := `UPDATE jobs SET next_fire_at = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, nullTime(next), database.Now(), jobID)
	if err != nil {
		return fmt.Errorf("updating fire time: %w", err)
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

// ResetClaims clears claim marks left behind by an unclean shutdown.
func (s *Store) ResetClaims(ctx context.Context) (int64, error) {
	query := `UPDATE jobs SET claimed_at = NULL, updated_at = ? WHERE claimed_at IS NOT NULL`

	result, err := s.db.ExecContext(ctx, query, database.Now())
	if err != nil {
		return 0, fmt.Errorf("resetting claims: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// ListStale returns enabled jobs whose fire time fell behind now. Once
// rules are excluded: a missed once fire is still delivered.
func (s *Store) ListStale(ctx context.Context, now time.Time) ([]*Job, error) {
	query := `
		SELECT id, name, script_ref, rule_kind, rule, timezone, enabled, next_fire_at, last_fire_at, claimed_at, timeout_seconds, last_error, created_at, updated_at
		FROM jobs
		WHERE enabled = 1
		  AND next_fire_at IS NOT NULL
		  AND next_fire_at < ?
		  AND rule_kind != 'once'
		ORDER BY next_fire_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying stale jobs: %w", err)
	}
	defer rows.Close()

	return s.scanJobs(rows)
}

// CountByScript reports how many jobs reference the given script.
func (s *Store) CountByScript(ctx context.Context, scriptRef string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE script_ref = ?`, scriptRef).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting jobs by script: %w", err)
	}
	return count, nil
}

// Counts reports table totals.
func (s *Store) Counts(ctx context.Context) (Stats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(enabled), 0),
		       COALESCE(SUM(CASE WHEN last_error != '' THEN 1 ELSE 0 END), 0)
		FROM jobs
	`

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Enabled, &stats.Degraded); err != nil {
		return Stats{}, fmt.Errorf("counting jobs: %w", err)
	}

	return stats, nil
}

// scanJob scans a single row into a Job struct.
func (s *Store) scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var ruleKind, ruleJSON string
	var nextFire, lastFire, claimed sql.NullString
	var createdAt, updatedAt string
	var enabled int

	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.ScriptRef,
		&ruleKind,
		&ruleJSON,
		&j.Timezone,
		&enabled,
		&nextFire,
		&lastFire,
		&claimed,
		&j.TimeoutSeconds,
		&j.LastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := s.populateJob(&j, ruleKind, ruleJSON, nextFire, lastFire, claimed, createdAt, updatedAt, enabled); err != nil {
		return nil, err
	}

	return &j, nil
}

// scanJobs scans rows into Job structs.
func (s *Store) scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job

	for rows.Next() {
		var j Job
		var ruleKind, ruleJSON string
		var nextFire, lastFire, claimed sql.NullString
		var createdAt, updatedAt string
		var enabled int

		err := rows.Scan(
			&j.ID,
			&j.Name,
			&j.ScriptRef,
			&ruleKind,
			&ruleJSON,
			&j.Timezone,
			&enabled,
			&nextFire,
			&lastFire,
			&claimed,
			&j.TimeoutSeconds,
			&j.LastError,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}

		if err := s.populateJob(&j, ruleKind, ruleJSON, nextFire, lastFire, claimed, createdAt, updatedAt, enabled); err != nil {
			return nil, err
		}

		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}

	return jobs, nil
}

// populateJob decodes the serialized columns shared by every scan.
func (s *Store) populateJob(j *Job, ruleKind, ruleJSON string, nextFire, lastFire, claimed sql.NullString, createdAt, updatedAt string, enabled int) error {
	if err := json.Unmarshal([]byte(ruleJSON), &j.Rule); err != nil {
		return fmt.Errorf("unmarshaling rule: %w", err)
	}
	// The indexed column is authoritative for the kind.
	j.Rule.Kind = trigger.Kind(ruleKind)

	j.Enabled = enabled == 1

	var err error
	if j.NextFireAt, err = parseNullTime(nextFire, "next_fire_at"); err != nil {
		return err
	}
	if j.LastFireAt, err = parseNullTime(lastFire, "last_fire_at"); err != nil {
		return err
	}
	if j.ClaimedAt, err = parseNullTime(claimed, "claimed_at"); err != nil {
		return err
	}

	if j.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}

	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString, column string) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := database.ParseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", column, err)
	}
	return &t, nil
}
