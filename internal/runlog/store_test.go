package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
)

func testStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return NewStore(db), db
}

func pendingRecord(jobID, jobName string, scheduledAt time.Time) *Record {
	return &Record{
		JobID:       jobID,
		JobName:     jobName,
		ScheduledAt: scheduledAt,
	}
}

func TestStore_CreateDefaults(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	rec := pendingRecord("job-1", "backup", time.Now().UTC())
	require.NoError(t, store.Create(ctx, rec))
	require.NotEmpty(t, rec.ID)

	retrieved, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, retrieved.Status)
	require.Equal(t, TriggerSchedule, retrieved.Trigger)
	require.Equal(t, "backup", retrieved.JobName)
	require.Nil(t, retrieved.StartedAt)
	require.Nil(t, retrieved.FinishedAt)
	require.Nil(t, retrieved.ExitCode)
}

func TestStore_CreateTx(t *testing.T) {
	store, db := testStore(t)
	ctx := context.Background()

	rec := pendingRecord("job-1", "backup", time.Now().UTC())
	err := db.Transaction(ctx, func(tx *database.Tx) error {
		return store.CreateTx(ctx, tx, rec)
	})
	require.NoError(t, err)

	_, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
}

func TestStore_GetNotFound(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MarkRunning(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	rec := pendingRecord("job-1", "backup", time.Now().UTC())
	require.NoError(t, store.Create(ctx, rec))

	startedAt := time.Now().UTC()
	require.NoError(t, store.MarkRunning(ctx, rec.ID, startedAt))

	retrieved, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, retrieved.Status)
	require.NotNil(t, retrieved.StartedAt)

	// Only pending records transition to running.
	require.ErrorIs(t, store.MarkRunning(ctx, rec.ID, startedAt), ErrNotFound)
}

func TestStore_Finish(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	scheduledAt := time.Now().UTC()
	rec := pendingRecord("job-1", "backup", scheduledAt)
	require.NoError(t, store.Create(ctx, rec))

	startedAt := scheduledAt.Add(time.Second)
	finishedAt := startedAt.Add(3 * time.Second)
	exitCode := 0
	rec.Status = StatusSuccess
	rec.StartedAt = &startedAt
	rec.FinishedAt = &finishedAt
	rec.DurationMs = 3000
	rec.ExitCode = &exitCode
	rec.Output = "42 rows archived\n"

	require.NoError(t, store.Finish(ctx, rec))

	retrieved, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, retrieved.Status)
	require.Equal(t, int64(3000), retrieved.DurationMs)
	require.NotNil(t, retrieved.ExitCode)
	require.Zero(t, *retrieved.ExitCode)
	require.Equal(t, "42 rows archived\n", retrieved.Output)

	missing := pendingRecord("job-1", "backup", scheduledAt)
	missing.ID = "nonexistent"
	missing.Status = StatusFailed
	require.ErrorIs(t, store.Finish(ctx, missing), ErrNotFound)
}

func TestStore_ListFilters(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC)

	first := pendingRecord("job-a", "backup", base)
	first.Status = StatusSuccess
	first.Output = "copied 10 files"
	require.NoError(t, store.Create(ctx, first))

	second := pendingRecord("job-a", "backup", base.Add(time.Hour))
	second.Status = StatusFailed
	second.Error = "disk full"
	require.NoError(t, store.Create(ctx, second))

	third := pendingRecord("job-b", "report", base.Add(2*time.Hour))
	third.Status = StatusSuccess
	third.Trigger = TriggerManual
	require.NoError(t, store.Create(ctx, third))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	require.Equal(t, third.ID, all[0].ID)
	require.Equal(t, first.ID, all[2].ID)

	byJob, err := store.List(ctx, Filter{JobID: "job-a"})
	require.NoError(t, err)
	require.Len(t, byJob, 2)

	failed, err := store.List(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, second.ID, failed[0].ID)

	manual, err := store.List(ctx, Filter{Trigger: TriggerManual})
	require.NoError(t, err)
	require.Len(t, manual, 1)

	byOutput, err := store.List(ctx, Filter{Keyword: "10 files"})
	require.NoError(t, err)
	require.Len(t, byOutput, 1)
	require.Equal(t, first.ID, byOutput[0].ID)

	byError, err := store.List(ctx, Filter{Keyword: "disk full"})
	require.NoError(t, err)
	require.Len(t, byError, 1)
	require.Equal(t, second.ID, byError[0].ID)

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	window, err := store.List(ctx, Filter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	require.Equal(t, second.ID, window[0].ID)

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	offset, err := store.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, offset, 1)
	require.Equal(t, first.ID, offset[0].ID)
}

func TestStore_CancelInFlight(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	stuck := pendingRecord("job-a", "backup", now)
	require.NoError(t, store.Create(ctx, stuck))

	running := pendingRecord("job-b", "report", now)
	require.NoError(t, store.Create(ctx, running))
	require.NoError(t, store.MarkRunning(ctx, running.ID, now))

	done := pendingRecord("job-c", "cleanup", now)
	done.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, done))

	canceled, err := store.CancelInFlight(ctx, "interrupted by shutdown")
	require.NoError(t, err)
	require.Equal(t, int64(2), canceled)

	retrieved, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, retrieved.Status)
	require.Equal(t, "interrupted by shutdown", retrieved.Error)
	require.NotNil(t, retrieved.FinishedAt)

	retrieved, err = store.Get(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, retrieved.Status)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	old := pendingRecord("job-a", "backup", now.Add(-48*time.Hour))
	old.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, old))

	// In-flight records survive regardless of age.
	oldRunning := pendingRecord("job-b", "report", now.Add(-48*time.Hour))
	oldRunning.Status = StatusRunning
	require.NoError(t, store.Create(ctx, oldRunning))

	recent := pendingRecord("job-c", "cleanup", now)
	recent.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, recent))

	deleted, err := store.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, oldRunning.ID)
	require.NoError(t, err)
	_, err = store.Get(ctx, recent.ID)
	require.NoError(t, err)
}

func TestStore_CountByStatus(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	first := pendingRecord("job-a", "backup", now)
	first.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, first))

	second := pendingRecord("job-a", "backup", now)
	second.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, second))

	third := pendingRecord("job-b", "report", now)
	require.NoError(t, store.Create(ctx, third))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[StatusSuccess])
	require.Equal(t, int64(1), counts[StatusPending])
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusSuccess.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusTimedOut.Terminal())
	require.True(t, StatusCanceled.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRunning.Terminal())
}
