package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/oncue/internal/config"
)

func TestSweeperSweep(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	old := pendingRecord("job-a", "backup", time.Now().UTC().Add(-48*time.Hour))
	old.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, old))

	recent := pendingRecord("job-b", "report", time.Now().UTC())
	recent.Status = StatusSuccess
	require.NoError(t, store.Create(ctx, recent))

	sweeper := NewSweeper(store, &config.RetentionConfig{
		Enabled:       true,
		MaxAge:        24 * time.Hour,
		SweepInterval: time.Hour,
	})
	sweeper.sweep()

	_, err := store.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, recent.ID)
	require.NoError(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	store, _ := testStore(t)

	sweeper := NewSweeper(store, &config.RetentionConfig{
		Enabled:       true,
		MaxAge:        time.Hour,
		SweepInterval: time.Hour,
	})
	sweeper.Start()
	sweeper.Stop()
}
