package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/scripts"
	"github.com/watzon/oncue/internal/trigger"
)

// testDB creates a test database with all migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := config.Default()
	cfg.Database.Path = dbPath

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testScriptService wires a script service over a filesystem backend.
func testScriptService(t *testing.T, db *database.DB, compression string) (*scripts.Service, *job.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.Scripts.Path = filepath.Join(t.TempDir(), "scripts-data")
	cfg.Scripts.Compression = compression

	backend, err := scripts.NewBackend(context.Background(), &cfg.Scripts)
	require.NoError(t, err)

	jobs := job.NewStore(db)
	return scripts.NewService(scripts.NewStore(db), jobs, backend), jobs
}

// TestIntegration_ScriptLifecycle tests the complete script flow:
// upload → read back → replace in place → reference by a job →
// delete refused while referenced → delete after the job is gone.
func TestIntegration_ScriptLifecycle(t *testing.T) {
	ctx := context.Background()

	db := testDB(t)
	svc, jobs := testScriptService(t, db, "")

	content := "#!/bin/sh\necho lifecycle\n"
	script, err := svc.Upload(ctx, "backup.sh", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.NotEmpty(t, script.ID)
	require.Equal(t, "backup.sh", script.Name)
	require.Equal(t, int64(len(content)), script.Size)

	sum := sha256.Sum256([]byte(content))
	require.Equal(t, hex.EncodeToString(sum[:]), script.Checksum)

	// Read the bytes back.
	rc, meta, err := svc.Open(ctx, "backup.sh")
	require.NoError(t, err)
	readBack, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, content, string(readBack))
	require.Equal(t, script.ID, meta.ID)

	// Re-upload under the same name: bytes replaced, id kept.
	replacement := "#!/bin/sh\necho lifecycle v2\n"
	replaced, err := svc.Upload(ctx, "backup.sh", strings.NewReader(replacement), int64(len(replacement)))
	require.NoError(t, err)
	require.Equal(t, script.ID, replaced.ID)
	require.Equal(t, int64(len(replacement)), replaced.Size)
	require.NotEqual(t, script.Checksum, replaced.Checksum)

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// A job referencing the script blocks deletion.
	j := &job.Job{
		Name:      "nightly-backup",
		ScriptRef: "backup.sh",
		Rule:      trigger.Rule{Kind: trigger.KindDaily, Time: "03:30"},
		Enabled:   true,
	}
	require.NoError(t, jobs.Create(ctx, j))

	err = svc.Delete(ctx, "backup.sh")
	require.Error(t, err)
	require.ErrorIs(t, err, scripts.ErrInUse)

	require.NoError(t, jobs.Delete(ctx, j.ID))
	require.NoError(t, svc.Delete(ctx, "backup.sh"))

	_, err = svc.Get(ctx, "backup.sh")
	require.ErrorIs(t, err, scripts.ErrNotFound)
}

// TestIntegration_CompressedScriptRoundTrip uploads through a zstd
// backend and verifies the bytes and checksum survive the round trip.
func TestIntegration_CompressedScriptRoundTrip(t *testing.T) {
	ctx := context.Background()

	db := testDB(t)
	svc, _ := testScriptService(t, db, "zstd")

	content := strings.Repeat("#!/bin/sh\necho compressed payload line\n", 200)
	script, err := svc.Upload(ctx, "bulk.sh", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	// The metadata reflects the logical bytes, not the stored form.
	require.Equal(t, int64(len(content)), script.Size)
	sum := sha256.Sum256([]byte(content))
	require.Equal(t, hex.EncodeToString(sum[:]), script.Checksum)

	rc, _, err := svc.Open(ctx, "bulk.sh")
	require.NoError(t, err)
	readBack, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, content, string(readBack))

	// Resolve materializes a runnable copy of the decompressed bytes.
	path, cleanup, err := svc.Resolve(ctx, "bulk.sh")
	require.NoError(t, err)
	defer cleanup()
	require.FileExists(t, path)
}
