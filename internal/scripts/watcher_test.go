package scripts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/oncue/internal/config"
)

func startTestWatcher(t *testing.T, svc *Service, dir string, ignore []string) *Watcher {
	t.Helper()

	w, err := NewWatcher(svc, &config.ScriptsConfig{
		WatchPath:   dir,
		WatchIgnore: ignore,
	})
	require.NoError(t, err)
	w.SetDebounceDuration(10 * time.Millisecond)

	require.NoError(t, w.Start())
	t.Cleanup(func() {
		require.NoError(t, w.Stop())
	})

	return w
}

func waitForScript(t *testing.T, svc *Service, name string, check func(*Script) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		script, err := svc.Get(context.Background(), name)
		if err != nil {
			return false
		}
		return check == nil || check(script)
	}, 5*time.Second, 20*time.Millisecond, "script %s never appeared", name)
}

func TestWatcher_ImportsExistingAndNewFiles(t *testing.T) {
	svc, _ := testService(t)
	dir := t.TempDir()

	// Present before the watcher starts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.sh"), []byte("echo seed"), 0o644))

	startTestWatcher(t, svc, dir, nil)
	waitForScript(t, svc, "seed.sh", nil)

	// Dropped in while watching.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.py"), []byte("print('new')"), 0o644))
	waitForScript(t, svc, "dropped.py", nil)
}

func TestWatcher_ReimportsOnChange(t *testing.T) {
	svc, _ := testService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "evolving.sh")

	require.NoError(t, os.WriteFile(path, []byte("echo v1"), 0o644))

	startTestWatcher(t, svc, dir, nil)
	waitForScript(t, svc, "evolving.sh", nil)

	first, err := svc.Get(context.Background(), "evolving.sh")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("echo version two"), 0o644))
	waitForScript(t, svc, "evolving.sh", func(s *Script) bool {
		return s.Checksum != first.Checksum
	})
}

func TestWatcher_IgnoresPatterns(t *testing.T) {
	svc, _ := testService(t)
	dir := t.TempDir()

	startTestWatcher(t, svc, dir, []string{".*", "*.tmp"})

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.sh"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.sh"), []byte("echo real"), 0o644))

	waitForScript(t, svc, "real.sh", nil)

	_, err := svc.Get(context.Background(), ".hidden.sh")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.Get(context.Background(), "scratch.tmp")
	require.True(t, errors.Is(err, ErrNotFound))
}
