package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/scripts"
)

type applyFixture struct {
	applier *Applier
	jobs    *job.Store
	scripts *scripts.Service
	dir     string
}

func setupApply(t *testing.T) *applyFixture {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := job.NewStore(db)
	svc := scripts.NewService(scripts.NewStore(db), jobs, scripts.NewFilesystemBackend(t.TempDir()))

	dir := t.TempDir()
	writeScript(t, dir, "etl.sh", "echo etl\n")

	return &applyFixture{
		applier: NewApplier(jobs, svc),
		jobs:    jobs,
		scripts: svc,
		dir:     dir,
	}
}

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
}

func parseManifest(t *testing.T, yaml string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	return m
}

func TestApplyCreates(t *testing.T) {
	f := setupApply(t)
	ctx := context.Background()

	m := parseManifest(t, `
jobs:
  - name: extract
    script: etl.sh
    rule: {kind: interval, every: 1h}
  - name: load
    script: etl.sh
    rule: {kind: interval, every: 2h}
`)

	result, err := f.applier.Apply(ctx, m, f.dir)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(result.Created) != 2 {
		t.Errorf("expected 2 created, got %v", result.Created)
	}
	if len(result.Uploaded) != 1 || result.Uploaded[0] != "etl.sh" {
		t.Errorf("expected one etl.sh upload, got %v", result.Uploaded)
	}

	j, err := f.jobs.GetByName(ctx, "extract")
	if err != nil {
		t.Fatalf("get extract: %v", err)
	}
	if j.ScriptRef != "etl.sh" {
		t.Errorf("expected script ref etl.sh, got %s", j.ScriptRef)
	}
	if j.NextFireAt == nil {
		t.Error("expected next_fire_at to be computed on create")
	}

	if _, err := f.scripts.Get(ctx, "etl.sh"); err != nil {
		t.Errorf("expected etl.sh to be stored: %v", err)
	}
}

func TestApplyIdempotent(t *testing.T) {
	f := setupApply(t)
	ctx := context.Background()

	yaml := `
jobs:
  - name: steady
    script: etl.sh
    rule: {kind: interval, every: 1h}
`
	if _, err := f.applier.Apply(ctx, parseManifest(t, yaml), f.dir); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	before, err := f.jobs.GetByName(ctx, "steady")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}

	result, err := f.applier.Apply(ctx, parseManifest(t, yaml), f.dir)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(result.Created) != 0 || len(result.Updated) != 0 {
		t.Errorf("expected no changes, got created=%v updated=%v", result.Created, result.Updated)
	}
	if len(result.Unchanged) != 1 {
		t.Errorf("expected 1 unchanged, got %v", result.Unchanged)
	}

	after, err := f.jobs.GetByName(ctx, "steady")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !after.NextFireAt.Equal(*before.NextFireAt) {
		t.Errorf("expected fire time untouched, got %v then %v", before.NextFireAt, after.NextFireAt)
	}
}

func TestApplyUpdatesRule(t *testing.T) {
	f := setupApply(t)
	ctx := context.Background()

	if _, err := f.applier.Apply(ctx, parseManifest(t, `
jobs:
  - name: tighten
    script: etl.sh
    rule: {kind: interval, every: 1h}
`), f.dir); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Give the job history so the re-anchor is observable.
	j, err := f.jobs.GetByName(ctx, "tighten")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	firedAt := time.Now().UTC().Add(-30 * time.Minute).Truncate(time.Second)
	next := firedAt.Add(time.Hour)
	if err := f.jobs.Reschedule(ctx, j.ID, firedAt, &next); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	result, err := f.applier.Apply(ctx, parseManifest(t, `
jobs:
  - name: tighten
    script: etl.sh
    rule: {kind: interval, every: 30m}
`), f.dir)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(result.Updated) != 1 {
		t.Fatalf("expected 1 updated, got %v", result.Updated)
	}

	updated, err := f.jobs.GetByName(ctx, "tighten")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if updated.Rule.Every.Std() != 30*time.Minute {
		t.Errorf("expected every 30m, got %v", updated.Rule.Every.Std())
	}
	if updated.LastFireAt != nil {
		t.Errorf("expected last_fire_at reset on rule change, got %v", updated.LastFireAt)
	}
	if updated.NextFireAt == nil {
		t.Fatal("expected next_fire_at to be recomputed")
	}
	until := time.Until(*updated.NextFireAt)
	if until <= 0 || until > 31*time.Minute {
		t.Errorf("expected next fire within the new interval, got %v away", until)
	}
}

func TestApplyDisables(t *testing.T) {
	f := setupApply(t)
	ctx := context.Background()

	if _, err := f.applier.Apply(ctx, parseManifest(t, `
jobs:
  - name: pausable
    script: etl.sh
    rule: {kind: interval, every: 1h}
`), f.dir); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	result, err := f.applier.Apply(ctx, parseManifest(t, `
jobs:
  - name: pausable
    script: etl.sh
    rule: {kind: interval, every: 1h}
    enabled: false
`), f.dir)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if len(result.Updated) != 1 {
		t.Fatalf("expected 1 updated, got %v", result.Updated)
	}

	j, err := f.jobs.GetByName(ctx, "pausable")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Enabled {
		t.Error("expected job disabled")
	}
	if j.NextFireAt != nil {
		t.Errorf("expected next_fire_at cleared, got %v", j.NextFireAt)
	}
}

func TestApplyMissingScript(t *testing.T) {
	f := setupApply(t)

	_, err := f.applier.Apply(context.Background(), parseManifest(t, `
jobs:
  - name: orphan
    script: ghost.sh
    rule: {kind: interval, every: 1h}
`), f.dir)

	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), `job "orphan"`) {
		t.Errorf("expected error to name the job, got: %v", err)
	}
	if !strings.Contains(err.Error(), "ghost.sh") {
		t.Errorf("expected error to name the script, got: %v", err)
	}
}

func TestApplyStoredScriptFallback(t *testing.T) {
	f := setupApply(t)
	ctx := context.Background()

	content := "echo stored\n"
	if _, err := f.scripts.Upload(ctx, "manual.sh", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("upload: %v", err)
	}

	result, err := f.applier.Apply(ctx, parseManifest(t, `
jobs:
  - name: adopter
    script: manual.sh
    rule: {kind: interval, every: 1h}
`), f.dir)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(result.Uploaded) != 0 {
		t.Errorf("expected no uploads, got %v", result.Uploaded)
	}

	j, err := f.jobs.GetByName(ctx, "adopter")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.ScriptRef != "manual.sh" {
		t.Errorf("expected script ref manual.sh, got %s", j.ScriptRef)
	}
}
