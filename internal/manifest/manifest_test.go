package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/watzon/oncue/internal/trigger"
)

func TestParseManifest(t *testing.T) {
	yaml := `
jobs:
  - name: nightly-backup
    script: scripts/backup.sh
    rule:
      kind: daily
      time: "03:30"
    timezone: Europe/Berlin
    timeout: 10m

  - name: heartbeat
    script: scripts/ping.sh
    rule:
      kind: interval
      every: 90s

  - name: weekly-report
    script: scripts/report.py
    rule:
      kind: weekly
      weekday: 1
      time: "09:00"
    enabled: false
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	if len(m.Jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(m.Jobs))
	}

	backup := m.Jobs[0]
	if backup.Name != "nightly-backup" {
		t.Errorf("expected name nightly-backup, got %s", backup.Name)
	}
	if backup.Rule.Kind != trigger.KindDaily {
		t.Errorf("expected daily rule, got %s", backup.Rule.Kind)
	}
	if backup.Rule.Time != "03:30" {
		t.Errorf("expected time 03:30, got %s", backup.Rule.Time)
	}
	if backup.Timezone != "Europe/Berlin" {
		t.Errorf("expected timezone Europe/Berlin, got %s", backup.Timezone)
	}
	if backup.TimeoutSeconds != 600 {
		t.Errorf("expected timeout 600 seconds, got %d", backup.TimeoutSeconds)
	}
	if !backup.Enabled {
		t.Error("expected enabled to default to true")
	}

	heartbeat := m.Jobs[1]
	if heartbeat.Rule.Kind != trigger.KindInterval {
		t.Errorf("expected interval rule, got %s", heartbeat.Rule.Kind)
	}
	if heartbeat.Rule.Every.Std() != 90*time.Second {
		t.Errorf("expected every 90s, got %v", heartbeat.Rule.Every.Std())
	}

	report := m.Jobs[2]
	if report.Rule.Weekday == nil || *report.Rule.Weekday != 1 {
		t.Errorf("expected weekday 1, got %v", report.Rule.Weekday)
	}
	if report.Enabled {
		t.Error("expected weekly-report to be disabled")
	}
}

func TestParseManifestOnceRule(t *testing.T) {
	yaml := `
jobs:
  - name: migration
    script: migrate.sh
    rule:
      kind: once
      at: "2027-01-15T06:00:00Z"
`
	m, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	rule := m.Jobs[0].Rule
	if rule.Kind != trigger.KindOnce {
		t.Fatalf("expected once rule, got %s", rule.Kind)
	}
	if rule.At == nil {
		t.Fatal("expected at to be set")
	}
	want := time.Date(2027, 1, 15, 6, 0, 0, 0, time.UTC)
	if !rule.At.Equal(want) {
		t.Errorf("expected at %v, got %v", want, rule.At)
	}
}

func TestParseManifestPastOnceRule(t *testing.T) {
	// Future-ness is an apply concern; a fired once job must keep parsing.
	yaml := `
jobs:
  - name: already-ran
    script: done.sh
    rule:
      kind: once
      at: "2020-01-01T00:00:00Z"
`
	if _, err := Parse([]byte(yaml)); err != nil {
		t.Fatalf("expected past once rule to parse, got: %v", err)
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty document",
			yaml:    `jobs: []`,
			wantErr: "at least one job is required",
		},
		{
			name: "missing name",
			yaml: `
jobs:
  - script: x.sh
    rule: {kind: interval, every: 1h}
`,
			wantErr: "name is required",
		},
		{
			name: "missing script",
			yaml: `
jobs:
  - name: no-script
    rule: {kind: interval, every: 1h}
`,
			wantErr: "script is required",
		},
		{
			name: "duplicate names",
			yaml: `
jobs:
  - name: twice
    script: a.sh
    rule: {kind: interval, every: 1h}
  - name: twice
    script: b.sh
    rule: {kind: interval, every: 2h}
`,
			wantErr: "duplicate job name",
		},
		{
			name: "unknown kind",
			yaml: `
jobs:
  - name: bad-kind
    script: x.sh
    rule: {kind: sometimes}
`,
			wantErr: "invalid kind",
		},
		{
			name: "interval too short",
			yaml: `
jobs:
  - name: too-fast
    script: x.sh
    rule: {kind: interval, every: 500ms}
`,
			wantErr: "at least 1 second",
		},
		{
			name: "weekly without weekday",
			yaml: `
jobs:
  - name: no-day
    script: x.sh
    rule: {kind: weekly, time: "09:00"}
`,
			wantErr: "requires a weekday",
		},
		{
			name: "bad timezone",
			yaml: `
jobs:
  - name: bad-tz
    script: x.sh
    rule: {kind: interval, every: 1h}
    timezone: Nope/Nowhere
`,
			wantErr: "unknown timezone",
		},
		{
			name: "negative timeout",
			yaml: `
jobs:
  - name: negative
    script: x.sh
    rule: {kind: interval, every: 1h}
    timeout: -5m
`,
			wantErr: "must not be negative",
		},
		{
			name: "colliding script names",
			yaml: `
jobs:
  - name: first
    script: a/task.sh
    rule: {kind: interval, every: 1h}
  - name: second
    script: b/task.sh
    rule: {kind: interval, every: 1h}
`,
			wantErr: "collides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseManifestNamesOffendingEntry(t *testing.T) {
	yaml := `
jobs:
  - name: fine
    script: ok.sh
    rule: {kind: interval, every: 1h}
  - name: broken
    script: bad.sh
    rule: {kind: interval, every: soonish}
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), `job "broken"`) {
		t.Errorf("expected error to name the offending job, got: %v", err)
	}
	if !strings.Contains(err.Error(), "rule.every") {
		t.Errorf("expected error to name the offending field, got: %v", err)
	}
}

func TestParseManifestBadYAML(t *testing.T) {
	_, err := Parse([]byte("jobs: ["))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "parsing manifest YAML") {
		t.Errorf("unexpected error: %v", err)
	}
}
