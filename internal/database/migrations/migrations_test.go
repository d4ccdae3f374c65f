package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _oncue_schema_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	if count == 0 {
		t.Error("expected at least one migration to be applied")
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}

	if err := Run(ctx, db); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _oncue_schema_versions").Scan(&count)
	if err != nil {
		t.Fatalf("version table query failed: %v", err)
	}

	applied, err := GetApplied(ctx, db)
	if err != nil {
		t.Fatalf("GetApplied() failed: %v", err)
	}

	if len(applied) != count {
		t.Errorf("expected %d applied migrations, got %d", count, len(applied))
	}
}

func TestJobsTableSchema(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	rows, err := db.QueryContext(ctx, "PRAGMA table_info(jobs)")
	if err != nil {
		t.Fatalf("getting jobs schema: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("scanning column info: %v", err)
		}
		columns[name] = true
	}

	required := []string{
		"id", "name", "script_ref", "rule_kind", "rule", "timezone",
		"enabled", "next_fire_at", "last_fire_at", "claimed_at",
		"timeout_seconds", "last_error", "created_at", "updated_at",
	}
	for _, col := range required {
		if !columns[col] {
			t.Errorf("jobs table missing column %s", col)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{
			name:    "two statements",
			content: "CREATE TABLE a (id TEXT); CREATE TABLE b (id TEXT);",
			want:    2,
		},
		{
			name:    "semicolon inside string",
			content: "INSERT INTO a VALUES ('x;y'); INSERT INTO a VALUES ('z');",
			want:    2,
		},
		{
			name:    "no trailing semicolon",
			content: "CREATE TABLE a (id TEXT)",
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.content)
			if len(got) != tt.want {
				t.Errorf("expected %d statements, got %d: %v", tt.want, len(got), got)
			}
		})
	}
}

func TestHasExecutableSQL(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"CREATE TABLE a (id TEXT)", true},
		{"-- a table\nCREATE TABLE a (id TEXT)", true},
		{"-- just commentary", false},
		{"-- line one\n-- line two", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := hasExecutableSQL(tt.stmt); got != tt.want {
			t.Errorf("hasExecutableSQL(%q) = %v, want %v", tt.stmt, got, tt.want)
		}
	}
}
