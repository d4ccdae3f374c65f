package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/watzon/oncue/internal/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestOpenAndClose(t *testing.T) {
	db := testDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, table := range []string{"jobs", "executions", "scripts"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestTransaction(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec(`INSERT INTO scripts (id, name, size, checksum, created_at, updated_at) VALUES ('a', 'one.sh', 1, 'x', ?, ?)`, Now(), Now())
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO scripts (id, name, size, checksum, created_at, updated_at) VALUES ('b', 'two.sh', 1, 'y', ?, ?)`, Now(), Now())
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scripts").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec(`INSERT INTO scripts (id, name, size, checksum, created_at, updated_at) VALUES ('a', 'one.sh', 1, 'x', ?, ?)`, Now(), Now())
		if err != nil {
			return err
		}
		// Duplicate primary key forces the rollback path.
		_, err = tx.Exec(`INSERT INTO scripts (id, name, size, checksum, created_at, updated_at) VALUES ('a', 'dup.sh', 1, 'y', ?, ?)`, Now(), Now())
		return err
	})
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scripts").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows after rollback, got %d", count)
	}
}

func TestClassifyError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	now := Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, script_ref, rule_kind, rule, created_at, updated_at)
		VALUES ('j1', 'nightly', 's1', 'interval', '{}', ?, ?)`, now, now)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, script_ref, rule_kind, rule, created_at, updated_at)
		VALUES ('j2', 'nightly', 's1', 'interval', '{}', ?, ?)`, now, now)
	if err == nil {
		t.Fatal("expected unique violation")
	}

	classified := ClassifyError(err)
	if !IsUniqueError(classified) {
		t.Errorf("expected unique constraint error, got %v", classified)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	parsed, err := ParseTime(FormatTime(ts))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip mismatch: got %v want %v", parsed, ts)
	}
}
