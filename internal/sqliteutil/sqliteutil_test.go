package sqliteutil_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"derbyflow/internal/sqliteutil"
)

func TestOpenAppliesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "nested", "test.db"),
		`CREATE TABLE IF NOT EXISTS things (id INTEGER PRIMARY KEY, name TEXT)`)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := sqliteutil.Exec(ctx, db, `INSERT INTO things (name) VALUES (?)`, "a"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestRetryOnBusyRetriesOnlyBusyErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got err=%v calls=%d", err, calls)
	}

	calls = 0
	boom := errors.New("syntax error")
	err = sqliteutil.RetryOnBusy(ctx, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single attempt for non-busy error, got err=%v calls=%d", err, calls)
	}
}
