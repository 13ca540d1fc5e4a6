package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, err := first.Create(ctx, "tasks", "1", task("1", "open", 1)); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	first.Close()

	for i := 0; i < 3; i++ {
		a, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		a.Close()
	}

	a, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer a.Close()

	if _, err := a.Find(ctx, "tasks", "1"); err != nil {
		t.Errorf("record lost after reopen: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	a := openTestAdapter(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.pragma(tt.name)
			if err != nil {
				t.Fatalf("query %s: %v", tt.name, err)
			}
			if got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	a := openTestAdapter(t)

	var version int
	if err := a.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpen_MigratesVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := a.db.Exec("DROP INDEX idx_records_collection_seq"); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := a.db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("reset user_version: %v", err)
	}
	a.Close()

	a, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer a.Close()

	var name string
	err = a.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_records_collection_seq",
	).Scan(&name)
	if err != nil {
		t.Errorf("index not restored by migration: %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var a Adapter
	if err := a.Close(); err != nil {
		t.Errorf("Close() on zero adapter = %v", err)
	}
}
