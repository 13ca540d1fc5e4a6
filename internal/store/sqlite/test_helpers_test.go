package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/roach88/recbind/internal/ir"
)

// openTestAdapter opens a fresh database in a temp dir.
func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func task(id, status string, priority int64) ir.IRObject {
	return ir.IRObject{
		"id":       ir.IRString(id),
		"status":   ir.IRString(status),
		"priority": ir.IRInt(priority),
	}
}
