// Package sqlite implements store.Adapter on a local SQLite database.
//
// Records are stored as canonical JSON in a single table keyed by
// (collection, id). Equality filters are pushed down as parameterized
// json_extract predicates; expressions are evaluated in Go.
package sqlite
import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connPragmas run on every new connection.
var connPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// migrations upgrade older files. Entry i moves user_version from i to i+1.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_records_collection_seq ON records(collection, seq)`,
}

// currentSchemaVersion is the user_version of a fully migrated file.
var currentSchemaVersion = len(migrations)

// Adapter persists records in SQLite. WAL lets watchers in other
// processes read while a writer commits.
type Adapter struct {
	db *sql.DB
}

// Open creates or opens the database at path, configures the connection
// and brings the schema up to date. Reopening an existing file is fine.
func Open(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Adapter{db: db}, nil
}

func setup(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	for _, p := range connPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

// migrate runs every migration past the stored user_version in one
// transaction.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for v := version; v < currentSchemaVersion; v++ {
		if _, err := tx.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// LastSeq returns the highest sequence number written so far, or 0 for an
// empty database.
func (a *Adapter) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := a.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// pragma reads a single pragma value.
func (a *Adapter) pragma(name string) (string, error) {
	var value string
	err := a.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
