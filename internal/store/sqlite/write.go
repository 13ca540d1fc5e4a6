package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// ErrDuplicateID is returned by Create when a live record already holds the id.
var ErrDuplicateID = errors.New("record id already exists")

// nextSeq is the sequence expression used by every write. The adapter keeps a
// single connection, so the subquery and the write are serialized.
const nextSeq = `(SELECT COALESCE(MAX(seq), 0) + 1 FROM records)`

// Create inserts a record. A tombstoned id is revived; a live one is rejected
// with ErrDuplicateID.
func (a *Adapter) Create(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	if id == "" {
		return nil, fmt.Errorf("create %s: %w", collection, store.ErrMissingID)
	}
	data, err := marshalRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, data, seq, deleted)
		VALUES (?, ?, ?, `+nextSeq+`, 0)
		ON CONFLICT(collection, id) DO UPDATE
		SET data = excluded.data, seq = excluded.seq, deleted = 0
		WHERE records.deleted = 1
	`, collection, id, data)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("create %s/%s: %w", collection, id, ErrDuplicateID)
	}
	return rec.Clone(), nil
}

// Update replaces a live record.
func (a *Adapter) Update(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	data, err := marshalRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE records SET data = ?, seq = `+nextSeq+`
		WHERE collection = ? AND id = ? AND deleted = 0
	`, data, collection, id)
	if err := checkAffected(res, err); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return rec.Clone(), nil
}

// Destroy tombstones a live record.
func (a *Adapter) Destroy(ctx context.Context, collection, id string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE records SET deleted = 1, seq = `+nextSeq+`
		WHERE collection = ? AND id = ? AND deleted = 0
	`, collection, id)
	if err := checkAffected(res, err); err != nil {
		return fmt.Errorf("destroy %s/%s: %w", collection, id, err)
	}
	return nil
}

// checkAffected maps a write that touched no row to store.ErrNotFound.
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
