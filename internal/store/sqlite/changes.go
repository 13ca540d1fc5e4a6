package sqlite

import (
	"context"
	"fmt"

	"github.com/roach88/recbind/internal/ir"
)

// Change is one write observed through the change feed.
type Change struct {
	Seq     int64
	ID      string
	Record  ir.IRObject
	Deleted bool
}

// Changes returns the latest state of every record of collection written
// after seq, ordered by seq ASC, id ASC. A record written several times
// appears once, at its last seq.
//
// Returns an empty slice (not nil) when nothing changed.
func (a *Adapter) Changes(ctx context.Context, collection string, since int64) ([]Change, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, data, seq, deleted
		FROM records
		WHERE collection = ? AND seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, collection, since)
	if err != nil {
		return nil, fmt.Errorf("changes %s: %w", collection, err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var (
			ch      Change
			data    string
			deleted int
		)
		if err := rows.Scan(&ch.ID, &data, &ch.Seq, &deleted); err != nil {
			return nil, fmt.Errorf("changes %s: scan: %w", collection, err)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, fmt.Errorf("changes %s: %w", collection, err)
		}
		ch.Record = rec
		ch.Deleted = deleted != 0
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("changes %s: iterate: %w", collection, err)
	}
	return changes, nil
}
