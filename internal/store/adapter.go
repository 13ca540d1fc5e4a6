package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/roach88/recbind/internal/ir"
)

// Adapter is the remote side of the store: where records are persisted and
// where forced fetches go.
//
// Implementations return ErrNotFound (possibly wrapped) for unknown ids and
// must not retain or mutate the records they are given.
type Adapter interface {
	Create(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error)
	Update(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error)
	Destroy(ctx context.Context, collection, id string) error
	Find(ctx context.Context, collection, id string) (ir.IRObject, error)

	// FindAll returns the records matching q, or group rows (see GroupRows)
	// when groupBy is non-empty.
	FindAll(ctx context.Context, collection string, q Query, groupBy []string) ([]ir.IRObject, error)
}

// IDGenerator assigns ids to records created without one.
// Implemented by UUIDv7Generator (production) and testutil.SequenceGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
