package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

func TestCreate_RoundTrip(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	rec := ir.IRObject{
		"id":    ir.IRString("1"),
		"title": ir.IRString("café"),
		"big":   ir.IRInt(1 << 60),
		"done":  ir.IRBool(false),
		"owner": ir.IRNull{},
		"tags":  ir.IRArray{ir.IRString("a"), ir.IRString("b")},
		"meta":  ir.IRObject{"n": ir.IRInt(1)},
	}

	created, err := a.Create(ctx, "tasks", "1", rec)
	require.NoError(t, err)
	assert.Equal(t, rec, created)

	found, err := a.Find(ctx, "tasks", "1")
	require.NoError(t, err)
	assert.Equal(t, rec, found)
}

func TestCreate_DuplicateID(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	_, err := a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)

	_, err = a.Create(ctx, "tasks", "1", task("1", "done", 1))
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = a.Create(ctx, "notes", "1", ir.IRObject{"id": ir.IRString("1")})
	assert.NoError(t, err, "ids are scoped per collection")
}

func TestCreate_RevivesTombstone(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	_, err := a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)
	require.NoError(t, a.Destroy(ctx, "tasks", "1"))

	_, err = a.Create(ctx, "tasks", "1", task("1", "done", 2))
	require.NoError(t, err)

	found, err := a.Find(ctx, "tasks", "1")
	require.NoError(t, err)
	assert.Equal(t, task("1", "done", 2), found)
}

func TestCreate_MissingID(t *testing.T) {
	a := openTestAdapter(t)
	_, err := a.Create(context.Background(), "tasks", "", ir.IRObject{})
	assert.ErrorIs(t, err, store.ErrMissingID)
}

func TestUpdate(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	_, err := a.Update(ctx, "tasks", "1", task("1", "done", 1))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)
	_, err = a.Update(ctx, "tasks", "1", task("1", "done", 1))
	require.NoError(t, err)

	found, err := a.Find(ctx, "tasks", "1")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("done"), found["status"])
}

func TestDestroy(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	_, err := a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)
	require.NoError(t, a.Destroy(ctx, "tasks", "1"))

	_, err = a.Find(ctx, "tasks", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, a.Destroy(ctx, "tasks", "1"), store.ErrNotFound)

	_, err = a.Update(ctx, "tasks", "1", task("1", "done", 1))
	assert.ErrorIs(t, err, store.ErrNotFound, "tombstones cannot be updated")
}

func TestWrites_BumpSeq(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	seq, err := a.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	_, err = a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)
	_, err = a.Update(ctx, "tasks", "1", task("1", "done", 1))
	require.NoError(t, err)
	require.NoError(t, a.Destroy(ctx, "tasks", "1"))

	seq, err = a.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestAdapter_ImplementsStoreAdapter(t *testing.T) {
	var _ store.Adapter = (*Adapter)(nil)
}
