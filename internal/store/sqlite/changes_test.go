package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recbind/internal/ir"
)

func TestChanges(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	_, err := a.Create(ctx, "tasks", "1", task("1", "open", 1))
	require.NoError(t, err)
	_, err = a.Create(ctx, "tasks", "2", task("2", "open", 1))
	require.NoError(t, err)
	_, err = a.Create(ctx, "notes", "n", ir.IRObject{"id": ir.IRString("n")})
	require.NoError(t, err)

	all, err := a.Changes(ctx, "tasks", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, Change{Seq: 1, ID: "1", Record: task("1", "open", 1)}, all[0])
	assert.Equal(t, int64(2), all[1].Seq)

	_, err = a.Update(ctx, "tasks", "1", task("1", "done", 1))
	require.NoError(t, err)
	require.NoError(t, a.Destroy(ctx, "tasks", "2"))

	since, err := a.Changes(ctx, "tasks", 3)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "1", since[0].ID)
	assert.Equal(t, int64(4), since[0].Seq)
	assert.False(t, since[0].Deleted)
	assert.Equal(t, ir.IRString("done"), since[0].Record["status"])
	assert.Equal(t, "2", since[1].ID)
	assert.True(t, since[1].Deleted)
}

func TestChanges_Empty(t *testing.T) {
	a := openTestAdapter(t)

	changes, err := a.Changes(context.Background(), "tasks", 0)
	require.NoError(t, err)
	assert.NotNil(t, changes)
	assert.Empty(t, changes)
}
