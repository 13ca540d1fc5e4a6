package cli

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recbind/internal/binder"
	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
	"github.com/roach88/recbind/internal/store/sqlite"
	"github.com/roach88/recbind/internal/testutil"
)

type feedFixture struct {
	writer *sqlite.Adapter // stands in for another process
	reader *sqlite.Adapter
	binder *binder.Binder
	sched  *testutil.ManualScheduler
	feed   *changeFeed
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.db")
	writer, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	reader, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(reader, store.WithLogger(quiet))
	sched := testutil.NewManualScheduler(epoch)
	b, err := binder.New(st, binder.Config{Name: "task"},
		binder.WithScheduler(sched),
		binder.WithLogger(quiet))
	require.NoError(t, err)

	return &feedFixture{
		writer: writer,
		reader: reader,
		binder: b,
		sched:  sched,
		feed:   newChangeFeed(reader, b, quiet),
	}
}

func rec(id, status string) ir.IRObject {
	return ir.IRObject{"id": ir.IRString(id), "status": ir.IRString(status)}
}

func TestChangeFeed_MarkSkipsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)
	_, err := f.writer.Create(ctx, "task", "old", rec("old", "open"))
	require.NoError(t, err)

	require.NoError(t, f.feed.Mark(ctx))
	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, n)
	_, ok := f.binder.Get("old")
	assert.False(t, ok)
}

func TestChangeFeed_AppliesWritesAndTombstones(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)
	require.NoError(t, f.feed.Mark(ctx))

	_, err := f.writer.Create(ctx, "task", "a", rec("a", "open"))
	require.NoError(t, err)
	_, err = f.writer.Create(ctx, "note", "n", ir.IRObject{"id": ir.IRString("n")})
	require.NoError(t, err)

	n, err := f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "other collections are ignored")
	got, ok := f.binder.Get("a")
	require.True(t, ok)
	assert.Equal(t, rec("a", "open"), got)

	_, err = f.writer.Update(ctx, "task", "a", rec("a", "done"))
	require.NoError(t, err)
	_, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	got, _ = f.binder.Get("a")
	assert.Equal(t, rec("a", "done"), got)

	require.NoError(t, f.writer.Destroy(ctx, "task", "a"))
	_, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	_, ok = f.binder.Get("a")
	assert.False(t, ok, "tombstones eject the record")

	n, err = f.feed.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is applied twice")
}

func TestChangeFeed_PendingSaveWins(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)
	_, err := f.writer.Create(ctx, "task", "a", rec("a", "open"))
	require.NoError(t, err)
	require.NoError(t, f.feed.Mark(ctx))

	f.binder.SafeSave(ctx, rec("a", "mine"), false)
	require.True(t, f.binder.Saving("a"))

	_, err = f.writer.Update(ctx, "task", "a", rec("a", "theirs"))
	require.NoError(t, err)
	_, err = f.feed.Poll(ctx)
	require.NoError(t, err)

	_, ok := f.binder.Get("a")
	assert.False(t, ok, "push ignored while a save is pending")

	f.sched.Advance(binder.DefaultSaveDelay)
	stored, err := f.reader.Find(ctx, "task", "a")
	require.NoError(t, err)
	assert.Equal(t, rec("a", "mine"), stored)
}

func TestChangeFeed_BindingFollowsFeed(t *testing.T) {
	ctx := context.Background()
	f := newFeedFixture(t)
	require.NoError(t, f.feed.Mark(ctx))

	comp := &countingComponent{id: "view"}
	h, err := f.binder.BindAll(comp, store.Where("status", "open"), "tasks", nil)
	require.NoError(t, err)
	require.Equal(t, 0, h.Value().Len())

	_, err = f.writer.Create(ctx, "task", "a", rec("a", "open"))
	require.NoError(t, err)
	_, err = f.feed.Poll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, h.Value().Len())
	f.sched.Flush()
	assert.Equal(t, 2, comp.renders)
}

func TestChangeFeed_RunStopsWithContext(t *testing.T) {
	f := newFeedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.feed.Mark(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.feed.Run(ctx, time.Millisecond)
	}()

	_, err := f.writer.Create(context.Background(), "task", "a", rec("a", "open"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, ok := f.binder.Get("a")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type countingComponent struct {
	id      string
	renders int
}

func (c *countingComponent) ComponentID() string { return c.id }
func (c *countingComponent) ForceUpdate()        { c.renders++ }
