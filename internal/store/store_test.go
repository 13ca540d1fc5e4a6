package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/testutil"
)

const taskSchema = `
id:       string
status:   "open" | "done"
priority: int & >=0
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, adapter Adapter) *Store {
	t.Helper()
	s := New(adapter, WithLogger(quietLogger()), WithIDGenerator(testutil.NewSequenceGenerator("task")))
	_, err := s.DefineMapper("tasks", MapperConfig{Schema: taskSchema})
	require.NoError(t, err)
	return s
}

// recorder collects events of one collection.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(t *testing.T, s *Store, name string) *recorder {
	t.Helper()
	ch, err := s.Events(name)
	require.NoError(t, err)
	r := &recorder{}
	unsubscribe := ch.Subscribe(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	t.Cleanup(unsubscribe)
	return r
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestDefineMapper(t *testing.T) {
	s := New(NewMemoryAdapter(), WithLogger(quietLogger()))

	m, err := s.DefineMapper("tasks", MapperConfig{IDAttribute: "key"})
	require.NoError(t, err)
	assert.Equal(t, "tasks", m.Name())
	assert.Equal(t, "key", m.IDAttribute())

	_, err = s.DefineMapper("tasks", MapperConfig{})
	assert.ErrorIs(t, err, ErrDuplicateMapper)

	_, err = s.DefineMapper("", MapperConfig{})
	assert.Error(t, err)

	_, err = s.DefineMapper("bad", MapperConfig{Schema: `"not a struct"`})
	assert.Error(t, err)

	_, err = s.Mapper("missing")
	assert.ErrorIs(t, err, ErrUnknownCollection)

	_, err = s.DefineMapper("notes", MapperConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "tasks"}, s.Collections())
}

func TestCreate_AssignsIDAndCaches(t *testing.T) {
	adapter := NewMemoryAdapter()
	s := newTestStore(t, adapter)
	events := record(t, s, "tasks")

	created, err := s.Create(context.Background(), "tasks", ir.IRObject{
		"status":   ir.IRString("open"),
		"priority": ir.IRInt(1),
	})
	require.NoError(t, err)

	assert.Equal(t, ir.IRString("task-1"), created["id"])
	cached, ok := s.Get("tasks", "task-1")
	require.True(t, ok)
	assert.Equal(t, created, cached)
	_, stored := adapter.Stored("tasks", "task-1")
	assert.True(t, stored)
	assert.Equal(t, []EventKind{EventAdded}, events.kinds())
}

func TestCreate_ValidationError(t *testing.T) {
	adapter := NewMemoryAdapter()
	s := newTestStore(t, adapter)

	_, err := s.Create(context.Background(), "tasks", ir.IRObject{
		"status":   ir.IRString("blocked"),
		"priority": ir.IRInt(1),
	})

	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, 0, adapter.Calls("create"))
}

func TestCreate_UnknownCollection(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	_, err := s.Create(context.Background(), "nope", ir.IRObject{})
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestSave(t *testing.T) {
	adapter := NewMemoryAdapter()
	s := newTestStore(t, adapter)
	ctx := context.Background()

	_, err := s.Save(ctx, "tasks", ir.IRObject{"status": ir.IRString("open")})
	assert.ErrorIs(t, err, ErrMissingID)

	saved, err := s.Save(ctx, "tasks", task("7", "done", 3))
	require.NoError(t, err)
	assert.Equal(t, task("7", "done", 3), saved)
	assert.Equal(t, 1, adapter.Calls("update"))

	cached, ok := s.Get("tasks", "7")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("done"), cached["status"])
}

func TestSave_AdapterError(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.FailWith = errors.New("offline")
	s := newTestStore(t, adapter)

	_, err := s.Save(context.Background(), "tasks", task("7", "done", 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	_, ok := s.Get("tasks", "7")
	assert.False(t, ok, "failed saves must not reach the cache")
}

func TestDestroy(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1))
	s := newTestStore(t, adapter)
	ctx := context.Background()
	_, err := s.Find(ctx, "tasks", "1", FindOptions{})
	require.NoError(t, err)
	events := record(t, s, "tasks")

	require.NoError(t, s.Destroy(ctx, "tasks", "1"))

	_, ok := s.Get("tasks", "1")
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventRemoved}, events.kinds())
	assert.ErrorIs(t, s.Destroy(ctx, "tasks", "1"), ErrNotFound)
}

func TestFind_UsesCacheUnlessForced(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1))
	s := newTestStore(t, adapter)
	ctx := context.Background()

	_, err := s.Find(ctx, "tasks", "1", FindOptions{})
	require.NoError(t, err)
	_, err = s.Find(ctx, "tasks", "1", FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.Calls("find"))

	_, err = s.Find(ctx, "tasks", "1", FindOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.Calls("find"))

	_, err = s.Find(ctx, "tasks", "missing", FindOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAll_CompletedQueriesServedFromCache(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1), task("2", "done", 1), task("3", "open", 2))
	s := newTestStore(t, adapter)
	ctx := context.Background()
	q := Where("status", "open")

	rows, err := s.FindAll(ctx, "tasks", q, FindAllOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.FindAll(ctx, "tasks", q, FindAllOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, adapter.Calls("findAll"))

	_, err = s.FindAll(ctx, "tasks", q, FindAllOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.Calls("findAll"))
}

func TestFindAll_ParamsChangeRequestKey(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1))
	s := newTestStore(t, adapter)
	ctx := context.Background()

	_, err := s.FindAll(ctx, "tasks", Where("status", "open"), FindAllOptions{})
	require.NoError(t, err)
	_, err = s.FindAll(ctx, "tasks", Where("status", "open").WithParams(ir.O("_", ir.IRBool(true))), FindAllOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, adapter.Calls("findAll"))
}

func TestFindAll_EmitsAddedOnlyForRows(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1))
	s := newTestStore(t, adapter)
	events := record(t, s, "tasks")
	ctx := context.Background()

	_, err := s.FindAll(ctx, "tasks", Where("status", "done"), FindAllOptions{})
	require.NoError(t, err)
	assert.Empty(t, events.kinds())

	_, err = s.FindAll(ctx, "tasks", Where("status", "open"), FindAllOptions{})
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventAdded}, events.kinds())
}

func TestFindAll_AfterFindAllReplacesRows(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1), task("2", "open", 5))
	s := newTestStore(t, adapter)

	rows, err := s.FindAll(context.Background(), "tasks", Query{}, FindAllOptions{
		AfterFindAll: func(_ Query, rows []ir.IRObject) []ir.IRObject {
			var kept []ir.IRObject
			for _, rec := range rows {
				if rec["priority"] == ir.IRInt(5) {
					kept = append(kept, rec)
				}
			}
			return kept
		},
	})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, ir.IRString("2"), rows[0]["id"])
	_, cached := s.Get("tasks", "1")
	assert.False(t, cached)
}

func TestFindAll_GroupByNotCached(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.Seed("tasks", "id", task("1", "open", 1), task("2", "done", 1), task("3", "open", 2))
	s := newTestStore(t, adapter)
	events := record(t, s, "tasks")
	ctx := context.Background()

	rows, err := s.FindAll(ctx, "tasks", Query{}, FindAllOptions{GroupBy: []string{"status"}})
	require.NoError(t, err)
	assert.Equal(t, []ir.IRObject{
		{"status": ir.IRString("done"), "count": ir.IRInt(1)},
		{"status": ir.IRString("open"), "count": ir.IRInt(2)},
	}, rows)

	_, err = s.FindAll(ctx, "tasks", Query{}, FindAllOptions{GroupBy: []string{"status"}})
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.Calls("findAll"))
	assert.Empty(t, events.kinds(), "group rows carry no id and never reach the cache")
}

func TestFindAll_BadExpr(t *testing.T) {
	adapter := NewMemoryAdapter()
	s := newTestStore(t, adapter)

	_, err := s.FindAll(context.Background(), "tasks", Query{Expr: "("}, FindAllOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, adapter.Calls("findAll"))
}

// gatedAdapter blocks FindAll until release is closed.
type gatedAdapter struct {
	*MemoryAdapter
	entered chan struct{}
	release chan struct{}
}

func (a *gatedAdapter) FindAll(ctx context.Context, collection string, q Query, groupBy []string) ([]ir.IRObject, error) {
	a.entered <- struct{}{}
	<-a.release
	return a.MemoryAdapter.FindAll(ctx, collection, q, groupBy)
}

func TestFindAll_UsePendingFindAllSharesRequest(t *testing.T) {
	mem := NewMemoryAdapter()
	mem.Seed("tasks", "id", task("1", "open", 1))
	adapter := &gatedAdapter{MemoryAdapter: mem, entered: make(chan struct{}, 4), release: make(chan struct{})}
	s := newTestStore(t, adapter)
	ctx := context.Background()
	opts := FindAllOptions{Force: true, UsePendingFindAll: true}

	results := make(chan []ir.IRObject, 2)
	go func() {
		rows, err := s.FindAll(ctx, "tasks", Query{}, opts)
		assert.NoError(t, err)
		results <- rows
	}()
	<-adapter.entered

	go func() {
		rows, err := s.FindAll(ctx, "tasks", Query{}, opts)
		assert.NoError(t, err)
		results <- rows
	}()
	// Give the second caller time to attach to the pending request.
	time.Sleep(20 * time.Millisecond)
	close(adapter.release)

	first, second := <-results, <-results
	assert.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, mem.Calls("findAll"))
	assert.Empty(t, adapter.entered)
}

func TestFilter_OrderedByID(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	require.NoError(t, s.AddToCache("tasks", task("b", "open", 1), task("a", "open", 3), task("c", "done", 2)))

	rs, err := s.Filter("tasks", Where("status", "open"))
	require.NoError(t, err)
	assert.Equal(t, []ir.IRValue{ir.IRString("a"), ir.IRString("b")}, rs.Field("id"))

	rs, err = s.Filter("tasks", Query{Expr: "priority > 1"})
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())

	_, err = s.Filter("tasks", Query{Expr: ")"})
	assert.Error(t, err)
}

func TestResultSet_ReturnsCopies(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	require.NoError(t, s.AddToCache("tasks", task("a", "open", 1)))

	rs, err := s.Filter("tasks", Query{})
	require.NoError(t, err)
	rs.At(0)["status"] = ir.IRString("done")
	rs.Records()[0]["status"] = ir.IRString("done")

	assert.Equal(t, ir.IRString("open"), rs.At(0)["status"])
	cached, _ := s.Get("tasks", "a")
	assert.Equal(t, ir.IRString("open"), cached["status"])
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	require.NoError(t, s.AddToCache("tasks", task("a", "open", 1)))

	rec, ok := s.Get("tasks", "a")
	require.True(t, ok)
	rec["status"] = ir.IRString("done")

	again, _ := s.Get("tasks", "a")
	assert.Equal(t, ir.IRString("open"), again["status"])

	_, ok = s.Get("unknown", "a")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	adapter := NewMemoryAdapter()
	s := newTestStore(t, adapter)
	require.NoError(t, s.AddToCache("tasks", task("a", "open", 1)))
	events := record(t, s, "tasks")

	rec, ok := s.Remove("tasks", "a")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("a"), rec["id"])

	_, ok = s.Remove("tasks", "a")
	assert.False(t, ok)
	assert.Equal(t, []EventKind{EventRemoved}, events.kinds())
	assert.Equal(t, 0, adapter.Calls("destroy"))
}

func TestAddToCache_RequiresID(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	err := s.AddToCache("tasks", task("a", "open", 1), ir.IRObject{"status": ir.IRString("open")})
	assert.ErrorIs(t, err, ErrMissingID)
	_, ok := s.Get("tasks", "a")
	assert.False(t, ok, "a rejected batch writes nothing")
}

func TestInject_DefaultWritesCache(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	events := record(t, s, "tasks")

	require.NoError(t, s.Inject("tasks", task("a", "open", 1)))

	_, ok := s.Get("tasks", "a")
	assert.True(t, ok)
	assert.Equal(t, []EventKind{EventAdded}, events.kinds())
}

func TestInject_UsesMapperHook(t *testing.T) {
	s := New(NewMemoryAdapter(), WithLogger(quietLogger()))
	var hooked []ir.IRObject
	_, err := s.DefineMapper("tasks", MapperConfig{
		SafeInject: func(rec ir.IRObject) { hooked = append(hooked, rec) },
	})
	require.NoError(t, err)

	require.NoError(t, s.Inject("tasks", task("a", "open", 1)))

	assert.Len(t, hooked, 1)
	_, ok := s.Get("tasks", "a")
	assert.False(t, ok, "the hook decides what reaches the cache")
	assert.ErrorIs(t, s.Inject("tasks", ir.IRObject{}), ErrMissingID)
}

func TestCall(t *testing.T) {
	s := New(NewMemoryAdapter(), WithLogger(quietLogger()))
	_, err := s.DefineMapper("tasks", MapperConfig{
		Methods: map[string]Method{
			"label": func(_ context.Context, rec ir.IRObject) (any, error) {
				status, _ := rec.Str("status")
				return "[" + status + "]", nil
			},
		},
	})
	require.NoError(t, err)
	m, _ := s.Mapper("tasks")
	assert.Equal(t, []string{"label"}, m.Methods())

	out, err := s.Call(context.Background(), "tasks", "label", task("a", "open", 1))
	require.NoError(t, err)
	assert.Equal(t, "[open]", out)

	_, err = s.Call(context.Background(), "tasks", "missing", task("a", "open", 1))
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestEmit(t *testing.T) {
	s := newTestStore(t, NewMemoryAdapter())
	events := record(t, s, "tasks")

	require.NoError(t, s.Emit("tasks", Event{Kind: EventGroupBy, Query: Where("status", "open")}))

	assert.Equal(t, []EventKind{EventGroupBy}, events.kinds())
	assert.ErrorIs(t, s.Emit("missing", Event{Kind: EventAdded}), ErrUnknownCollection)
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
