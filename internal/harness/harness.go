package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/recbind/internal/binder"
	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
	"github.com/roach88/recbind/internal/testutil"
)

// Epoch is the virtual time every run starts at.
var Epoch = time.Date(2024, 3, 5, 14, 7, 9, 42_000_000, time.UTC)

// Harness runs one scenario against a fresh binder.
type Harness struct {
	scenario   *Scenario
	adapter    *store.MemoryAdapter
	store      *store.Store
	binder     *binder.Binder
	sched      *testutil.ManualScheduler
	components map[string]*component
	result     *Result
}

// outcome is what a step returned, for expect clauses and the trace.
type outcome struct {
	rows    []ir.IRObject
	hasRows bool
	record  ir.IRObject
}

// Run executes a scenario and returns its result. The error is reserved for
// scenarios that cannot run at all: a bad seed, a collection the binder
// rejects, or a failing setup step. Expect and assertion failures land in
// Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	for i, step := range scenario.Setup {
		if _, err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to execute setup[%d] %s: %w", i, step.Op, err)
		}
	}

	for i, step := range scenario.Flow {
		out, err := h.runStep(ctx, step)
		for _, msg := range checkExpect(step.Expect, out, err) {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
	}

	rs, err := h.binder.Filter(store.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	h.result.Cache = rs.Records()

	actx := &AssertionContext{
		Binder:     h.binder,
		Adapter:    h.adapter,
		Collection: scenario.Collection,
		components: h.components,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		scenario:   scenario,
		adapter:    store.NewMemoryAdapter(),
		sched:      testutil.NewManualScheduler(Epoch),
		components: make(map[string]*component),
		result:     NewResult(),
	}

	idAttr := scenario.IDAttribute
	if idAttr == "" {
		idAttr = store.DefaultIDAttribute
	}
	for i, raw := range scenario.Seed {
		rec, err := toRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.adapter.Seed(scenario.Collection, idAttr, rec)
	}

	h.store = store.New(&tracingAdapter{MemoryAdapter: h.adapter, record: h.traceAdapter},
		store.WithLogger(quiet),
		store.WithIDGenerator(testutil.NewSequenceGenerator(scenario.Collection)))

	b, err := binder.New(h.store, binder.Config{
		Name:        scenario.Collection,
		IDAttribute: scenario.IDAttribute,
		Schema:      scenario.Schema,
	},
		binder.WithScheduler(h.sched),
		binder.WithClock(h.sched),
		binder.WithLogger(quiet),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create binder: %w", err)
	}
	h.binder = b
	b.Mon(h.traceStoreEvent, store.EventAll)
	return h, nil
}

// runStep traces the step, executes it, and fills in the step's result.
func (h *Harness) runStep(ctx context.Context, step Step) (outcome, error) {
	idx := len(h.result.Trace)
	h.result.AddTrace(TraceStep, step.Op, stepArgs(step), "")

	out, err := h.execute(ctx, step)
	h.result.Trace[idx].Result = summarize(out, err)
	return out, err
}

func (h *Harness) execute(ctx context.Context, step Step) (outcome, error) {
	b := h.binder

	switch step.Op {
	case OpCreate:
		rec, err := toRecord(step.Record)
		if err != nil {
			return outcome{}, err
		}
		created, err := b.Create(ctx, rec)
		return outcome{record: created}, err

	case OpSave, OpSaveNow:
		rec, err := toRecord(step.Record)
		if err != nil {
			return outcome{}, err
		}
		b.SafeSave(ctx, rec, step.Op == OpSaveNow)
		return outcome{}, nil

	case OpInject:
		rec, err := toRecord(step.Record)
		if err != nil {
			return outcome{}, err
		}
		return outcome{}, h.store.Inject(h.scenario.Collection, rec)

	case OpFind:
		rec, err := b.Find(ctx, step.ID, store.FindOptions{Force: step.Force})
		return outcome{record: rec}, err

	case OpFindAll:
		q, err := stepQuery(step)
		if err != nil {
			return outcome{}, err
		}
		rows, err := b.FindAll(ctx, q, store.FindAllOptions{Force: step.Force})
		return outcome{rows: rows, hasRows: err == nil}, err

	case OpGroupBy:
		q, err := stepQuery(step)
		if err != nil {
			return outcome{}, err
		}
		rows, err := b.GroupBy(ctx, q, step.Fields)
		return outcome{rows: rows, hasRows: err == nil}, err

	case OpRemove:
		rec, _ := b.Remove(h.ref(step.ID))
		return outcome{record: rec}, nil

	case OpDestroy:
		return outcome{}, b.Destroy(ctx, h.ref(step.ID))

	case OpRefresh:
		rec, err := b.RefreshData(ctx, h.ref(step.ID))
		return outcome{record: rec}, err

	case OpBind:
		b.Bind(h.component(step.Component))
		return outcome{}, nil

	case OpBindAll:
		q, err := stepQuery(step)
		if err != nil {
			return outcome{}, err
		}
		handle, err := b.BindAll(h.component(step.Component), q, step.Property, nil)
		if err != nil {
			return outcome{}, err
		}
		return outcome{rows: handle.Value().Records(), hasRows: true}, nil

	case OpBindOne:
		handle := b.BindOne(h.component(step.Component), binder.FixedID(step.ID), step.Property, nil)
		return outcome{record: handle.Value()}, nil

	case OpUnbind:
		return outcome{}, b.Unbind(h.component(step.Component), step.Property)

	case OpUnbindAll:
		b.UnbindAll(h.component(step.Component))
		return outcome{}, nil

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return outcome{}, err
		}
		h.sched.Advance(d)
		return outcome{}, nil

	case OpFlush:
		h.sched.Flush()
		return outcome{}, nil
	}
	return outcome{}, fmt.Errorf("unknown op %q", step.Op)
}

// ref builds the minimal record that identifies id.
func (h *Harness) ref(id string) ir.IRObject {
	return ir.O(h.binder.Mapper().IDAttribute(), ir.IRString(id))
}

func (h *Harness) component(name string) *component {
	c, ok := h.components[name]
	if !ok {
		c = &component{id: name, props: make(map[string]any), onRender: h.traceRender}
		h.components[name] = c
	}
	return c
}

func (h *Harness) traceStoreEvent(ev store.Event) {
	args := ir.IRObject{}
	if ev.Kind == store.EventGroupBy {
		args["query"] = ev.Query.Document()
	} else {
		ids := make(ir.IRArray, 0, len(ev.Records))
		for _, rec := range ev.Records {
			id, _ := h.binder.Mapper().ID(rec)
			ids = append(ids, ir.IRString(id))
		}
		args["ids"] = ids
	}
	h.result.AddTrace(TraceStore, ev.Kind.String(), args, "")
}

func (h *Harness) traceAdapter(op string, args ir.IRObject) {
	h.result.AddTrace(TraceAdapter, op, args, "")
}

func (h *Harness) traceRender(id string) {
	h.result.AddTrace(TraceRender, id, nil, "")
}

// component is a named stand-in for a UI element.
type component struct {
	id       string
	renders  int
	props    map[string]any
	onRender func(string)
}

func (c *component) ComponentID() string { return c.id }

func (c *component) ForceUpdate() {
	c.renders++
	c.onRender(c.id)
}

func (c *component) SetProperty(name string, value any) {
	c.props[name] = value
}

// tracingAdapter reports every call before delegating to the memory adapter.
type tracingAdapter struct {
	*store.MemoryAdapter
	record func(op string, args ir.IRObject)
}

func (a *tracingAdapter) Create(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	a.record("create", ir.IRObject{"id": ir.IRString(id), "record": rec.Clone()})
	return a.MemoryAdapter.Create(ctx, collection, id, rec)
}

func (a *tracingAdapter) Update(ctx context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	a.record("update", ir.IRObject{"id": ir.IRString(id), "record": rec.Clone()})
	return a.MemoryAdapter.Update(ctx, collection, id, rec)
}

func (a *tracingAdapter) Destroy(ctx context.Context, collection, id string) error {
	a.record("destroy", ir.O("id", ir.IRString(id)))
	return a.MemoryAdapter.Destroy(ctx, collection, id)
}

func (a *tracingAdapter) Find(ctx context.Context, collection, id string) (ir.IRObject, error) {
	a.record("find", ir.O("id", ir.IRString(id)))
	return a.MemoryAdapter.Find(ctx, collection, id)
}

func (a *tracingAdapter) FindAll(ctx context.Context, collection string, q store.Query, groupBy []string) ([]ir.IRObject, error) {
	args := ir.O("query", q.Document())
	if len(groupBy) > 0 {
		fields := make(ir.IRArray, len(groupBy))
		for i, f := range groupBy {
			fields[i] = ir.IRString(f)
		}
		args["group_by"] = fields
	}
	a.record("findAll", args)
	return a.MemoryAdapter.FindAll(ctx, collection, q, groupBy)
}

// stepArgs renders the non-empty fields of a step for the trace.
func stepArgs(step Step) ir.IRObject {
	args := ir.IRObject{}
	if step.Record != nil {
		if rec, err := toRecord(step.Record); err == nil {
			args["record"] = rec
		}
	}
	if step.ID != "" {
		args["id"] = ir.IRString(step.ID)
	}
	if step.Where != nil {
		if where, err := toRecord(step.Where); err == nil {
			args["where"] = where
		}
	}
	if step.Expr != "" {
		args["expr"] = ir.IRString(step.Expr)
	}
	if len(step.Fields) > 0 {
		fields := make(ir.IRArray, len(step.Fields))
		for i, f := range step.Fields {
			fields[i] = ir.IRString(f)
		}
		args["fields"] = fields
	}
	if step.Force {
		args["force"] = ir.IRBool(true)
	}
	if step.Component != "" {
		args["component"] = ir.IRString(step.Component)
	}
	if step.Property != "" {
		args["property"] = ir.IRString(step.Property)
	}
	if step.Duration != "" {
		args["duration"] = ir.IRString(step.Duration)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

func summarize(out outcome, err error) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case out.hasRows:
		return fmt.Sprintf("rows: %d", len(out.rows))
	case out.record != nil:
		data, err := ir.MarshalCanonical(out.record)
		if err != nil {
			return "ok"
		}
		return string(data)
	}
	return "ok"
}

func checkExpect(expect *ExpectClause, out outcome, err error) []string {
	if expect == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if expect.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error containing %q, got success", expect.Error)}
		}
		if !strings.Contains(err.Error(), expect.Error) {
			return []string{fmt.Sprintf("expected error containing %q, got %q", expect.Error, err.Error())}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	var errs []string
	if expect.Count != nil && len(out.rows) != *expect.Count {
		errs = append(errs, fmt.Sprintf("expected %d rows, got %d", *expect.Count, len(out.rows)))
	}
	if expect.Record != nil {
		if msg := matchFields(out.record, expect.Record); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

func stepQuery(step Step) (store.Query, error) {
	q := store.Query{Expr: step.Expr}
	if step.Where != nil {
		where, err := toRecord(step.Where)
		if err != nil {
			return store.Query{}, fmt.Errorf("where: %w", err)
		}
		q.Where = where
	}
	return q, nil
}

// toRecord converts decoded YAML into a record.
func toRecord(raw map[string]any) (ir.IRObject, error) {
	if raw == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromNative(raw)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
