package binder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/loop"
	"github.com/roach88/recbind/internal/store"
)

// DefaultSaveDelay is the quiet period before a debounced save is persisted.
const DefaultSaveDelay = 700 * time.Millisecond

// refreshDataMethod is registered on every collection the binder defines.
const refreshDataMethod = "refreshData"

const tracerName = "github.com/roach88/recbind/internal/binder"

// Config describes the collection a Binder wraps.
type Config struct {
	// Name is the collection name. Required.
	Name string

	// IDAttribute names the id field. Defaults to store.DefaultIDAttribute.
	IDAttribute string

	// Schema is optional CUE source every created or saved record must satisfy.
	Schema string

	// Methods are extra record methods; refreshData is always added.
	Methods map[string]store.Method
}

// Binder is the RecordBinder for one collection.
//
// Thread-safety: all methods are safe for concurrent use. No component,
// listener, or onChange callback is invoked while the binder's lock is held.
// Re-evaluations of a single binding run one at a time.
type Binder struct {
	name      string
	store     *store.Store
	mapper    *store.Mapper
	sched     loop.Scheduler
	clock     loop.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	saveDelay time.Duration

	mu     sync.Mutex
	saving map[string]*pendingSave
	offs   map[string]map[string]*bindingEntry
}

// Option configures a Binder.
type Option func(*Binder)

// WithScheduler sets the scheduler for deferred renders and save timers.
// Defaults to loop.Detached.
func WithScheduler(s loop.Scheduler) Option {
	return func(b *Binder) {
		if s != nil {
			b.sched = s
		}
	}
}

// WithClock sets the clock used to stamp deviceCts. Defaults to loop.SystemClock.
func WithClock(c loop.Clock) Option {
	return func(b *Binder) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the binder logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSaveDelay overrides DefaultSaveDelay.
func WithSaveDelay(d time.Duration) Option {
	return func(b *Binder) {
		if d > 0 {
			b.saveDelay = d
		}
	}
}

// WithTracer sets the tracer for fetch spans. Defaults to the global
// OpenTelemetry provider, which is a no-op unless one is installed.
func WithTracer(t trace.Tracer) Option {
	return func(b *Binder) {
		if t != nil {
			b.tracer = t
		}
	}
}

// New defines cfg.Name in st and returns its binder. The binder becomes the
// collection's SafeInject hook and registers a refreshData method.
func New(st *store.Store, cfg Config, opts ...Option) (*Binder, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("new binder: empty collection name")
	}

	b := &Binder{
		name:      cfg.Name,
		store:     st,
		sched:     loop.Detached{},
		clock:     loop.SystemClock{},
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		saveDelay: DefaultSaveDelay,
		saving:    make(map[string]*pendingSave),
		offs:      make(map[string]map[string]*bindingEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("collection", cfg.Name)

	methods := make(map[string]store.Method, len(cfg.Methods)+1)
	for k, fn := range cfg.Methods {
		methods[k] = fn
	}
	methods[refreshDataMethod] = b.refreshData

	mapper, err := st.DefineMapper(cfg.Name, store.MapperConfig{
		IDAttribute: cfg.IDAttribute,
		Schema:      cfg.Schema,
		Methods:     methods,
		SafeInject:  b.SafeInject,
	})
	if err != nil {
		return nil, fmt.Errorf("new binder: %w", err)
	}
	b.mapper = mapper
	return b, nil
}

// Name returns the collection name.
func (b *Binder) Name() string {
	return b.name
}

// Mapper returns the collection's mapper.
func (b *Binder) Mapper() *store.Mapper {
	return b.mapper
}

// Create stamps params with deviceCts when it is unset (absent, null, "",
// false or 0) and creates the record.
func (b *Binder) Create(ctx context.Context, params ir.IRObject) (ir.IRObject, error) {
	params = params.Clone()
	if params == nil {
		params = ir.IRObject{}
	}
	if unset(params[deviceCtsAttribute]) {
		params[deviceCtsAttribute] = ir.IRString(ServerDateTimeFormat(b.clock.Now()))
	}

	ctx, span := b.startSpan(ctx, "binder.create")
	rec, err := b.store.Create(ctx, b.name, params)
	endSpan(span, err)
	if err != nil {
		b.logger.Warn("create:error", "error", err.Error())
		return nil, err
	}
	return rec, nil
}

func unset(v ir.IRValue) bool {
	switch v := v.(type) {
	case nil, ir.IRNull:
		return true
	case ir.IRString:
		return v == ""
	case ir.IRBool:
		return !bool(v)
	case ir.IRInt:
		return v == 0
	}
	return false
}

// Destroy deletes rec through the store.
func (b *Binder) Destroy(ctx context.Context, rec ir.IRObject) error {
	id, ok := b.mapper.ID(rec)
	if !ok {
		return ErrMissingID
	}
	return b.store.Destroy(ctx, b.name, id)
}

// Get returns the cached record with id.
func (b *Binder) Get(id string) (ir.IRObject, bool) {
	return b.store.Get(b.name, id)
}

// Remove ejects rec from the cache only.
func (b *Binder) Remove(rec ir.IRObject) (ir.IRObject, bool) {
	id, ok := b.mapper.ID(rec)
	if !ok {
		return nil, false
	}
	return b.store.Remove(b.name, id)
}

// RefreshData re-fetches rec from the adapter, bypassing the cache.
func (b *Binder) RefreshData(ctx context.Context, rec ir.IRObject) (ir.IRObject, error) {
	out, err := b.store.Call(ctx, b.name, refreshDataMethod, rec)
	if err != nil {
		return nil, err
	}
	fresh, _ := out.(ir.IRObject)
	return fresh, nil
}

func (b *Binder) refreshData(ctx context.Context, rec ir.IRObject) (any, error) {
	id, ok := b.mapper.ID(rec)
	if !ok {
		return nil, ErrMissingID
	}
	return b.store.Find(ctx, b.name, id, store.FindOptions{Force: true})
}

// Find returns one record, from the cache unless opts.Force is set.
func (b *Binder) Find(ctx context.Context, id string, opts store.FindOptions) (ir.IRObject, error) {
	ctx, span := b.startSpan(ctx, "binder.find", attribute.String("recbind.id", id))
	rec, err := b.store.Find(ctx, b.name, id, opts)
	endSpan(span, err)
	if err != nil {
		b.logger.Warn("find:error", "id", id, "error", err.Error())
		return nil, err
	}
	b.logger.Debug("find:success", "id", id)
	return rec, nil
}

// FindAll fetches the records matching q.
func (b *Binder) FindAll(ctx context.Context, q store.Query, opts store.FindAllOptions) ([]ir.IRObject, error) {
	ctx, span := b.startSpan(ctx, "binder.findAll", attribute.String("recbind.query", q.String()))
	rows, err := b.store.FindAll(ctx, b.name, q, opts)
	if err != nil {
		endSpan(span, err)
		b.logger.Warn("findAll:error", "query", q.String(), "error", err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("recbind.count", len(rows)))
	endSpan(span, nil)
	b.logger.Debug("findAll:success", "count", len(rows), "query", q.String())
	return rows, nil
}

// GroupBy runs an uncached aggregate query and returns one row per distinct
// combination of fields, each with a "count". The rows never enter the cache.
// Listeners receive an EventGroupBy carrying q once the rows are in.
func (b *Binder) GroupBy(ctx context.Context, q store.Query, fields []string) ([]ir.IRObject, error) {
	var grouped []ir.IRObject
	opts := store.FindAllOptions{
		Force:             true,
		GroupBy:           fields,
		UsePendingFindAll: false,
		AfterFindAll: func(_ store.Query, rows []ir.IRObject) []ir.IRObject {
			grouped = rows
			return nil
		},
	}

	// Some transports drop requests with an empty parameter set.
	request := q
	request.Params = ir.O("_", ir.IRBool(true)).Merge(q.Params)

	ctx, span := b.startSpan(ctx, "binder.groupBy", attribute.String("recbind.query", q.String()))
	_, err := b.store.FindAll(ctx, b.name, request, opts)
	if err != nil {
		endSpan(span, err)
		b.logger.Warn("groupBy:error", "query", q.String(), "error", err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("recbind.count", len(grouped)))
	endSpan(span, nil)

	b.logger.Debug("groupBy:success", "count", len(grouped), "query", q.String())
	if err := b.store.Emit(b.name, store.Event{Kind: store.EventGroupBy, Query: q}); err != nil {
		return nil, err
	}
	if grouped == nil {
		grouped = []ir.IRObject{}
	}
	return grouped, nil
}

// Filter answers q from the cache.
func (b *Binder) Filter(q store.Query) (store.ResultSet, error) {
	return b.store.Filter(b.name, q)
}

// Mon subscribes fn to this collection's events of the given kinds (all when
// none given). The returned function unsubscribes and is idempotent.
func (b *Binder) Mon(fn func(store.Event), kinds ...store.EventKind) func() {
	ch, err := b.store.Events(b.name)
	if err != nil {
		// The collection was defined in New, so this cannot happen.
		panic(fmt.Sprintf("binder %s: %v", b.name, err))
	}
	return ch.Subscribe(fn, kinds...)
}

func (b *Binder) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("recbind.collection", b.name))
	return b.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
