package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/recbind/internal/ir"
)

// Store is the observable record store shared by every binder of an
// application. Construct one per application root and hand it to each
// binder.
//
// Thread-safety: all methods are safe for concurrent use. Event listeners run
// on the goroutine that caused the mutation.
type Store struct {
	adapter Adapter
	idGen   IDGenerator
	logger  *slog.Logger

	mu          sync.RWMutex
	collections map[string]*collection

	pendingMu sync.Mutex
	pending   map[string]*pendingFetch
}

// collection is the cache of one mapper. Guarded by Store.mu.
type collection struct {
	mapper    *Mapper
	records   map[string]ir.IRObject
	completed map[string]bool
	events    *Channel
}

// pendingFetch is an in-flight FindAll shared by identical callers.
type pendingFetch struct {
	done chan struct{}
	rows []ir.IRObject
	err  error
}

// FindOptions tune Find.
type FindOptions struct {
	// Force bypasses the cache and always asks the adapter.
	Force bool
}

// FindAllOptions tune FindAll.
type FindAllOptions struct {
	// Force bypasses the completed-query cache.
	Force bool

	// GroupBy asks the adapter for aggregate rows grouped by these fields.
	GroupBy []string

	// UsePendingFindAll lets identical concurrent requests share one
	// adapter call.
	UsePendingFindAll bool

	// AfterFindAll, when set, receives the adapter rows and returns the rows
	// that are merged into the cache and returned to the caller.
	AfterFindAll func(q Query, rows []ir.IRObject) []ir.IRObject
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator sets the generator for ids of records created without one.
// Defaults to UUIDv7Generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		if gen != nil {
			s.idGen = gen
		}
	}
}

// New creates a store in front of adapter.
func New(adapter Adapter, opts ...Option) *Store {
	s := &Store{
		adapter:     adapter,
		idGen:       UUIDv7Generator{},
		logger:      slog.Default(),
		collections: make(map[string]*collection),
		pending:     make(map[string]*pendingFetch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefineMapper registers a collection. Names are unique per store.
func (s *Store) DefineMapper(name string, cfg MapperConfig) (*Mapper, error) {
	if name == "" {
		return nil, fmt.Errorf("define mapper: empty name")
	}
	m, err := newMapper(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("define mapper %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return nil, fmt.Errorf("define mapper %s: %w", name, ErrDuplicateMapper)
	}
	s.collections[name] = &collection{
		mapper:    m,
		records:   make(map[string]ir.IRObject),
		completed: make(map[string]bool),
		events:    newChannel(name),
	}
	s.logger.Debug("mapper defined", "collection", name, "id_attribute", m.idAttribute)
	return m, nil
}

// Mapper returns the mapper registered under name.
func (s *Store) Mapper(name string) (*Mapper, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	return c.mapper, nil
}

// Collections returns the defined collection names in sorted order.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Events returns the event channel of a collection.
func (s *Store) Events(name string) (*Channel, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	return c.events, nil
}

// Emit publishes ev on the collection's channel.
func (s *Store) Emit(name string, ev Event) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	c.events.Emit(ev)
	return nil
}

// Create validates rec, persists it through the adapter, caches the result
// and emits EventAdded. A record without an id is assigned one.
func (s *Store) Create(ctx context.Context, name string, rec ir.IRObject) (ir.IRObject, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	rec = rec.Clone()
	if rec == nil {
		rec = ir.IRObject{}
	}
	id, ok := c.mapper.ID(rec)
	if !ok {
		id = s.idGen.Generate()
		rec[c.mapper.idAttribute] = ir.IRString(id)
	}
	if err := c.mapper.Validate(rec); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	created, err := s.adapter.Create(ctx, name, id, rec)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", name, id, err)
	}
	s.cacheWrite(c, []ir.IRObject{created})
	return created.Clone(), nil
}

// Save validates and persists an existing record, then caches it and emits
// EventAdded.
func (s *Store) Save(ctx context.Context, name string, rec ir.IRObject) (ir.IRObject, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	id, ok := c.mapper.ID(rec)
	if !ok {
		return nil, fmt.Errorf("save %s: %w", name, ErrMissingID)
	}
	if err := c.mapper.Validate(rec); err != nil {
		return nil, fmt.Errorf("save %s: %w", name, err)
	}

	saved, err := s.adapter.Update(ctx, name, id, rec.Clone())
	if err != nil {
		return nil, fmt.Errorf("save %s/%s: %w", name, id, err)
	}
	s.cacheWrite(c, []ir.IRObject{saved})
	return saved.Clone(), nil
}

// Destroy deletes a record through the adapter, ejects it from the cache and
// emits EventRemoved.
func (s *Store) Destroy(ctx context.Context, name, id string) error {
	c, err := s.collection(name)
	if err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	if id == "" {
		return fmt.Errorf("destroy %s: %w", name, ErrMissingID)
	}
	if err := s.adapter.Destroy(ctx, name, id); err != nil {
		return fmt.Errorf("destroy %s/%s: %w", name, id, err)
	}
	s.eject(c, id)
	return nil
}

// Find returns one record. Cached records are returned without an adapter
// call unless opts.Force is set.
func (s *Store) Find(ctx context.Context, name, id string, opts FindOptions) (ir.IRObject, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	if !opts.Force {
		if rec, ok := s.cached(c, id); ok {
			return rec, nil
		}
	}

	rec, err := s.adapter.Find(ctx, name, id)
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", name, id, err)
	}
	s.cacheWrite(c, []ir.IRObject{rec})
	return rec.Clone(), nil
}

// FindAll fetches records matching q.
//
// Without Force, a query that already completed is answered from the cache.
// Rows returned by the adapter (or by AfterFindAll when set) are merged into
// the cache; rows lacking an id are returned but not cached.
func (s *Store) FindAll(ctx context.Context, name string, q Query, opts FindAllOptions) ([]ir.IRObject, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, fmt.Errorf("findAll: %w", err)
	}
	matcher, err := CompileQuery(q)
	if err != nil {
		return nil, fmt.Errorf("findAll %s: %w", name, err)
	}
	key, err := ir.QueryKey(name, q.Document(), opts.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("findAll %s: %w", name, err)
	}

	if !opts.Force && len(opts.GroupBy) == 0 && s.isCompleted(c, key) {
		return s.filterCache(c, matcher), nil
	}

	if !opts.UsePendingFindAll {
		return s.fetchAll(ctx, c, key, q, opts)
	}

	s.pendingMu.Lock()
	if p, ok := s.pending[key]; ok {
		s.pendingMu.Unlock()
		select {
		case <-p.done:
			return cloneRows(p.rows), p.err
		case <-ctx.Done():
			return nil, fmt.Errorf("findAll %s: %w", name, ctx.Err())
		}
	}
	p := &pendingFetch{done: make(chan struct{})}
	s.pending[key] = p
	s.pendingMu.Unlock()

	p.rows, p.err = s.fetchAll(ctx, c, key, q, opts)

	s.pendingMu.Lock()
	delete(s.pending, key)
	s.pendingMu.Unlock()
	close(p.done)

	return cloneRows(p.rows), p.err
}

func (s *Store) fetchAll(ctx context.Context, c *collection, key string, q Query, opts FindAllOptions) ([]ir.IRObject, error) {
	name := c.mapper.name
	rows, err := s.adapter.FindAll(ctx, name, q, opts.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("findAll %s: %w", name, err)
	}
	if opts.AfterFindAll != nil {
		rows = opts.AfterFindAll(q, rows)
	}

	var cacheable []ir.IRObject
	for _, rec := range rows {
		if _, ok := c.mapper.ID(rec); ok {
			cacheable = append(cacheable, rec)
		}
	}
	if len(opts.GroupBy) == 0 {
		s.mu.Lock()
		c.completed[key] = true
		s.mu.Unlock()
	}
	if len(cacheable) > 0 {
		s.cacheWrite(c, cacheable)
	}
	return cloneRows(rows), nil
}

// Get returns the cached record with id.
func (s *Store) Get(name, id string) (ir.IRObject, bool) {
	c, err := s.collection(name)
	if err != nil {
		return nil, false
	}
	return s.cached(c, id)
}

// Filter answers q from the cache only, ordered by id.
func (s *Store) Filter(name string, q Query) (ResultSet, error) {
	c, err := s.collection(name)
	if err != nil {
		return ResultSet{}, fmt.Errorf("filter: %w", err)
	}
	matcher, err := CompileQuery(q)
	if err != nil {
		return ResultSet{}, fmt.Errorf("filter %s: %w", name, err)
	}
	return ResultSet{records: s.filterCache(c, matcher)}, nil
}

// Remove ejects a record from the cache without touching the adapter.
// Returns the ejected record; emits EventRemoved only when something was
// ejected.
func (s *Store) Remove(name, id string) (ir.IRObject, bool) {
	c, err := s.collection(name)
	if err != nil {
		return nil, false
	}
	return s.eject(c, id)
}

// AddToCache writes records straight into the cache, replacing any cached
// version, and emits EventAdded. Every record must carry an id.
func (s *Store) AddToCache(name string, recs ...ir.IRObject) error {
	c, err := s.collection(name)
	if err != nil {
		return fmt.Errorf("addToCache: %w", err)
	}
	for _, rec := range recs {
		if _, ok := c.mapper.ID(rec); !ok {
			return fmt.Errorf("addToCache %s: %w", name, ErrMissingID)
		}
	}
	if len(recs) > 0 {
		s.cacheWrite(c, recs)
	}
	return nil
}

// Inject is the push path for externally sourced data. Each record is handed
// to the mapper's SafeInject hook when one is registered, otherwise written
// with AddToCache.
func (s *Store) Inject(name string, recs ...ir.IRObject) error {
	c, err := s.collection(name)
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if c.mapper.safeInject == nil {
		return s.AddToCache(name, recs...)
	}
	for _, rec := range recs {
		if _, ok := c.mapper.ID(rec); !ok {
			return fmt.Errorf("inject %s: %w", name, ErrMissingID)
		}
		c.mapper.safeInject(rec.Clone())
	}
	return nil
}

// Call invokes a mapper method on rec.
func (s *Store) Call(ctx context.Context, name, method string, rec ir.IRObject) (any, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	fn, ok := c.mapper.methods[method]
	if !ok {
		return nil, fmt.Errorf("call %s.%s: %w", name, method, ErrUnknownMethod)
	}
	return fn(ctx, rec)
}

func (s *Store) collection(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

func (s *Store) cached(c *collection, id string) (ir.IRObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *Store) isCompleted(c *collection, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.completed[key]
}

// cacheWrite stores clones of recs and emits EventAdded after releasing the lock.
func (s *Store) cacheWrite(c *collection, recs []ir.IRObject) {
	written := make([]ir.IRObject, 0, len(recs))
	s.mu.Lock()
	for _, rec := range recs {
		id, ok := c.mapper.ID(rec)
		if !ok {
			continue
		}
		owned := rec.Clone()
		c.records[id] = owned
		written = append(written, owned.Clone())
	}
	s.mu.Unlock()

	if len(written) == 0 {
		return
	}
	s.logger.Debug("cache write", "collection", c.mapper.name, "count", len(written))
	c.events.Emit(Event{Kind: EventAdded, Records: written})
}

func (s *Store) eject(c *collection, id string) (ir.IRObject, bool) {
	s.mu.Lock()
	rec, ok := c.records[id]
	if ok {
		delete(c.records, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.logger.Debug("cache eject", "collection", c.mapper.name, "id", id)
	c.events.Emit(Event{Kind: EventRemoved, Records: []ir.IRObject{rec.Clone()}})
	return rec, true
}

// filterCache returns clones of matching cached records ordered by id.
// Records whose expression evaluation fails are skipped.
func (s *Store) filterCache(c *collection, m *Matcher) []ir.IRObject {
	s.mu.RLock()
	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	candidates := make([]ir.IRObject, len(ids))
	for i, id := range ids {
		candidates[i] = c.records[id].Clone()
	}
	s.mu.RUnlock()

	out := make([]ir.IRObject, 0, len(candidates))
	for _, rec := range candidates {
		ok, err := m.Match(rec)
		if err != nil {
			s.logger.Debug("filter: record skipped", "collection", c.mapper.name, "error", err)
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

func cloneRows(rows []ir.IRObject) []ir.IRObject {
	if rows == nil {
		return nil
	}
	out := make([]ir.IRObject, len(rows))
	for i, rec := range rows {
		out[i] = rec.Clone()
	}
	return out
}
