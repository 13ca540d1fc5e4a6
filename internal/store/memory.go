package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/recbind/internal/ir"
)

// MemoryAdapter is an in-process Adapter intended for tests and demos.
// It also counts calls so tests can assert which requests reached it.
type MemoryAdapter struct {
	mu      sync.RWMutex
	records map[string]map[string]ir.IRObject
	calls   map[string]int

	// FailWith, when set, is returned by every call.
	FailWith error
}

// NewMemoryAdapter creates an empty adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		records: make(map[string]map[string]ir.IRObject),
		calls:   make(map[string]int),
	}
}

// Seed writes records straight into the adapter, bypassing call counting.
func (a *MemoryAdapter) Seed(collection, idAttribute string, recs ...ir.IRObject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range recs {
		id, _ := rec.Str(idAttribute)
		a.bucket(collection)[id] = rec.Clone()
	}
}

// Calls returns how many times op ("create", "update", "destroy", "find",
// "findAll") was invoked.
func (a *MemoryAdapter) Calls(op string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls[op]
}

// Stored returns a copy of the persisted record, if any.
func (a *MemoryAdapter) Stored(collection, id string) (ir.IRObject, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[collection][id]
	return rec.Clone(), ok
}

func (a *MemoryAdapter) Create(_ context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["create"]++
	if a.FailWith != nil {
		return nil, a.FailWith
	}
	a.bucket(collection)[id] = rec.Clone()
	return rec.Clone(), nil
}

func (a *MemoryAdapter) Update(_ context.Context, collection, id string, rec ir.IRObject) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["update"]++
	if a.FailWith != nil {
		return nil, a.FailWith
	}
	a.bucket(collection)[id] = rec.Clone()
	return rec.Clone(), nil
}

func (a *MemoryAdapter) Destroy(_ context.Context, collection, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["destroy"]++
	if a.FailWith != nil {
		return a.FailWith
	}
	if _, ok := a.records[collection][id]; !ok {
		return fmt.Errorf("destroy %s/%s: %w", collection, id, ErrNotFound)
	}
	delete(a.records[collection], id)
	return nil
}

func (a *MemoryAdapter) Find(_ context.Context, collection, id string) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["find"]++
	if a.FailWith != nil {
		return nil, a.FailWith
	}
	rec, ok := a.records[collection][id]
	if !ok {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (a *MemoryAdapter) FindAll(_ context.Context, collection string, q Query, groupBy []string) ([]ir.IRObject, error) {
	a.mu.Lock()
	a.calls["findAll"]++
	if a.FailWith != nil {
		a.mu.Unlock()
		return nil, a.FailWith
	}
	ids := make([]string, 0, len(a.records[collection]))
	for id := range a.records[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	all := make([]ir.IRObject, len(ids))
	for i, id := range ids {
		all[i] = a.records[collection][id].Clone()
	}
	a.mu.Unlock()

	m, err := CompileQuery(q)
	if err != nil {
		return nil, err
	}
	var rows []ir.IRObject
	for _, rec := range all {
		ok, err := m.Match(rec)
		if err != nil || !ok {
			continue
		}
		rows = append(rows, rec)
	}
	if len(groupBy) > 0 {
		return GroupRows(rows, groupBy), nil
	}
	return rows, nil
}

// bucket must be called with a.mu held.
func (a *MemoryAdapter) bucket(collection string) map[string]ir.IRObject {
	b, ok := a.records[collection]
	if !ok {
		b = make(map[string]ir.IRObject)
		a.records[collection] = b
	}
	return b
}
