package binder

import (
	"fmt"
	"sync"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// renderProperty is the binding key used by Bind. The leading "$" keeps it
// apart from any property name a component would declare.
const renderProperty = "$render"

// Component is a UI element a binder can drive.
type Component interface {
	// ComponentID returns an identity token, stable for the component's life
	// and unique among live components.
	ComponentID() string

	// ForceUpdate asks the component to re-render. Always called through the
	// scheduler, never from inside a store event.
	ForceUpdate()
}

// PropertySetter is implemented by components that expose bound values as
// named properties. Binders call SetProperty on every re-evaluation.
type PropertySetter interface {
	SetProperty(name string, value any)
}

// Binding is the typed handle returned by BindAll and BindOne.
type Binding[T any] struct {
	property string
	unbind   func() error

	mu    sync.RWMutex
	value T
}

// Value returns the latest evaluated value.
func (h *Binding[T]) Value() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Property returns the bound property name.
func (h *Binding[T]) Property() string {
	return h.property
}

// Unbind cancels this binding. Returns ErrNotBound if it was already unbound
// or replaced by a later bind of the same property.
func (h *Binding[T]) Unbind() error {
	return h.unbind()
}

func (h *Binding[T]) set(v T) {
	h.mu.Lock()
	h.value = v
	h.mu.Unlock()
}

// IDSource yields the id a BindOne binding resolves on each evaluation.
type IDSource interface {
	resolveID() string
}

type fixedID string

func (id fixedID) resolveID() string { return string(id) }

type idFunc func() string

func (fn idFunc) resolveID() string { return fn() }

// FixedID binds to one record id.
func FixedID(id string) IDSource {
	return fixedID(id)
}

// IDFunc binds to whatever id fn returns at each evaluation. An empty id
// binds nil.
func IDFunc(fn func() string) IDSource {
	return idFunc(fn)
}

// bindingEntry is the subscription set of one (component, property) pair.
type bindingEntry struct {
	offs []func()
}

func (e *bindingEntry) cancel() {
	for _, off := range e.offs {
		off()
	}
}

// Bind re-renders c after every event on the collection.
func (b *Binder) Bind(c Component) {
	onDataChange := func(store.Event) {
		b.sched.Defer(c.ForceUpdate)
	}
	b.register(c.ComponentID(), renderProperty, b.Mon(onDataChange, store.EventAll))
}

// BindAll binds property of c to the cached records matching q. The handle
// holds the result synchronously and is re-evaluated on every add or remove
// on the collection; each evaluation sets the property (when c is a
// PropertySetter), calls onChange (when non-nil) and defers a re-render.
// onChange must not write to the collection itself; defer such writes through
// the scheduler.
//
// A query whose expression does not compile is rejected before anything is
// bound.
func (b *Binder) BindAll(c Component, q store.Query, property string, onChange func(store.ResultSet)) (*Binding[store.ResultSet], error) {
	if _, err := store.CompileQuery(q); err != nil {
		return nil, fmt.Errorf("bindAll %s.%s: %w", b.name, property, err)
	}

	h := &Binding[store.ResultSet]{property: property}
	evaluate := func() {
		rs, err := b.Filter(q)
		if err != nil {
			b.logger.Warn("bindAll:error", "property", property, "error", err.Error())
			return
		}
		h.set(rs)
		assign(c, property, rs)
		if onChange != nil {
			onChange(rs)
		}
		b.sched.Defer(c.ForceUpdate)
	}

	h.unbind = b.bindEntry(c, property, evaluate)
	return h, nil
}

// BindOne binds property of c to a single cached record, re-resolving the id
// through src on every add or remove. Otherwise behaves like BindAll.
func (b *Binder) BindOne(c Component, src IDSource, property string, onChange func(ir.IRObject)) *Binding[ir.IRObject] {
	h := &Binding[ir.IRObject]{property: property}
	evaluate := func() {
		var rec ir.IRObject
		if id := src.resolveID(); id != "" {
			rec, _ = b.Get(id)
		}
		h.set(rec)
		if rec == nil {
			assign(c, property, nil)
		} else {
			assign(c, property, rec)
		}
		if onChange != nil {
			onChange(rec)
		}
		b.sched.Defer(c.ForceUpdate)
	}

	h.unbind = b.bindEntry(c, property, evaluate)
	return h
}

// Unbind cancels the binding of property on c.
func (b *Binder) Unbind(c Component, property string) error {
	return b.unbindEntry(c.ComponentID(), property, nil)
}

// UnbindAll cancels every binding of c. No-op for an unbound component.
func (b *Binder) UnbindAll(c Component) {
	cid := c.ComponentID()

	b.mu.Lock()
	entries := b.offs[cid]
	delete(b.offs, cid)
	b.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

// Bindings returns the number of bound properties of c.
func (b *Binder) Bindings(c Component) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offs[c.ComponentID()])
}

// bindEntry tears down any previous binding of property, subscribes evaluate
// to adds and removes, runs it once, and returns the handle's unbind.
//
// Evaluations of one binding are serialized, so the value computed last is
// the one left on the handle and the component even when the cache is
// mutated from several goroutines. evaluate must therefore not mutate the
// collection synchronously.
func (b *Binder) bindEntry(c Component, property string, evaluate func()) func() error {
	cid := c.ComponentID()
	_ = b.unbindEntry(cid, property, nil)

	var evalMu sync.Mutex
	serial := evaluate
	evaluate = func() {
		evalMu.Lock()
		defer evalMu.Unlock()
		serial()
	}

	off := b.Mon(func(store.Event) { evaluate() }, store.EventAdded, store.EventRemoved)
	entry := b.register(cid, property, off)
	evaluate()

	return func() error {
		return b.unbindEntry(cid, property, entry)
	}
}

// register stores a new subscription set, canceling whatever a concurrent
// bind left in its place.
func (b *Binder) register(cid, property string, offs ...func()) *bindingEntry {
	entry := &bindingEntry{offs: offs}

	b.mu.Lock()
	props, ok := b.offs[cid]
	if !ok {
		props = make(map[string]*bindingEntry)
		b.offs[cid] = props
	}
	prev := props[property]
	props[property] = entry
	b.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return entry
}

// unbindEntry removes the binding of property on cid. With want set, only that
// exact entry is removed.
func (b *Binder) unbindEntry(cid, property string, want *bindingEntry) error {
	b.mu.Lock()
	props := b.offs[cid]
	entry, ok := props[property]
	if !ok || (want != nil && entry != want) {
		b.mu.Unlock()
		return fmt.Errorf("unbind %s.%s: %w", b.name, property, ErrNotBound)
	}
	delete(props, property)
	if len(props) == 0 {
		delete(b.offs, cid)
	}
	b.mu.Unlock()

	entry.cancel()
	return nil
}

func assign(c Component, property string, value any) {
	if ps, ok := c.(PropertySetter); ok {
		ps.SetProperty(property, value)
	}
}
