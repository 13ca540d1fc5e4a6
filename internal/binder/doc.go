// Package binder implements the RecordBinder: a per-collection facade over the
// shared store that adds debounced saves, guarded push injection, and live
// bindings from queries or single records to UI component properties.
//
// ARCHITECTURE:
//
// One Binder wraps one collection. It owns two pieces of state:
//   - pending saves: record id → armed debounce timer (at most one per id)
//   - bindings: component id → property → subscription set
//
// Everything else lives in the store. Binders never cache records themselves.
//
// Scheduling:
// Renders and debounce timer callbacks go through a loop.Scheduler, so in
// production they run one at a time on the loop goroutine. Binding
// re-evaluation runs synchronously on whichever goroutine mutated the store;
// only the ForceUpdate that follows is deferred.
//
// Push injection:
// The binder registers itself as the collection's SafeInject hook. Records
// pushed through store.Inject skip the cache while a local save for the same
// id is pending, so a stale server copy never overwrites a local edit that
// has not been persisted yet.
package binder
