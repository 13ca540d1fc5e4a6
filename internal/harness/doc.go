// Package harness runs scripted binder scenarios and compares their traces
// against golden files.
//
// A scenario seeds an in-memory adapter, drives one collection's binder
// through a flow of steps, and asserts on the resulting trace, the cache,
// the adapter and the bound components.
//
// # Scenario Format
//
//	name: debounced_save
//	description: "Only the last of several quick saves reaches the adapter"
//	collection: task
//	seed:
//	  - { id: a, status: open }
//	setup:
//	  - op: find_all
//	flow:
//	  - op: save
//	    record: { id: a, status: done }
//	  - op: advance
//	    duration: 700ms
//	assertions:
//	  - type: trace_count
//	    event: adapter:update
//	    count: 1
//	  - type: stored_state
//	    id: a
//	    expect: { status: done }
//
// # Steps
//
//   - create, save, save_now, inject: take a record
//   - find, remove, destroy, refresh: take an id
//   - find_all, group_by: take where/expr (group_by also fields)
//   - bind, bind_all, bind_one, unbind, unbind_all: take a component name
//   - advance: moves the virtual clock by duration, firing due save timers
//   - flush: runs deferred renders
//
// A step may carry an expect clause with an error substring, a row count, or
// a record subset.
//
// # Assertion Types
//
//   - trace_contains: an event ("type:name") appears with matching args
//   - trace_order: events appear in the given order
//   - trace_count: an event appears exactly count times
//   - cache_state, stored_state: a record's fields in the cache or adapter
//   - property: a component property's row count or record
//   - renders: how many times a component re-rendered
//   - pending_save: whether a debounced save is pending for an id
//
// # Deterministic Testing
//
// Every run gets a fresh memory adapter, a manual scheduler whose virtual
// clock starts at Epoch, and sequential ids, so traces are byte-for-byte
// reproducible.
package harness
