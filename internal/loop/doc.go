// Package loop provides the single-goroutine task loop that drives binder
// callbacks.
//
// ARCHITECTURE:
//
// Single-Owner Event Loop:
// Every deferred render and every debounce timer callback is posted to one
// FIFO queue and executed by Loop.Run on exactly one goroutine. This gives
// binder callbacks the same guarantees a browser event loop gives page
// scripts:
//   - Callbacks never run concurrently with each other
//   - A callback deferred during a tick runs on a later tick, never inline
//   - Timer callbacks run on the loop, never on the runtime timer goroutine
//
// Callers that need determinism in tests use testutil.ManualScheduler, which
// implements the same Scheduler interface without goroutines or wall time.
package loop
