package loop

import "time"

// Detached is a Scheduler without a loop: Defer starts a goroutine and
// AfterFunc uses a runtime timer. Callbacks may run concurrently, so it suits
// one-shot programs whose callbacks are independent.
//
// Thread-safety: Detached is stateless and safe for concurrent use.
type Detached struct{}

// Defer runs fn on a new goroutine.
func (Detached) Defer(fn func()) {
	go fn()
}

// AfterFunc runs fn on its own goroutine after d.
func (Detached) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
