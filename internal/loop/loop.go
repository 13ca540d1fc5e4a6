package loop

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran, is running, or the timer was already stopped.
	Stop() bool
}

// Scheduler defers work to a later tick of a single-owner loop.
//
// Defer is the zero-delay tick; AfterFunc arms a cancelable timer whose
// callback is delivered through the same loop.
type Scheduler interface {
	Defer(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
}

// Loop is the production Scheduler.
//
// Thread-safety model:
//   - Defer(), AfterFunc(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Loop struct {
	queue  *taskQueue
	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for dropped-task diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a stopped loop; call Run to start draining it.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:  newTaskQueue(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Defer queues fn for the next tick. Tasks posted after Stop are dropped.
func (l *Loop) Defer(fn func()) {
	if !l.queue.Enqueue(fn) {
		l.logger.Debug("loop stopped, dropping task")
	}
}

// AfterFunc arms a timer that posts fn onto the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Defer(func() {
			if t.state.CompareAndSwap(timerPending, timerFired) {
				fn()
			}
		})
	})
	return t
}

// Run drains the loop until ctx is cancelled or Stop is called.
// Blocks; must be called from exactly ONE goroutine.
//
// A panicking task is logged and the loop keeps going, so one broken
// component cannot stall renders for every other component.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("loop starting")

	for {
		if task, ok := l.queue.TryDequeue(); ok {
			l.runTask(task)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// A stale signal can remain after the queue was drained, so only
			// a closed and empty queue ends the loop.
			if l.queue.Drained() {
				l.logger.Debug("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the queued tasks are drained.
func (l *Loop) Stop() {
	l.queue.Close()
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "panic", r)
		}
	}()
	task()
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type loopTimer struct {
	timer *time.Timer
	state atomic.Int32
}

// Stop cancels the timer. A callback already posted to the loop but not yet
// run is also prevented.
func (t *loopTimer) Stop() bool {
	if !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.timer.Stop()
	return true
}
