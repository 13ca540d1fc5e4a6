package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/recbind/internal/loop"
)

// ManualScheduler implements loop.Scheduler without goroutines or wall time.
//
// Deferred tasks wait until Flush; timers fire only when Advance moves the
// virtual clock past their deadline. Tests therefore control exactly which
// tick every callback lands on.
//
// Thread-safety: scheduling methods are safe for concurrent use, but Flush
// and Advance run callbacks on the calling goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	tasks  []func()
	timers []*manualTimer
	seq    int
}

// NewManualScheduler creates a scheduler whose virtual clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual time, so the scheduler can double as a loop.Clock.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Defer queues fn for the next Flush.
func (s *ManualScheduler) Defer(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, fn)
}

// AfterFunc arms a virtual timer.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{
		owner:    s,
		deadline: s.now.Add(d),
		seq:      s.seq,
		fn:       fn,
	}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ActiveTimers returns the number of armed timers.
func (s *ManualScheduler) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Flush runs queued tasks until none remain, including tasks queued by
// tasks. Returns the number of tasks run.
func (s *ManualScheduler) Flush() int {
	ran := 0
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return ran
		}
		task := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()

		task()
		ran++
	}
}

// Advance moves the virtual clock forward by d, firing due timers in deadline
// order. Each timer callback is followed by a Flush, mirroring a loop that
// drains its queue between timer deliveries.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		due := s.nextDue(target)
		if due == nil {
			s.now = target
			s.mu.Unlock()
			s.Flush()
			return
		}
		s.now = due.deadline
		s.removeTimer(due)
		s.mu.Unlock()

		due.fn()
		s.Flush()
	}
}

// nextDue must be called with s.mu held.
func (s *ManualScheduler) nextDue(target time.Time) *manualTimer {
	if len(s.timers) == 0 {
		return nil
	}
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].deadline.Equal(s.timers[j].deadline) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].deadline.Before(s.timers[j].deadline)
	})
	if s.timers[0].deadline.After(target) {
		return nil
	}
	return s.timers[0]
}

// removeTimer must be called with s.mu held.
func (s *ManualScheduler) removeTimer(t *manualTimer) bool {
	for i, candidate := range s.timers {
		if candidate == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	owner    *ManualScheduler
	deadline time.Time
	seq      int
	fn       func()
}

// Stop disarms the timer; false if it already fired or was stopped.
func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.owner.removeTimer(t)
}
