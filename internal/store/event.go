package store

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/recbind/internal/ir"
)

// EventKind identifies what happened to a collection. Kinds are bit flags so
// a subscription can select several at once.
type EventKind uint8

const (
	// EventAdded fires when records are written into the cache.
	EventAdded EventKind = 1 << iota
	// EventRemoved fires when records are ejected from the cache.
	EventRemoved
	// EventGroupBy fires after a group-by query resolves.
	EventGroupBy

	// EventAll selects every kind.
	EventAll = EventAdded | EventRemoved | EventGroupBy
)

// String returns the lower-case event name ("add", "remove", "groupBy").
func (k EventKind) String() string {
	var names []string
	if k&EventAdded != 0 {
		names = append(names, "add")
	}
	if k&EventRemoved != 0 {
		names = append(names, "remove")
	}
	if k&EventGroupBy != 0 {
		names = append(names, "groupBy")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Event is a single collection notification.
//
// Records is set for EventAdded and EventRemoved; Query is set for
// EventGroupBy. Listeners must treat Records as read-only.
type Event struct {
	Kind       EventKind
	Collection string
	Records    []ir.IRObject
	Query      Query
}

// Channel is the typed event bus of one collection.
//
// Thread-safety: Subscribe, Emit and unsubscribe are safe from any goroutine.
// Listeners run synchronously on the emitting goroutine, in subscription
// order, without any channel lock held.
type Channel struct {
	name string

	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	fn     func(Event)
	kinds  EventKind
	active atomic.Bool
}

func newChannel(name string) *Channel {
	return &Channel{name: name}
}

// Name returns the collection this channel belongs to.
func (c *Channel) Name() string {
	return c.name
}

// Subscribe registers fn for the given kinds (all kinds when none given) and
// returns an idempotent unsubscribe function. Emits that start after
// unsubscribe returns never invoke fn.
func (c *Channel) Subscribe(fn func(Event), kinds ...EventKind) func() {
	var mask EventKind
	for _, k := range kinds {
		mask |= k
	}
	if mask == 0 {
		mask = EventAll
	}

	sub := &subscription{fn: fn, kinds: mask}
	sub.active.Store(true)

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return func() {
		if !sub.active.Swap(false) {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s == sub {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers ev to every active listener subscribed to ev.Kind.
// ev.Collection is always set to the channel's name.
func (c *Channel) Emit(ev Event) {
	ev.Collection = c.name

	c.mu.Lock()
	snapshot := make([]*subscription, len(c.subs))
	copy(snapshot, c.subs)
	c.mu.Unlock()

	for _, sub := range snapshot {
		if sub.kinds&ev.Kind == 0 || !sub.active.Load() {
			continue
		}
		sub.fn(ev)
	}
}

// Listeners returns the number of active subscriptions.
func (c *Channel) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
