// Package notify implements the bounded, time-evicted notification
// feed fed by push-channel subscriptions.
//
// All timer management lives inside the Feed: eviction, dismissal and
// Clear cancel the affected timers in one place, so a stale timer can
// never fire against an item that was already removed.
package notify

import (
	"sync"
	"time"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

const (
	// DefaultCapacity is the maximum number of notifications held at
	// any time; insertion beyond it silently drops the oldest.
	DefaultCapacity = 10

	// DefaultTTL is how long a notification lives before the feed
	// auto-removes it.
	DefaultTTL = 10 * time.Second
)

// Notification is one feed entry. ID is a local monotonic counter,
// never derived from an envelope.
type Notification struct {
	ID        uint64    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Feed is a bounded newest-first queue with TTL eviction.
type Feed struct {
	mu     sync.Mutex
	items  []Notification
	timers map[uint64]*time.Timer
	nextID uint64

	capacity int
	ttl      time.Duration
	now      func() time.Time

	// onChange, when set, runs after every mutation with a snapshot
	// of the feed. It runs outside the feed lock.
	onChange func([]Notification)
}

// Option customizes a Feed.
type Option func(*Feed)

// WithCapacity overrides the item cap.
func WithCapacity(n int) Option {
	return func(f *Feed) { f.capacity = n }
}

// WithTTL overrides the auto-removal delay.
func WithTTL(d time.Duration) Option {
	return func(f *Feed) { f.ttl = d }
}

// WithOnChange registers a listener invoked with a snapshot after
// every mutation. Intended for pushing feed updates into a UI.
func WithOnChange(fn func([]Notification)) Option {
	return func(f *Feed) { f.onChange = fn }
}

// NewFeed creates an empty feed.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{
		timers:   make(map[uint64]*time.Timer),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Push prepends a notification, evicting the oldest beyond the cap,
// and schedules its TTL removal. It returns the assigned id.
func (f *Feed) Push(message string, kind Kind, data any) uint64 {
	f.mu.Lock()

	f.nextID++
	n := Notification{
		ID:        f.nextID,
		Message:   message,
		Kind:      kind,
		Data:      data,
		CreatedAt: f.now(),
	}

	f.items = append([]Notification{n}, f.items...)

	// Evicted items must not leave a live timer behind: a dangling
	// timer would later double-remove whatever took the slot.
	for len(f.items) > f.capacity {
		evicted := f.items[len(f.items)-1]
		f.items = f.items[:len(f.items)-1]
		f.cancelTimerLocked(evicted.ID)
	}

	id := n.ID
	f.timers[id] = time.AfterFunc(f.ttl, func() {
		f.Dismiss(id)
	})

	f.mu.Unlock()
	f.notifyChanged()
	return id
}

// Dismiss removes a notification and cancels its timer. Unknown ids
// are a no-op, which also makes the TTL callback safe when the item
// was dismissed or evicted first.
func (f *Feed) Dismiss(id uint64) {
	f.mu.Lock()

	found := false
	for i, n := range f.items {
		if n.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			found = true
			break
		}
	}
	f.cancelTimerLocked(id)

	f.mu.Unlock()
	if found {
		f.notifyChanged()
	}
}

// Clear removes everything and cancels all pending timers.
func (f *Feed) Clear() {
	f.mu.Lock()

	f.items = nil
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}

	f.mu.Unlock()
	f.notifyChanged()
}

// Items returns the current notifications, newest first.
func (f *Feed) Items() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the current item count.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *Feed) cancelTimerLocked(id uint64) {
	if t, ok := f.timers[id]; ok {
		t.Stop()
		delete(f.timers, id)
	}
}

func (f *Feed) notifyChanged() {
	if f.onChange != nil {
		f.onChange(f.Items())
	}
}
