// Package bus is the in-process event distribution layer: publishers emit
// domain events, subscriptions hold filtered bounded buffers, and delivery
// adapters drain those buffers over HTTP.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBufferSize = 100
	maxBufferSize     = 10000
)

// ErrSubscriptionNotFound is returned when draining an unknown or expired subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Filter selects which published events land in a subscription's buffer.
// Zero values mean "no constraint".
type Filter struct {
	Types              []EventType `json:"event_types,omitempty"`
	AgentID            string      `json:"agent_id,omitempty"`
	TaskID             string      `json:"task_id,omitempty"`
	UserID             string      `json:"user_id,omitempty"`
	MinPriority        Priority    `json:"priority_threshold,omitempty"`
	MaxEventsPerMinute int         `json:"max_events_per_minute,omitempty"`
	BufferSize         int         `json:"buffer_size,omitempty"`
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if e.Priority < f.MinPriority {
		return false
	}
	return true
}

// Subscription is one client's filtered, buffered view onto the bus.
type Subscription struct {
	ID       string
	ClientID string

	filter  Filter
	buffer  []Event // oldest first, bounded by filter.BufferSize
	limiter *tokenBucket

	lastActive time.Time
	signal     chan struct{} // pulsed on append; sized 1
}

// Bus fans published events out to matching subscriptions. Publishing never
// blocks: a full buffer silently drops its oldest undelivered event.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	seq  uint64

	droppedTotal   uint64
	publishedTotal uint64

	defaultBuffer int
	now           func() time.Time
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:          make(map[string]*Subscription),
		defaultBuffer: defaultBufferSize,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetDefaultBufferSize overrides the buffer size applied to subscriptions
// that do not request one. Non-positive values are ignored.
func (b *Bus) SetDefaultBufferSize(n int) {
	if n <= 0 {
		return
	}
	if n > maxBufferSize {
		n = maxBufferSize
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultBuffer = n
}

// Subscribe registers a standing interest and returns its subscription ID.
func (b *Bus) Subscribe(clientID string, filter Filter) string {
	sub := &Subscription{
		ID:       uuid.NewString(),
		ClientID: clientID,
		signal:   make(chan struct{}, 1),
	}
	if filter.MaxEventsPerMinute > 0 {
		sub.limiter = newTokenBucket(filter.MaxEventsPerMinute)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if filter.BufferSize <= 0 {
		filter.BufferSize = b.defaultBuffer
	}
	if filter.BufferSize > maxBufferSize {
		filter.BufferSize = maxBufferSize
	}
	sub.filter = filter
	sub.lastActive = b.now()
	b.subs[sub.ID] = sub
	return sub.ID
}

// Unsubscribe drops the subscription's buffer and rate-limit state.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[subscriptionID]; !ok {
		return false
	}
	delete(b.subs, subscriptionID)
	return true
}

// Publish stamps the event with a sequence number and an ID if missing, then
// appends it to every matching subscription's buffer, dropping each buffer's
// oldest entry on overflow. Events are delivered at most once per buffer slot.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.seq++
	e.Seq = b.seq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	b.publishedTotal++

	if e.Expired(now) {
		b.droppedTotal++
		return e
	}

	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		if sub.limiter != nil && !sub.limiter.allow(now) {
			b.droppedTotal++
			continue
		}
		if len(sub.buffer) >= sub.filter.BufferSize {
			// Drop oldest rather than block the publisher.
			sub.buffer = sub.buffer[1:]
			b.droppedTotal++
		}
		sub.buffer = append(sub.buffer, e)
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
	return e
}

// Drain is the single read primitive used by both delivery adapters.
//
// When lastEventID is supplied and still present in the buffer, Drain returns
// up to max events strictly after it without consuming the buffer (resumable
// read). Otherwise it returns up to max events from the buffer head, removing
// them. Expired events are discarded, never delivered.
func (b *Bus) Drain(subscriptionID string, max int, lastEventID string) ([]Event, error) {
	if max <= 0 {
		max = defaultBufferSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	now := b.now()
	sub.lastActive = now

	// Purge expired entries first so they never count against max.
	live := sub.buffer[:0]
	for _, e := range sub.buffer {
		if e.Expired(now) {
			b.droppedTotal++
			continue
		}
		live = append(live, e)
	}
	sub.buffer = live

	if lastEventID != "" {
		if idx, found := indexOf(sub.buffer, lastEventID); found {
			out := sub.buffer[idx+1:]
			if len(out) > max {
				out = out[:max]
			}
			return append([]Event(nil), out...), nil
		}
	}

	n := min(max, len(sub.buffer))
	out := append([]Event(nil), sub.buffer[:n]...)
	sub.buffer = append(sub.buffer[:0], sub.buffer[n:]...)
	return out, nil
}

// WaitDrain blocks up to wait for at least one event to become drainable,
// then drains. It wakes on publish rather than busy-spinning. Used by the
// pull delivery adapter for bounded-wait polling.
func (b *Bus) WaitDrain(ctx context.Context, subscriptionID string, max int, lastEventID string, wait time.Duration) ([]Event, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		events, err := b.Drain(subscriptionID, max, lastEventID)
		if err != nil || len(events) > 0 {
			return events, err
		}

		b.mu.Lock()
		sub, ok := b.subs[subscriptionID]
		if !ok {
			b.mu.Unlock()
			return nil, ErrSubscriptionNotFound
		}
		signal := sub.signal
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-signal:
			// New event landed; loop and drain.
		}
	}
}

// Signal returns the subscription's wakeup channel, pulsed whenever an event
// is appended. The push delivery adapter selects on it. Returns nil when the
// subscription is gone.
func (b *Bus) Signal(subscriptionID string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[subscriptionID]; ok {
		return sub.signal
	}
	return nil
}

// SweepIdle removes subscriptions that have not been drained within the idle
// timeout. Returns the number removed.
func (b *Bus) SweepIdle(idleTimeout time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	removed := 0
	for id, sub := range b.subs {
		if now.Sub(sub.lastActive) > idleTimeout {
			delete(b.subs, id)
			removed++
		}
	}
	return removed
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats reports publish/drop totals for the metrics endpoint.
func (b *Bus) Stats() (published, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishedTotal, b.droppedTotal
}

// Buffered returns the number of undelivered events for a subscription.
func (b *Bus) Buffered(subscriptionID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return 0, ErrSubscriptionNotFound
	}
	return len(sub.buffer), nil
}

func indexOf(events []Event, id string) (int, bool) {
	for i, e := range events {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}
