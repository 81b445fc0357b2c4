// Package realtime fans committed contact changes out to subscribers.
package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/edgard/lifetracker/internal/database"
)

var (
	// ErrLagging terminates a subscription whose buffer overflowed.
	ErrLagging = errors.New("subscriber lagging behind, events dropped")
	// ErrClosed terminates subscriptions when the broadcaster shuts down.
	ErrClosed = errors.New("broadcaster closed")
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Filter selects the events a subscription receives. Zero fields match anything.
type Filter struct {
	Table  string
	Event  database.EventType
	UserID int64
}

// Match reports whether event passes the filter.
func (f Filter) Match(event database.ChangeEvent) bool {
	if f.Table != "" && f.Table != event.Table {
		return false
	}
	if f.Event != "" && f.Event != "*" && f.Event != event.Type {
		return false
	}
	if f.UserID != 0 && f.UserID != event.UserID() {
		return false
	}
	return true
}

// Subscription is a filtered stream of change events.
type Subscription struct {
	ID     string
	filter Filter
	ch     chan database.ChangeEvent
	b      *Broadcaster
	err    error
	closed bool
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan database.ChangeEvent {
	return s.ch
}

// Err returns why the subscription ended: nil after Unsubscribe,
// ErrLagging or ErrClosed otherwise.
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.err
}

// Unsubscribe ends the subscription. Once it returns, no further events
// are received from C. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.remove(s, nil)
}

// Broadcaster delivers change events to subscribers. Publish calls are
// serialized, so each subscriber sees events in publish order.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster whose subscriptions buffer up to
// buffer events. A non-positive buffer uses DefaultBuffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscription for events matching filter.
// Subscribing to a closed broadcaster returns an already ended subscription.
func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		filter: filter,
		ch:     make(chan database.ChangeEvent, b.buffer),
		b:      b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.err = ErrClosed
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub.ID] = sub
	b.logger.Debug("Subscription added", "subscription_id", sub.ID,
		"table", filter.Table, "event", filter.Event, "user_id", filter.UserID)
	return sub
}

// Publish delivers event to every matching subscription without blocking.
// A subscription whose buffer is full is ended with ErrLagging.
func (b *Broadcaster) Publish(event database.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.filter.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Dropping lagging subscription", "subscription_id", sub.ID, "buffer", b.buffer)
			b.remove(sub, ErrLagging)
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		b.remove(sub, ErrClosed)
	}
}

// Watch calls fn for each event matching filter until ctx is done or the
// subscription ends. It returns ctx.Err() or the subscription error.
func (b *Broadcaster) Watch(ctx context.Context, filter Filter, fn func(database.ChangeEvent)) error {
	sub := b.Subscribe(filter)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.C():
			if !ok {
				return sub.Err()
			}
			fn(event)
		}
	}
}

// remove ends sub. Pending buffered events are discarded so nothing is
// received after the call. b.mu must be held.
func (b *Broadcaster) remove(sub *Subscription, reason error) {
	if sub.closed {
		return
	}
	delete(b.subs, sub.ID)
	sub.closed = true
	sub.err = reason
	for {
		select {
		case <-sub.ch:
			continue
		default:
		}
		break
	}
	close(sub.ch)
}
