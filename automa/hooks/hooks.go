// Package hooks implements the event/feedback bus (C5): a fan-out
// publish/subscribe mechanism an Automa's PostEvent method publishes
// every posted Event to (observable via Automa.Subscribe), before routing
// the event to whichever EventHandler answers it (RequestFeedback and
// RequestFeedbackAsync go to the handler without publishing), plus the
// cross-process broker used when request_feedback_async needs to reach
// a subscriber living in a different process of the same pool.
package hooks

import (
	"context"
	"errors"
	"sync"
)

// Event is the payload posted via post_event/request_feedback and
// bubbled up through parent Automas (spec.md invariant 7). Type
// discriminates the event kind; Data carries type-specific payload;
// Progress is an optional 0..1 completion hint.
type Event struct {
	// Type names the event kind, e.g. "worker_started", "worker_completed".
	Type string
	// WorkerKey identifies the worker that raised the event, if any.
	WorkerKey string
	// AutomaPath is the dotted path of Automa keys from the root to the
	// Automa that owns WorkerKey, so subscribers registered higher up the
	// tree can tell which nested Automa an event bubbled from.
	AutomaPath []string
	// Data carries the event-specific payload.
	Data any
	// Progress is an optional completion hint in [0, 1].
	Progress *float64
}

// Feedback is the value returned to a worker that called
// request_feedback/request_feedback_async, once a subscriber answers.
type Feedback struct {
	Data any
}

type (
	// Bus publishes events to registered subscribers in a fan-out pattern.
	// The bus is thread-safe and supports concurrent Publish, Register, and
	// Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. This fail-fast
	// behavior lets a critical subscriber (e.g. a durable audit log) halt
	// the run if it cannot record an event.
	Bus interface {
		// Publish delivers event to every currently registered subscriber,
		// in registration order, stopping at the first subscriber error.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister. Returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	//
	// HandleEvent should return an error only if processing fails in a way
	// that should halt the run; the bus stops iterating at the first error,
	// so non-critical failures should be logged and swallowed instead.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus. Close is
	// idempotent and safe to call multiple times or concurrently.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu    sync.RWMutex
		subs  map[*subscription]Subscriber
		order []*subscription
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a new in-memory event bus. The returned bus is
// thread-safe and ready for immediate use.
//
// Typical usage:
//
//	bus := hooks.NewBus()
//	sub, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
//	    log.Printf("received: %s", evt.Type)
//	    return nil
//	}))
//	defer sub.Close()
//	bus.Publish(ctx, hooks.Event{Type: "worker_started"})
func NewBus() Bus {
	return &bus{subs: make(map[*subscription]Subscriber)}
}

// Publish delivers event to every currently registered subscriber in
// registration order, stopping at the first subscriber error. The
// snapshot of subscribers is captured before iteration begins, so
// registrations/unregistrations during Publish do not affect the
// current delivery. order (not a map range) is what makes the
// registration-order guarantee hold — Go map iteration is randomized.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subs[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus and returns a Subscription handle that
// can be closed to unregister it.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subs[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
// The entry in order is left in place (Publish skips it via the subs
// lookup) rather than compacted, so Close never pays an O(n) slice
// rewrite on a long-lived bus with frequent subscribe/unsubscribe churn.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return nil
}
