// Package worker implements the Worker contract (C1): the unit of work
// dispatched by an Automa's scheduler, its local_space, and the
// delegation surface (ferry_to, post_event, request_feedback,
// interact_with_human) a worker uses to talk to its owning Automa.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bitsky-tech/automa/automa/hooks"
	"github.com/bitsky-tech/automa/automa/signature"
)

// Arguments is the fully bound call: a positional tuple plus a keyword
// map, the shape every Worker.Run/ARun receives after the binding
// engine (C3) has resolved dependencies, propagated inputs, and applied
// descriptor injection.
type Arguments struct {
	Positional []any
	Keyword    map[string]any
}

// RuntimeContext is the value injected for System("runtime_context"): a
// read-only snapshot of invocation metadata a worker can use for
// logging or branching without reaching into its parent.
type RuntimeContext struct {
	WorkerKey    string
	AutomaPath   []string
	InvocationID string
	StartedAt    time.Time
}

// Worker is the minimal contract every worker satisfies: a stable Key
// and an inspected Signature. Concrete workers additionally implement
// SyncWorker, AsyncWorker, or both; the scheduler prefers AsyncWorker
// when present and otherwise dispatches SyncWorker.Run on the shared
// Pool — the Go rendition of "exactly one of run/arun is user-supplied,
// and the default fallback routes arun through the pool running run".
type Worker interface {
	Key() string
	Signature() signature.Buckets
}

// SyncWorker is implemented by workers whose work runs synchronously on
// the shared Pool.
type SyncWorker interface {
	Worker
	Run(ctx context.Context, args Arguments) (any, error)
}

// AsyncWorker is implemented by workers whose ARun the scheduler calls on
// a goroutine of its own, outside the shared Pool, typically because it needs to await
// external feedback or perform its own internal concurrency.
type AsyncWorker interface {
	Worker
	ARun(ctx context.Context, args Arguments) (any, error)
}

// Parent is the surface an Automa exposes to the workers (and nested
// Automas) it owns. It is declared here, not on the Automa type itself,
// so this package never imports the root automa package — Automa
// satisfies Parent structurally.
type Parent interface {
	// FerryTo dynamically adds a worker invocation to the next dynamic
	// step, the Go rendition of ferry_to.
	FerryTo(ctx context.Context, key string, args Arguments) error
	// PostEvent publishes evt on the owning Automa's hooks.Bus and lets it
	// bubble to parent Automas.
	PostEvent(ctx context.Context, evt hooks.Event) error
	// RequestFeedback hands evt to the nearest matching event handler
	// (without publishing it on the hooks.Bus) and blocks for a
	// synchronous answer.
	RequestFeedback(ctx context.Context, evt hooks.Event) (hooks.Feedback, error)
	// RequestFeedbackAsync hands evt to the nearest matching event handler
	// (without publishing it on the hooks.Bus) and returns a feedback ID a
	// subscriber can answer out of band (directly, or via a
	// hooks.RedisBroker for cross-process delivery), plus a channel that
	// resolves once an answer arrives.
	RequestFeedbackAsync(ctx context.Context, evt hooks.Event) (feedbackID string, result <-chan hooks.Feedback, err error)
	// InteractWithHuman requests a human-in-the-loop answer for the
	// calling worker. Returns interaction.ErrPaused (via err) when no
	// answer is available yet; callers must propagate that error as-is.
	InteractWithHuman(ctx context.Context, workerKey string, evt hooks.Event) (any, error)
}

// Base is an embeddable helper providing local_space, a process-wide
// InstanceID, and Parent delegation, so concrete worker types don't each
// reimplement this bookkeeping.
type Base struct {
	key        string
	instanceID uint64
	parent     Parent
	localSpace map[string]any
}

var instanceCounter uint64

// NewBase constructs a Base for the worker identified by key. InstanceID
// is assigned from a process-wide monotonic counter, purely for log
// correlation — Go has no object identity hash to key on the way the
// original implementation keys on id(self).
func NewBase(key string) Base {
	return Base{
		key:        key,
		instanceID: atomic.AddUint64(&instanceCounter, 1),
		localSpace: make(map[string]any),
	}
}

// Key returns the worker's declared key.
func (b *Base) Key() string { return b.key }

// InstanceID returns this worker instance's process-wide ordinal.
func (b *Base) InstanceID() uint64 { return b.instanceID }

// SetParent wires the worker to its owning Automa. Called once, at
// registration time.
func (b *Base) SetParent(p Parent) { b.parent = p }

// LocalSpace returns the worker's private, persistent key/value store.
// Values placed here survive across dynamic steps and across a
// snapshot/restore round trip (invariant 6), making it the place a
// worker keeps state between an interact_with_human pause and its
// eventual resume.
func (b *Base) LocalSpace() map[string]any {
	if b.localSpace == nil {
		b.localSpace = make(map[string]any)
	}
	return b.localSpace
}

// FerryTo delegates to the parent Automa.
func (b *Base) FerryTo(ctx context.Context, key string, args Arguments) error {
	return b.parent.FerryTo(ctx, key, args)
}

// PostEvent delegates to the parent Automa.
func (b *Base) PostEvent(ctx context.Context, evt hooks.Event) error {
	evt.WorkerKey = b.key
	return b.parent.PostEvent(ctx, evt)
}

// RequestFeedback delegates to the parent Automa.
func (b *Base) RequestFeedback(ctx context.Context, evt hooks.Event) (hooks.Feedback, error) {
	evt.WorkerKey = b.key
	return b.parent.RequestFeedback(ctx, evt)
}

// RequestFeedbackAsync delegates to the parent Automa.
func (b *Base) RequestFeedbackAsync(ctx context.Context, evt hooks.Event) (string, <-chan hooks.Feedback, error) {
	evt.WorkerKey = b.key
	return b.parent.RequestFeedbackAsync(ctx, evt)
}

// InteractWithHuman delegates to the parent Automa, identifying the
// caller by this worker's key.
func (b *Base) InteractWithHuman(ctx context.Context, evt hooks.Event) (any, error) {
	return b.parent.InteractWithHuman(ctx, b.key, evt)
}

// NewInvocationID returns a fresh invocation identifier, used to
// correlate a single worker dispatch across logs, events, and feedback
// requests.
func NewInvocationID() string {
	return uuid.NewString()
}
