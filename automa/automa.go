// Package automa implements the GraphAutoma execution engine: the DAG
// compiler and scheduler/dispatcher (C4, C9) composing the worker
// contract, arg-binding engine, event/feedback bus, HITL interaction
// subsystem, callback pipeline, and snapshot/serializer packages into
// the public Automa type.
package automa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/binding"
	"github.com/bitsky-tech/automa/automa/callback"
	"github.com/bitsky-tech/automa/automa/engine"
	"github.com/bitsky-tech/automa/automa/hooks"
	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/signature"
	"github.com/bitsky-tech/automa/automa/snapshot"
	"github.com/bitsky-tech/automa/automa/telemetry"
	"github.com/bitsky-tech/automa/automa/worker"
)

// Descriptor and rule aliases re-exported at the package root so callers
// declaring workers don't need to import the signature/binding packages
// directly for the common case.
type (
	// ArgsMappingRule controls how a worker's dependency outputs map to
	// its call arguments. See binding.ArgsMappingRule.
	ArgsMappingRule = binding.ArgsMappingRule
	// ResultDispatchingRule controls how a producer's output is shaped
	// for each successor. See binding.ResultDispatchingRule.
	ResultDispatchingRule = binding.ResultDispatchingRule
)

const (
	ReceiverAsIs       = binding.ReceiverAsIs
	ReceiverUnpack     = binding.ReceiverUnpack
	ReceiverMerge      = binding.ReceiverMerge
	ReceiverSuppressed = binding.ReceiverSuppressed
	SenderAsIs         = binding.SenderAsIs
	SenderInOrder      = binding.SenderInOrder
)

// From, System, and Distribute re-export the descriptor constructors
// (automa/signature, automa/binding) at the package root.
var (
	From       = signature.From
	System     = signature.System
	Distribute = binding.Distribute
)

// EventHandler reacts to a posted event. sender is non-nil only when the
// event originated from RequestFeedback/RequestFeedbackAsync, letting
// the same handler shape serve post_event (sender == nil) and the
// feedback-requesting calls (spec.md §4.5's "handlers receive (event) or
// (event, FeedbackSender) depending on arity").
type EventHandler func(ctx context.Context, evt hooks.Event, sender *FeedbackSender) error

// FeedbackSender is the one-shot mailbox a feedback handler answers.
// Send is safe to call at most meaningfully once; subsequent calls are
// no-ops.
type FeedbackSender struct {
	ch   chan hooks.Feedback
	once sync.Once
}

// Send delivers fb to the waiting requester. Only the first call has any
// effect.
func (s *FeedbackSender) Send(fb hooks.Feedback) {
	s.once.Do(func() {
		s.ch <- fb
		close(s.ch)
	})
}

// Automa is the executable DAG of workers: itself a worker.Worker (and
// worker.AsyncWorker), so Automas compose by nesting. It owns the
// topology (WorkerSlots + forward/reverse adjacency), the deferred
// mutation queue, the event-handler registry, the HITL interaction
// controller, and a reference to the shared pool used by every
// run-style worker beneath it.
type Automa struct {
	worker.Base

	name string
	path []string

	// topMu guards slots/order/outputKey — the declared topology.
	topMu     sync.RWMutex
	slots     map[string]*WorkerSlot
	slotOrder []string
	outputKey string

	running  atomic.Bool
	deferred *deferredQueue

	parent worker.Parent
	pool   *engine.Pool

	options RunningOptions

	handlersMu sync.RWMutex
	handlers   map[string]EventHandler // "" key is the default/nil handler

	// bus fans every posted event out to subscribers registered via
	// Subscribe, independent of whichever handler (if any) answers a
	// request_feedback call. PostEvent publishes to it before handler
	// lookup, so an audit-log subscriber sees every event regardless of
	// routing, at every Automa level the event bubbles through.
	bus hooks.Bus

	feedbackMu      sync.Mutex
	pendingFeedback map[string]*FeedbackSender

	interactionCtl *interaction.Controller

	logger telemetry.Logger
	metrics telemetry.Metrics
	tracer telemetry.Tracer

	snapshotStore   snapshot.Store
	resetLocalSpace bool

	// restoreMu guards restoredOutputs: the completed-worker output
	// buffer a prior Restore loaded from a snapshot, consumed by the
	// next Arun so a worker whose producers already ran before the
	// snapshot was taken does not have to re-run them.
	restoreMu       sync.Mutex
	restoredOutputs map[string]any

	// runMu serializes Arun invocations on this Automa instance. The
	// spec asks for isolated concurrent arun contexts on the same
	// Automa; this implementation instead gives each Automa instance
	// one run at a time, which keeps dynamic-step topology mutation
	// trivially race-free. See DESIGN.md.
	runMu sync.Mutex
}

// New constructs an Automa. A nil pool is given a fresh default-sized
// engine.Pool unless a parent later adopts this Automa and hands it its
// own pool.
func New(name string, opts ...Option) *Automa {
	a := &Automa{
		Base:            worker.NewBase(name),
		name:            name,
		path:            []string{name},
		slots:           make(map[string]*WorkerSlot),
		deferred:        newDeferredQueue(),
		handlers:        make(map[string]EventHandler),
		bus:             hooks.NewBus(),
		pendingFeedback: make(map[string]*FeedbackSender),
		interactionCtl:  interaction.NewController(),
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.NewNoopMetrics(),
		tracer:          telemetry.NewNoopTracer(),
		snapshotStore:   snapshot.NewMemStore(),
		resetLocalSpace: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pool == nil {
		a.pool = engine.NewPool(0)
	}
	return a
}

// Key returns the Automa's name, satisfying worker.Worker so an Automa
// can be nested as a worker inside another Automa.
func (a *Automa) Key() string { return a.name }

// Signature reports a single VAR_KEYWORD bucket: a nested Automa accepts
// whatever kwargs its start workers need, propagated the same way a
// top-level arun's kwargs are.
func (a *Automa) Signature() signature.Buckets {
	return signature.Declare(signature.Param{Name: "kwargs", Kind: signature.VarKeyword})
}

// ARun dispatches this Automa as a nested AsyncWorker: it runs its own
// full arun invocation using args as the call's positional/keyword
// inputs and returns the active output worker's result.
func (a *Automa) ARun(ctx context.Context, args worker.Arguments) (any, error) {
	return a.Arun(ctx, args.Positional, args.Keyword)
}

func (a *Automa) adopt(nested *Automa) {
	nested.parent = a
	nested.path = append(append([]string(nil), a.path...), nested.name)
	nested.pool = a.pool
}

// AddWorker registers a worker under key with the given dependencies and
// binding rules. Called before any run has started, it mutates the
// topology immediately (a duplicate key is an AutomaDeclarationError, per
// spec.md §7); called while a run is in flight, it is queued through the
// deferred-task queue and applied at the next dynamic step (duplicate
// there is an AutomaRuntimeError instead).
func (a *Automa) AddWorker(
	key string,
	w worker.Worker,
	deps []string,
	isStart, isOutput bool,
	argsRule ArgsMappingRule,
	resultRule ResultDispatchingRule,
	callbackBuilders ...callback.Builder,
) error {
	if key == "" {
		return automaerr.Declaration(key, "worker key must not be empty", nil)
	}
	if nested, ok := w.(*Automa); ok {
		a.adopt(nested)
	} else if b, ok := w.(interface{ SetParent(worker.Parent) }); ok {
		b.SetParent(a)
	}

	task := deferredTask{
		kind:                  deferredAddWorker,
		key:                   key,
		worker:                w,
		dependencies:          append([]string(nil), deps...),
		isStart:               isStart,
		isOutput:              isOutput,
		argsMappingRule:       argsRule,
		resultDispatchingRule: resultRule,
		callbackBuilders:      append([]callback.Builder(nil), callbackBuilders...),
	}

	if a.running.Load() {
		a.deferred.enqueue(task)
		return nil
	}
	return a.applyAddWorker(task, false)
}

// AddFuncAsWorker wraps fn — a func(ctx, ...any) (any, error) or
// func(ctx, map[string]any) (any, error) — as a SyncWorker via
// signature.InspectFunc and registers it under key, the convenience path
// spec.md §6 calls add_func_as_worker.
func (a *Automa) AddFuncAsWorker(
	key string,
	fn any,
	deps []string,
	isStart, isOutput bool,
	argsRule ArgsMappingRule,
	resultRule ResultDispatchingRule,
	callbackBuilders ...callback.Builder,
) error {
	buckets, err := signature.InspectFunc(fn)
	if err != nil {
		return automaerr.Declaration(key, "add_func_as_worker: "+err.Error(), err)
	}
	fw := &funcWorker{Base: worker.NewBase(key), fn: fn, buckets: buckets}
	return a.AddWorker(key, fw, deps, isStart, isOutput, argsRule, resultRule, callbackBuilders...)
}

// RemoveWorker unregisters key, or queues the removal if a run is in
// flight.
func (a *Automa) RemoveWorker(key string) error {
	task := deferredTask{kind: deferredRemoveWorker, key: key}
	if a.running.Load() {
		a.deferred.enqueue(task)
		return nil
	}
	return a.applyRemoveWorker(task, false)
}

// AddDependency adds dep as a dependency of key, or queues it.
func (a *Automa) AddDependency(key, dep string) error {
	task := deferredTask{kind: deferredAddDependency, key: key, dependsOn: dep}
	if a.running.Load() {
		a.deferred.enqueue(task)
		return nil
	}
	return a.applyAddDependency(task, false)
}

// SetOutputWorker marks key as the (sole) active output worker, or
// queues the change. Processed through the same deferred queue as the
// other mutations so a racing RemoveWorker of the previous output
// resolves deterministically by FIFO enqueue order (SPEC_FULL.md §6
// Open Question 2).
func (a *Automa) SetOutputWorker(key string) error {
	task := deferredTask{kind: deferredSetOutputWorker, key: key}
	if a.running.Load() {
		a.deferred.enqueue(task)
		return nil
	}
	return a.applySetOutputWorker(task, false)
}

// RegisterEventHandler registers handler for eventType, or as the
// default handler if eventType is "".
func (a *Automa) RegisterEventHandler(eventType string, handler EventHandler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.handlers[eventType] = handler
}

// AnswerFeedback resolves a pending RequestFeedbackAsync by feedback ID,
// the out-of-band delivery path a hooks.RedisBroker subscriber (or any
// other external answerer) uses.
func (a *Automa) AnswerFeedback(id string, fb hooks.Feedback) error {
	a.feedbackMu.Lock()
	sender, ok := a.pendingFeedback[id]
	if ok {
		delete(a.pendingFeedback, id)
	}
	a.feedbackMu.Unlock()
	if !ok {
		return automaerr.Runtime(fmt.Sprintf("no pending feedback request with id %q", id), nil)
	}
	sender.Send(fb)
	return nil
}

// Subscribe registers sub on this Automa's event bus: sub's HandleEvent
// fires for every event posted here, in registration order, regardless
// of whether any EventHandler answers it. Useful for audit logging or a
// cross-process hooks.RedisBroker forwarder that wants to observe every
// event instead of answering a specific one.
func (a *Automa) Subscribe(sub hooks.Subscriber) (hooks.Subscription, error) {
	return a.bus.Register(sub)
}

func (a *Automa) lookupHandler(eventType string) (EventHandler, bool) {
	a.handlersMu.RLock()
	defer a.handlersMu.RUnlock()
	if h, ok := a.handlers[eventType]; ok {
		return h, true
	}
	h, ok := a.handlers[""]
	return h, ok
}

// PostEvent implements worker.Parent: it is handled by the nearest
// Automa (this one, or the first ancestor) with a matching handler, by
// event type first, falling back to the default ("") handler; otherwise
// it bubbles up, and is dropped (debug-logged) at the root.
func (a *Automa) PostEvent(ctx context.Context, evt hooks.Event) error {
	if len(evt.AutomaPath) == 0 {
		evt.AutomaPath = append([]string(nil), a.path...)
	}
	if err := a.bus.Publish(ctx, evt); err != nil {
		return err
	}
	if h, ok := a.lookupHandler(evt.Type); ok {
		return h(ctx, evt, nil)
	}
	if a.parent != nil {
		return a.parent.PostEvent(ctx, evt)
	}
	a.logger.Debug(ctx, "event dropped: no handler registered", "event_type", evt.Type, "worker_key", evt.WorkerKey)
	return nil
}

// RequestFeedback implements worker.Parent: it blocks until the matching
// handler answers the sender or ctx is done (spec.md §4.5's blocking
// variant, legal only from a pool-dispatched worker).
func (a *Automa) RequestFeedback(ctx context.Context, evt hooks.Event) (hooks.Feedback, error) {
	if len(evt.AutomaPath) == 0 {
		evt.AutomaPath = append([]string(nil), a.path...)
	}
	h, ok := a.lookupHandler(evt.Type)
	if !ok {
		if a.parent != nil {
			return a.parent.RequestFeedback(ctx, evt)
		}
		return hooks.Feedback{}, automaerr.Runtime(fmt.Sprintf("no feedback handler registered for event type %q", evt.Type), nil)
	}
	sender := &FeedbackSender{ch: make(chan hooks.Feedback, 1)}
	if err := h(ctx, evt, sender); err != nil {
		return hooks.Feedback{}, err
	}
	select {
	case fb := <-sender.ch:
		return fb, nil
	case <-ctx.Done():
		return hooks.Feedback{}, automaerr.Timeout(evt.WorkerKey, "request_feedback timed out waiting for an answer")
	}
}

// RequestFeedbackAsync implements worker.Parent: it registers a pending
// mailbox and returns immediately with an ID an out-of-band answerer
// (AnswerFeedback, or a hooks.RedisBroker subscriber) resolves later.
func (a *Automa) RequestFeedbackAsync(ctx context.Context, evt hooks.Event) (string, <-chan hooks.Feedback, error) {
	if len(evt.AutomaPath) == 0 {
		evt.AutomaPath = append([]string(nil), a.path...)
	}
	h, ok := a.lookupHandler(evt.Type)
	if !ok {
		if a.parent != nil {
			return a.parent.RequestFeedbackAsync(ctx, evt)
		}
		return "", nil, automaerr.Runtime(fmt.Sprintf("no feedback handler registered for event type %q", evt.Type), nil)
	}
	id := worker.NewInvocationID()
	sender := &FeedbackSender{ch: make(chan hooks.Feedback, 1)}
	a.feedbackMu.Lock()
	a.pendingFeedback[id] = sender
	a.feedbackMu.Unlock()
	if err := h(ctx, evt, sender); err != nil {
		a.feedbackMu.Lock()
		delete(a.pendingFeedback, id)
		a.feedbackMu.Unlock()
		return "", nil, err
	}
	return id, sender.ch, nil
}

// InteractWithHuman implements worker.Parent. Interactions are tracked
// exclusively on the top-level Automa (spec.md §4.6 step 1), so a nested
// Automa bubbles the request to its parent instead of using its own
// controller.
func (a *Automa) InteractWithHuman(ctx context.Context, workerKey string, evt hooks.Event) (any, error) {
	if a.parent != nil {
		return a.parent.InteractWithHuman(ctx, workerKey, evt)
	}
	return a.interactionCtl.Request(workerKey, a.path, evt)
}

// FerryTo implements worker.Parent: it schedules key in the next dynamic
// step of the currently active arun invocation that ctx belongs to.
func (a *Automa) FerryTo(ctx context.Context, key string, args worker.Arguments) error {
	rs := runStateFromContext(ctx)
	if rs == nil {
		return automaerr.Runtime("ferry_to called outside an active arun invocation", nil)
	}
	rs.addFerried(key, args)
	return nil
}

// takeRestoredOutputs returns and clears the worker output buffer loaded
// by the most recent Restore, so it is replayed into exactly the next
// Arun invocation and never stale-applied to one after it.
func (a *Automa) takeRestoredOutputs() map[string]any {
	a.restoreMu.Lock()
	defer a.restoreMu.Unlock()
	out := a.restoredOutputs
	a.restoredOutputs = nil
	return out
}

// resolveSystem implements binding.InjectionResolver's System half for a
// given runtime invocation.
func (a *Automa) resolveSystem(rs *runState, workerKey, tag string) (any, error) {
	switch {
	case tag == "automa":
		return a, nil
	case tag == "runtime_context":
		return worker.RuntimeContext{
			WorkerKey:    workerKey,
			AutomaPath:   append([]string(nil), a.path...),
			InvocationID: rs.invocationID,
			StartedAt:    rs.startedAt,
		}, nil
	case strings.HasPrefix(tag, "automa:"):
		subKey := strings.TrimPrefix(tag, "automa:")
		a.topMu.RLock()
		slot, ok := a.slots[subKey]
		a.topMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no sub-automa registered under key %q", subKey)
		}
		nested, ok := slot.Worker.(*Automa)
		if !ok {
			return nil, fmt.Errorf("worker %q is not an Automa", subKey)
		}
		return nested, nil
	default:
		return nil, fmt.Errorf("unrecognized System tag %q", tag)
	}
}

// funcWorker adapts a plain func recognized by signature.InspectFunc
// into a SyncWorker, the backing type for AddFuncAsWorker.
type funcWorker struct {
	worker.Base
	fn      any
	buckets signature.Buckets
}

func (f *funcWorker) Signature() signature.Buckets { return f.buckets }

func (f *funcWorker) Run(ctx context.Context, args worker.Arguments) (any, error) {
	if f.buckets.VarKeyword != nil {
		fn, ok := f.fn.(func(context.Context, map[string]any) (any, error))
		if !ok {
			return nil, automaerr.Runtime(fmt.Sprintf("add_func_as_worker: worker %q: fn does not match func(context.Context, map[string]any) (any, error)", f.Key()), nil)
		}
		return fn(ctx, args.Keyword)
	}
	fn, ok := f.fn.(func(context.Context, ...any) (any, error))
	if !ok {
		return nil, automaerr.Runtime(fmt.Sprintf("add_func_as_worker: worker %q: fn does not match func(context.Context, ...any) (any, error)", f.Key()), nil)
	}
	return fn(ctx, args.Positional...)
}
