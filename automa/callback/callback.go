// Package callback implements the callback pipeline (C7): global ∪
// automa ∪ slot hook composition around every worker invocation, with
// exception-type annotation dispatch and suppression-if-any semantics
// for error handlers.
package callback

import (
	"context"
	"reflect"
)

// Invocation describes one worker dispatch to on_worker_start/end/error
// hooks.
type Invocation struct {
	WorkerKey  string
	IsTopLevel bool
	AutomaPath []string
	Arguments  any
}

// Callback is the pluggable hook set around a worker invocation. A zero
// Callback (all fields nil) is valid and simply does nothing.
type Callback struct {
	// OnStart runs after argument binding (Invocation.Arguments holds the
	// bound arguments) and before the worker body; a worker whose binding
	// fails reaches no hook at all. If it
	// returns a non-nil context, the scheduler uses that context (rather
	// than the one OnStart was called with) for the worker body and for
	// the paired OnEnd/OnError call, so a callback can attach request-
	// scoped values (e.g. a tracing span) visible to its own later hooks.
	OnStart func(ctx context.Context, inv Invocation) context.Context
	// OnEnd runs after a successful worker return.
	OnEnd func(ctx context.Context, inv Invocation, result any)
	// OnError runs when the worker body returns an error whose runtime
	// type is assignable to ErrorType (or ErrorType is nil, matching
	// everything). Returning true suppresses the error: the run continues
	// as if the worker had returned nil.
	OnError func(ctx context.Context, inv Invocation, err error) (suppress bool)
	// ErrorType restricts OnError to errors assignable to this type. A
	// nil ErrorType matches every error, mirroring an annotation of the
	// base Exception type.
	ErrorType reflect.Type
}

// Builder constructs a Callback for a given worker slot at bind time,
// letting callback wiring depend on per-slot configuration (e.g. a
// builder that only attaches tracing to workers tagged "external").
type Builder func(workerKey string) Callback

// Pipeline composes callbacks from three scopes — global, automa, and
// slot — in that order, and dispatches on_worker_start/end/error across
// all of them for one invocation.
type Pipeline struct {
	global []Callback
	automa []Callback
	slot   []Callback
}

// NewPipeline composes global, automa, and slot-scoped callback lists,
// in that precedence order, into a single Pipeline (spec's "effective
// list is global ∪ automa ∪ slot").
func NewPipeline(global, automa, slot []Callback) *Pipeline {
	return &Pipeline{global: global, automa: automa, slot: slot}
}

func (p *Pipeline) all() []Callback {
	out := make([]Callback, 0, len(p.global)+len(p.automa)+len(p.slot))
	out = append(out, p.global...)
	out = append(out, p.automa...)
	out = append(out, p.slot...)
	return out
}

// Start runs every composed OnStart hook, in composition order, feeding
// each hook's returned context forward to the next, and returns the
// final context the worker body (and the paired End/Error call) should
// use.
func (p *Pipeline) Start(ctx context.Context, inv Invocation) context.Context {
	for _, cb := range p.all() {
		if cb.OnStart == nil {
			continue
		}
		if next := cb.OnStart(ctx, inv); next != nil {
			ctx = next
		}
	}
	return ctx
}

// End runs every composed OnEnd hook, in composition order.
func (p *Pipeline) End(ctx context.Context, inv Invocation, result any) {
	for _, cb := range p.all() {
		if cb.OnEnd != nil {
			cb.OnEnd(ctx, inv, result)
		}
	}
}

// Error runs every composed OnError hook whose ErrorType matches err's
// dynamic type (or is nil), and reports suppression if any matching hook
// returned true. Non-matching hooks are skipped entirely for this error,
// per the declared-annotation exception dispatch rule.
func (p *Pipeline) Error(ctx context.Context, inv Invocation, err error) (suppressed bool) {
	errType := reflect.TypeOf(err)
	for _, cb := range p.all() {
		if cb.OnError == nil {
			continue
		}
		if !matches(cb.ErrorType, errType) {
			continue
		}
		if cb.OnError(ctx, inv, err) {
			suppressed = true
		}
	}
	return suppressed
}

func matches(annotation, errType reflect.Type) bool {
	if annotation == nil {
		return true
	}
	if errType == nil {
		return false
	}
	if errType == annotation {
		return true
	}
	if annotation.Kind() == reflect.Interface {
		return errType.Implements(annotation)
	}
	return errType.AssignableTo(annotation)
}
