package automa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/binding"
	"github.com/bitsky-tech/automa/automa/callback"
	"github.com/bitsky-tech/automa/automa/hooks"
	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/worker"
)

type ctxKey struct{}

var runStateKey = ctxKey{}

func withRunState(ctx context.Context, rs *runState) context.Context {
	return context.WithValue(ctx, runStateKey, rs)
}

func runStateFromContext(ctx context.Context) *runState {
	rs, _ := ctx.Value(runStateKey).(*runState)
	return rs
}

// ferriedCall is one pending ferry_to request, applied at the next
// dynamic step.
type ferriedCall struct {
	key  string
	args worker.Arguments
}

// runState holds everything scoped to a single Arun invocation: the
// call's inputs, every worker output produced so far, and which workers
// have completed or parked on a pending interaction. Only ferried is
// ever touched by another goroutine (a worker calling FerryTo from the
// pool or its own ARun); every other field is read and written
// exclusively by the single goroutine driving the dynamic-step loop.
type runState struct {
	invocationID string
	automaPath   []string
	startedAt    time.Time

	inputPositional []any
	inputKeyword    map[string]any

	outputs map[string]any
	done    map[string]bool
	paused  map[string]bool

	firstErr error

	ferriedMu sync.Mutex
	ferried   []ferriedCall
}

func (rs *runState) addFerried(key string, args worker.Arguments) {
	rs.ferriedMu.Lock()
	defer rs.ferriedMu.Unlock()
	rs.ferried = append(rs.ferried, ferriedCall{key: key, args: args})
}

func (rs *runState) takeFerried() []ferriedCall {
	rs.ferriedMu.Lock()
	defer rs.ferriedMu.Unlock()
	out := rs.ferried
	rs.ferried = nil
	return out
}

func (rs *runState) recordError(err error) {
	if rs.firstErr == nil {
		rs.firstErr = err
	}
}

// dispatchResult is what a dispatched worker's goroutine reports back.
type dispatchResult struct {
	output any
	err    error
	paused bool
}

// Arun is the scheduler's run loop (C9): one call compiles the current
// topology, seeds the ready set, and repeatedly drains deferred
// mutations, binds and dispatches newly-ready workers, and reconciles
// their results until the output worker has a result, an unsuppressed
// error aborts the run, or a pending human-in-the-loop interaction with
// no runnable progress forces a snapshot + InteractionException.
func (a *Automa) Arun(
	ctx context.Context,
	positional []any,
	keyword map[string]any,
	feedbacks ...interaction.InteractionFeedback,
) (any, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.running.Store(true)
	defer a.running.Store(false)

	rs := &runState{
		invocationID:    worker.NewInvocationID(),
		automaPath:      append([]string(nil), a.path...),
		startedAt:       time.Now(),
		inputPositional: positional,
		inputKeyword:    keyword,
		outputs:         make(map[string]any),
		done:            make(map[string]bool),
		paused:          make(map[string]bool),
	}
	ctx = withRunState(ctx, rs)

	for key, out := range a.takeRestoredOutputs() {
		rs.outputs[key] = out
		rs.done[key] = true
	}

	if len(feedbacks) > 0 {
		if err := a.interactionCtl.Resume(feedbacks); err != nil {
			return nil, err
		}
	}
	if a.resetLocalSpace && len(feedbacks) == 0 {
		a.resetAllLocalSpaces()
	}

	for {
		if err := a.drainDeferred(); err != nil {
			return nil, err
		}
		dag, err := a.snapshotDAG()
		if err != nil {
			return nil, err
		}

		ready := a.computeReady(dag, rs)
		ferried := rs.takeFerried()
		a.logger.Debug(ctx, "dynamic step", "invocation_id", rs.invocationID, "ready", len(ready), "ferried", len(ferried))

		type pending struct {
			key         string
			ferriedArgs *worker.Arguments
		}
		seen := make(map[string]struct{}, len(ready)+len(ferried))
		var batch []pending
		for _, key := range ready {
			seen[key] = struct{}{}
			batch = append(batch, pending{key: key})
		}
		for i := range ferried {
			f := ferried[i]
			if _, ok := seen[f.key]; ok {
				continue
			}
			seen[f.key] = struct{}{}
			batch = append(batch, pending{key: f.key, ferriedArgs: &f.args})
		}

		if len(batch) == 0 {
			if rs.firstErr != nil {
				return nil, rs.firstErr
			}
			if out, ok := a.finalResult(rs); ok {
				return out, nil
			}
			if a.interactionCtl.HasPending() {
				return a.raiseInteractionException(rs)
			}
			return nil, automaerr.Runtime("arun: no runnable worker, no pending interaction, and the output worker has not produced a result", nil)
		}

		channels := make(map[string]<-chan dispatchResult, len(batch))
		for _, p := range batch {
			ch, err := a.dispatchWorker(ctx, rs, p.key, p.ferriedArgs)
			if err != nil {
				a.logger.Error(ctx, "dispatch failed", "worker_key", p.key, "error", err)
				rs.recordError(err)
				continue
			}
			channels[p.key] = ch
		}
		for key, ch := range channels {
			res := <-ch
			a.reconcile(rs, key, res)
		}

		if rs.firstErr != nil {
			return nil, rs.firstErr
		}
		if out, ok := a.finalResult(rs); ok {
			return out, nil
		}
	}
}

// computeReady returns every slot key whose entire Dependencies list has
// already completed this invocation and that has neither completed nor
// parked on an interaction yet.
func (a *Automa) computeReady(dag *dagState, rs *runState) []string {
	a.topMu.RLock()
	defer a.topMu.RUnlock()
	var ready []string
	for _, key := range a.slotOrder {
		if rs.done[key] || rs.paused[key] {
			continue
		}
		slot := a.slots[key]
		if !slot.IsStart && len(slot.Dependencies) == 0 {
			// A non-start worker with no declared dependencies never runs
			// spontaneously — it is ferry_to-only, reachable solely via an
			// explicit FerryTo from another worker this invocation.
			continue
		}
		allSatisfied := true
		for _, dep := range slot.Dependencies {
			if !rs.done[dep] {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, key)
		}
	}
	return ready
}

// bindArgs assembles the Arguments for slot per spec.md §4.3: dependency
// binding (or, for a start worker, the call's own inputs run through the
// same receiver rule), inputs propagation, and From/System injection.
func (a *Automa) bindArgs(ctx context.Context, rs *runState, dag *dagState, slot *WorkerSlot) (worker.Arguments, error) {
	var deps []binding.DependencyValue
	if slot.IsStart {
		for _, v := range rs.inputPositional {
			deps = append(deps, binding.DependencyValue{Value: v})
		}
	}
	for _, depKey := range slot.Dependencies {
		a.topMu.RLock()
		depSlot := a.slots[depKey]
		a.topMu.RUnlock()
		raw := rs.outputs[depKey]
		successors := dag.forward[depKey]
		idx := indexOf(successors, slot.Key)
		shaped, err := binding.ShapeForSuccessor(depSlot.ResultDispatchingRule, raw, idx, len(successors))
		if err != nil {
			a.logger.Error(ctx, "result shaping failed", "worker_key", slot.Key, "producer_key", depKey, "error", err)
			return worker.Arguments{}, err
		}
		deps = append(deps, binding.DependencyValue{ProducerKey: depKey, Value: shaped})
	}

	kwargs, err := a.startKwargs(slot, rs)
	if err != nil {
		return worker.Arguments{}, err
	}

	resolver := &runResolver{automa: a, rs: rs, workerKey: slot.Key}
	return binding.Bind(slot.Key, slot.Worker.Signature(), slot.ArgsMappingRule, deps, kwargs, resolver)
}

func indexOf(ss []string, target string) int {
	for i, s := range ss {
		if s == target {
			return i
		}
	}
	return -1
}

// startKwargs resolves Distribute(...)-marked call kwargs per start
// worker: each start worker declaring a matching parameter name gets the
// element at its 0-based rank among the start workers sharing that
// name; a non-Distributed value is broadcast unchanged to every start
// worker sharing the name, same as any other worker's kwarg propagation.
func (a *Automa) startKwargs(slot *WorkerSlot, rs *runState) (map[string]any, error) {
	if !slot.IsStart {
		return rs.inputKeyword, nil
	}
	out := make(map[string]any, len(rs.inputKeyword))
	for name, v := range rs.inputKeyword {
		dist, isDist := v.(binding.Distributed)
		if !isDist {
			out[name] = v
			continue
		}
		rank := a.startRank(slot.Key, name)
		if rank < 0 {
			continue
		}
		if rank >= len(dist.Values) {
			return nil, automaerr.ArgsMapping(slot.Key, "", fmt.Sprintf("Distribute(%q) has %d values, not enough for this start worker's rank", name, len(dist.Values)), nil)
		}
		out[name] = dist.Values[rank]
	}
	return out, nil
}

// startRank returns key's 0-based rank among start workers that declare
// a named parameter matching paramName, in slot declaration order, or -1
// if key itself has no such parameter.
func (a *Automa) startRank(key, paramName string) int {
	a.topMu.RLock()
	defer a.topMu.RUnlock()
	rank := -1
	next := 0
	for _, k := range a.slotOrder {
		slot := a.slots[k]
		if !slot.IsStart {
			continue
		}
		if _, ok := slot.Worker.Signature().ByName(paramName); !ok {
			continue
		}
		if k == key {
			rank = next
		}
		next++
	}
	return rank
}

// runResolver implements binding.InjectionResolver against one
// invocation's output buffer and the owning Automa's System tags.
type runResolver struct {
	automa    *Automa
	rs        *runState
	workerKey string
}

func (r *runResolver) ResolveFrom(sourceKey string) (any, bool) {
	v, ok := r.rs.outputs[sourceKey]
	return v, ok
}

func (r *runResolver) ResolveSystem(tag string) (any, error) {
	return r.automa.resolveSystem(r.rs, r.workerKey, tag)
}

// dispatchWorker binds slot's arguments (unless ferriedArgs overrides
// binding entirely, per ferry_to's dependency-bypassing contract), runs
// the callback pipeline's start hook, and launches the worker body on a
// goroutine of its own: an AsyncWorker's ARun is called there directly,
// outside the Pool; a SyncWorker's Run is submitted to the shared Pool.
func (a *Automa) dispatchWorker(ctx context.Context, rs *runState, key string, ferriedArgs *worker.Arguments) (<-chan dispatchResult, error) {
	a.topMu.RLock()
	slot := a.slots[key]
	a.topMu.RUnlock()
	if slot == nil {
		return nil, automaerr.Runtime(fmt.Sprintf("ferry_to: unknown worker %q", key), nil)
	}

	var args worker.Arguments
	if ferriedArgs != nil {
		args = *ferriedArgs
	} else {
		dag, err := a.snapshotDAG()
		if err != nil {
			return nil, err
		}
		bound, err := a.bindArgs(ctx, rs, dag, slot)
		if err != nil {
			return nil, err
		}
		args = bound
	}

	pipeline := a.buildPipeline(slot)
	inv := callback.Invocation{
		WorkerKey:  key,
		IsTopLevel: len(rs.automaPath) <= 1,
		AutomaPath: rs.automaPath,
		Arguments:  args,
	}
	workerCtx := pipeline.Start(ctx, inv)

	a.logger.Debug(workerCtx, "dispatching worker", "worker_key", key, "automa_path", rs.automaPath)
	if err := a.PostEvent(workerCtx, hooks.Event{Type: "worker_started", WorkerKey: key, AutomaPath: rs.automaPath}); err != nil {
		return nil, err
	}

	resultCh := make(chan dispatchResult, 1)
	start := time.Now()
	go func() {
		var out any
		var err error
		switch w := slot.Worker.(type) {
		case worker.AsyncWorker:
			out, err = w.ARun(workerCtx, args)
		case worker.SyncWorker:
			fut := a.pool.Submit(workerCtx, func(ctx context.Context) (any, error) {
				return w.Run(ctx, args)
			})
			out, err = fut.Get(workerCtx)
		default:
			err = automaerr.WorkerRuntime(key, fmt.Errorf("worker %q implements neither SyncWorker nor AsyncWorker", key))
		}
		a.metrics.RecordTimer("automa.worker.duration", time.Since(start), "worker_key", key)

		if errors.Is(err, interaction.ErrPaused) {
			a.logger.Debug(workerCtx, "worker paused awaiting interaction", "worker_key", key)
			resultCh <- dispatchResult{paused: true}
			return
		}
		if err != nil {
			a.logger.Error(workerCtx, "worker failed", "worker_key", key, "error", err)
			if postErr := a.PostEvent(workerCtx, hooks.Event{Type: "worker_failed", WorkerKey: key, AutomaPath: rs.automaPath, Data: err.Error()}); postErr != nil {
				a.logger.Debug(workerCtx, "worker_failed event post failed", "worker_key", key, "error", postErr)
			}
			if pipeline.Error(workerCtx, inv, err) {
				resultCh <- dispatchResult{output: nil}
				return
			}
			resultCh <- dispatchResult{err: automaerr.WorkerRuntime(key, err)}
			return
		}
		pipeline.End(workerCtx, inv, out)
		if postErr := a.PostEvent(workerCtx, hooks.Event{Type: "worker_completed", WorkerKey: key, AutomaPath: rs.automaPath}); postErr != nil {
			a.logger.Debug(workerCtx, "worker_completed event post failed", "worker_key", key, "error", postErr)
		}
		resultCh <- dispatchResult{output: out}
	}()

	return resultCh, nil
}

func (a *Automa) reconcile(rs *runState, key string, res dispatchResult) {
	if res.paused {
		rs.paused[key] = true
		return
	}
	if res.err != nil {
		rs.recordError(res.err)
		return
	}
	rs.outputs[key] = res.output
	rs.done[key] = true
}

func (a *Automa) buildPipeline(slot *WorkerSlot) *callback.Pipeline {
	globalBuilders := GlobalSetting().snapshot()
	globalCallbacks := make([]callback.Callback, 0, len(globalBuilders))
	for _, b := range globalBuilders {
		globalCallbacks = append(globalCallbacks, b(slot.Key))
	}
	automaCallbacks := make([]callback.Callback, 0, len(a.options.CallbackBuilders)+1)
	automaCallbacks = append(automaCallbacks, callback.NewOTelCallback(a.tracer, a.metrics))
	for _, b := range a.options.CallbackBuilders {
		automaCallbacks = append(automaCallbacks, b(slot.Key))
	}
	slotCallbacks := make([]callback.Callback, 0, len(slot.CallbackBuilders))
	for _, b := range slot.CallbackBuilders {
		slotCallbacks = append(slotCallbacks, b(slot.Key))
	}
	return callback.NewPipeline(globalCallbacks, automaCallbacks, slotCallbacks)
}

func (a *Automa) finalResult(rs *runState) (any, bool) {
	a.topMu.RLock()
	defer a.topMu.RUnlock()
	if a.outputKey == "" {
		return nil, false
	}
	out, ok := rs.outputs[a.outputKey]
	return out, ok
}

func (a *Automa) snapshotDAG() (*dagState, error) {
	a.topMu.RLock()
	order := append([]string(nil), a.slotOrder...)
	slots := make(map[string]*WorkerSlot, len(a.slots))
	for k, v := range a.slots {
		slots[k] = v
	}
	a.topMu.RUnlock()
	return compile(order, slots)
}

func (a *Automa) resetAllLocalSpaces() {
	a.topMu.RLock()
	defer a.topMu.RUnlock()
	for _, slot := range a.slots {
		if ls, ok := slot.Worker.(interface{ LocalSpace() map[string]any }); ok {
			m := ls.LocalSpace()
			for k := range m {
				delete(m, k)
			}
		}
	}
}
