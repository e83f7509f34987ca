package automa

import (
	"errors"
	"fmt"

	"github.com/bitsky-tech/automa/automa/automaerr"
)

// applyAddWorker registers task's worker under task.key. atRuntime
// selects AutomaRuntimeError over AutomaDeclarationError for a duplicate
// key, per spec.md §7's split between declaration-time and runtime
// duplicate-add errors.
func (a *Automa) applyAddWorker(task deferredTask, atRuntime bool) error {
	a.topMu.Lock()
	defer a.topMu.Unlock()

	if _, exists := a.slots[task.key]; exists {
		msg := fmt.Sprintf("duplicate worker key %q", task.key)
		if atRuntime {
			return automaerr.Runtime(msg, nil)
		}
		return automaerr.Declaration(task.key, msg, nil)
	}

	a.slots[task.key] = &WorkerSlot{
		Key:                   task.key,
		Worker:                task.worker,
		Dependencies:          task.dependencies,
		IsStart:               task.isStart,
		IsOutput:              task.isOutput,
		ArgsMappingRule:       task.argsMappingRule,
		ResultDispatchingRule: task.resultDispatchingRule,
		CallbackBuilders:      task.callbackBuilders,
	}
	a.slotOrder = append(a.slotOrder, task.key)
	if task.isOutput {
		a.outputKey = task.key
	}
	return nil
}

// applyRemoveWorker unregisters task.key, purging it from every other
// slot's dependency list and from the output-worker slot if it held it.
func (a *Automa) applyRemoveWorker(task deferredTask, atRuntime bool) error {
	a.topMu.Lock()
	defer a.topMu.Unlock()

	if _, exists := a.slots[task.key]; !exists {
		return automaerr.Runtime(fmt.Sprintf("remove_worker: unknown worker %q", task.key), nil)
	}
	delete(a.slots, task.key)
	for i, k := range a.slotOrder {
		if k == task.key {
			a.slotOrder = append(a.slotOrder[:i], a.slotOrder[i+1:]...)
			break
		}
	}
	for _, slot := range a.slots {
		filtered := slot.Dependencies[:0:0]
		for _, dep := range slot.Dependencies {
			if dep != task.key {
				filtered = append(filtered, dep)
			}
		}
		slot.Dependencies = filtered
	}
	if a.outputKey == task.key {
		a.outputKey = ""
	}
	return nil
}

// applyAddDependency adds task.dependsOn as a dependency of task.key.
func (a *Automa) applyAddDependency(task deferredTask, atRuntime bool) error {
	a.topMu.Lock()
	defer a.topMu.Unlock()

	slot, ok := a.slots[task.key]
	if !ok {
		return automaerr.Runtime(fmt.Sprintf("add_dependency: unknown worker %q", task.key), nil)
	}
	if _, ok := a.slots[task.dependsOn]; !ok {
		return automaerr.Runtime(fmt.Sprintf("add_dependency: unknown dependency %q", task.dependsOn), nil)
	}
	for _, dep := range slot.Dependencies {
		if dep == task.dependsOn {
			return automaerr.Runtime(fmt.Sprintf("add_dependency: edge %q -> %q already exists", task.key, task.dependsOn), nil)
		}
	}
	slot.Dependencies = append(slot.Dependencies, task.dependsOn)
	return nil
}

// applySetOutputWorker marks task.key as the sole active output worker.
func (a *Automa) applySetOutputWorker(task deferredTask, atRuntime bool) error {
	a.topMu.Lock()
	defer a.topMu.Unlock()

	prev, ok := a.slots[task.key]
	if !ok {
		return automaerr.Runtime(fmt.Sprintf("set_output_worker: unknown worker %q", task.key), nil)
	}
	if a.outputKey != "" && a.outputKey != task.key {
		if old, ok := a.slots[a.outputKey]; ok {
			old.IsOutput = false
		}
	}
	prev.IsOutput = true
	a.outputKey = task.key
	return nil
}

// drainDeferred applies every currently queued deferred task, in FIFO
// enqueue order (SPEC_FULL.md §6 Open Question 2), returning nil, the
// single error, or an AutomaRuntimeError wrapping every error when more
// than one mutation failed. A mutation failing (e.g. AddDependency on an
// already-removed worker) does not halt draining of the remaining tasks;
// all encountered errors are joined so the caller sees every rejected
// mutation, not just the first.
func (a *Automa) drainDeferred() error {
	tasks := a.deferred.drain()
	var errs []error
	for _, task := range tasks {
		var err error
		switch task.kind {
		case deferredAddWorker:
			err = a.applyAddWorker(task, true)
		case deferredRemoveWorker:
			err = a.applyRemoveWorker(task, true)
		case deferredAddDependency:
			err = a.applyAddDependency(task, true)
		case deferredSetOutputWorker:
			err = a.applySetOutputWorker(task, true)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d deferred mutation(s) failed", len(errs))
	return automaerr.Runtime(msg, errors.Join(errs...))
}
