package automa

import (
	"sync"

	"github.com/bitsky-tech/automa/automa/binding"
	"github.com/bitsky-tech/automa/automa/callback"
	"github.com/bitsky-tech/automa/automa/worker"
)

// deferredKind discriminates the tagged union of topology mutations
// (spec.md §3.1 DeferredTask), drained between dynamic steps.
type deferredKind int

const (
	deferredAddWorker deferredKind = iota
	deferredRemoveWorker
	deferredAddDependency
	deferredSetOutputWorker
)

// deferredTask is one queued topology mutation. Only the fields
// relevant to Kind are populated.
type deferredTask struct {
	kind deferredKind

	// AddWorker
	key                   string
	worker                worker.Worker
	dependencies          []string
	isStart               bool
	isOutput              bool
	argsMappingRule       binding.ArgsMappingRule
	resultDispatchingRule binding.ResultDispatchingRule
	callbackBuilders      []callback.Builder

	// AddDependency
	dependsOn string
}

// deferredQueue is the FIFO mutation queue a running worker's body (on
// any goroutine) enqueues into; the scheduler drains it exclusively
// between dynamic steps (spec.md §5's "mutated only between dynamic
// steps" invariant).
type deferredQueue struct {
	mu    sync.Mutex
	tasks []deferredTask
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{}
}

func (q *deferredQueue) enqueue(t deferredTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// drain returns and clears every task currently queued, in enqueue
// order. Tasks enqueued by a drained task's application (none currently
// do, but AddWorker's isOutput bookkeeping runs inline) are not
// re-drained within the same call.
func (q *deferredQueue) drain() []deferredTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	out := q.tasks
	q.tasks = nil
	return out
}

func (q *deferredQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}
