package automa

import (
	"fmt"
	"sort"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/binding"
	"github.com/bitsky-tech/automa/automa/callback"
	"github.com/bitsky-tech/automa/automa/worker"
)

// WorkerSlot is the in-graph record for a worker (C4): its topology,
// binding rules, and callback builders. RemoveWorker deletes the slot; a
// later AddWorker under the same key creates a new one.
type WorkerSlot struct {
	Key                   string
	Worker                worker.Worker
	Dependencies          []string
	IsStart               bool
	IsOutput              bool
	ArgsMappingRule       binding.ArgsMappingRule
	ResultDispatchingRule binding.ResultDispatchingRule
	CallbackBuilders      []callback.Builder
}

// dagState is the compiled forward/reverse adjacency derived from the
// current set of WorkerSlots. It is rebuilt by compile on every dynamic
// step (spec.md §4.4) and is cheap to recompute since slot counts in a
// single Automa are small.
type dagState struct {
	forward map[string][]string // key -> successor keys
	reverse map[string][]string // key -> dependency keys
}

// compile rebuilds forward/reverse adjacency from slots and validates
// the result is acyclic via Kahn's algorithm, naming every worker on or
// downstream of a cycle when it is not. order fixes slot declaration order so a
// producer's forward-adjacency list is in the same order its successors
// were declared, matching the IN_ORDER sender rule's "successor i in
// declaration order" contract (spec.md §4.3).
func compile(order []string, slots map[string]*WorkerSlot) (*dagState, error) {
	forward := make(map[string][]string, len(slots))
	reverse := make(map[string][]string, len(slots))
	for _, key := range order {
		forward[key] = nil
		reverse[key] = nil
	}
	for _, key := range order {
		slot := slots[key]
		for _, dep := range slot.Dependencies {
			if _, ok := slots[dep]; !ok {
				return nil, automaerr.Compilation(fmt.Sprintf("worker %q depends on unknown worker %q", key, dep), nil)
			}
			reverse[key] = append(reverse[key], dep)
			forward[dep] = append(forward[dep], key)
		}
	}

	if cyclic := kahnCycleCheck(forward, reverse); len(cyclic) > 0 {
		sort.Strings(cyclic)
		return nil, automaerr.Compilation(fmt.Sprintf("cycle detected among workers: %v", cyclic), nil)
	}

	return &dagState{forward: forward, reverse: reverse}, nil
}

// kahnCycleCheck runs Kahn's algorithm and returns the keys of every
// worker that could never be scheduled (those on a cycle and those
// downstream of one), or nil if the graph is acyclic.
func kahnCycleCheck(forward, reverse map[string][]string) []string {
	indegree := make(map[string]int, len(reverse))
	for key, deps := range reverse {
		indegree[key] = len(deps)
	}

	queue := make([]string, 0, len(indegree))
	for key, deg := range indegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		visited++
		successors := append([]string(nil), forward[key]...)
		sort.Strings(successors)
		for _, succ := range successors {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited == len(indegree) {
		return nil
	}
	remaining := make([]string, 0, len(indegree)-visited)
	for key, deg := range indegree {
		if deg > 0 {
			remaining = append(remaining, key)
		}
	}
	return remaining
}
