package automa

import (
	"context"

	"github.com/bitsky-tech/automa/automa/binding"
	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/snapshot"
)

// topologyDTO is the serializable projection of a WorkerSlot: everything
// but the live worker.Worker object, which cannot round-trip through
// JSON (it's Go code, not data) and must already exist from the caller's
// own AddWorker calls before a Restore.
type topologyDTO struct {
	Key                   string
	Dependencies          []string
	IsStart               bool
	IsOutput              bool
	ArgsMappingRule       binding.ArgsMappingRule
	ResultDispatchingRule binding.ResultDispatchingRule
}

// stateDTO is the full persisted shape (C8, spec.md §6's "persisted
// state layout"): declared topology, the in-flight run's output buffer
// (if any), every worker's local_space, and any interactions still
// awaiting a human answer.
//
// The deferred-mutation queue is deliberately not part of this shape: by
// the time a dynamic step reaches the "no runnable progress" check that
// triggers a Dump, step 4a has already drained it to empty (spec.md
// §4.9), so there is never a queued mutation left to lose.
type stateDTO struct {
	Name        string
	Path        []string
	OutputKey   string
	Slots       []topologyDTO
	Outputs     map[string]any
	LocalSpaces map[string]map[string]any
	Pending     []interaction.Interaction
}

func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (a *Automa) dumpState(rs *runState) (snapshot.Snapshot, error) {
	a.topMu.RLock()
	dto := stateDTO{
		Name:        a.name,
		Path:        append([]string(nil), a.path...),
		OutputKey:   a.outputKey,
		LocalSpaces: make(map[string]map[string]any, len(a.slots)),
	}
	for _, key := range a.slotOrder {
		slot := a.slots[key]
		dto.Slots = append(dto.Slots, topologyDTO{
			Key:                   slot.Key,
			Dependencies:          append([]string(nil), slot.Dependencies...),
			IsStart:               slot.IsStart,
			IsOutput:              slot.IsOutput,
			ArgsMappingRule:       slot.ArgsMappingRule,
			ResultDispatchingRule: slot.ResultDispatchingRule,
		})
		if ls, ok := slot.Worker.(interface{ LocalSpace() map[string]any }); ok {
			dto.LocalSpaces[key] = cloneAnyMap(ls.LocalSpace())
		}
	}
	a.topMu.RUnlock()

	if rs != nil {
		dto.Outputs = cloneAnyMap(rs.outputs)
	}
	dto.Pending = a.interactionCtl.Pending()

	return snapshot.Encode(dto)
}

// raiseInteractionException builds the InteractionException Arun returns
// when the run can make no further progress with interactions pending,
// dumping the current state into it so the caller can persist or inspect
// it without a separate Dump call.
func (a *Automa) raiseInteractionException(rs *runState) (any, error) {
	snap, err := a.dumpState(rs)
	if err != nil {
		return nil, err
	}
	return nil, &InteractionException{Interactions: a.interactionCtl.Pending(), Snapshot: snap}
}

// Dump serializes the Automa's declared topology, every worker's
// local_space, and any pending interactions, and persists the result to
// the configured snapshot.Store under id.
func (a *Automa) Dump(ctx context.Context, id string) error {
	snap, err := a.dumpState(nil)
	if err != nil {
		return err
	}
	return a.snapshotStore.Dump(ctx, id, snap)
}

// Restore loads the Snapshot stored under id and replays its
// local_space, completed-worker outputs, and pending-interaction state
// onto the Automa's already-declared workers. The caller must
// re-declare the same topology (AddWorker for every worker the snapshot
// names) before calling Restore — a worker.Worker is live code, not
// data, so it can never be reconstructed from the snapshot itself.
//
// The restored output buffer is consumed by the very next Arun call
// (via takeRestoredOutputs in automa.go): every worker key it names is
// seeded into that invocation's output buffer and marked done, so a
// producer that had already completed before the snapshot was taken is
// not re-run, and only the still-pending tail of the graph executes.
func (a *Automa) Restore(ctx context.Context, id string) error {
	snap, err := a.snapshotStore.Load(ctx, id)
	if err != nil {
		return err
	}
	var dto stateDTO
	if err := snapshot.Decode(snap, &dto); err != nil {
		return err
	}

	a.topMu.Lock()
	for key, space := range dto.LocalSpaces {
		slot, ok := a.slots[key]
		if !ok {
			continue
		}
		ls, ok := slot.Worker.(interface{ LocalSpace() map[string]any })
		if !ok {
			continue
		}
		target := ls.LocalSpace()
		for k := range target {
			delete(target, k)
		}
		for k, v := range space {
			target[k] = v
		}
	}
	a.topMu.Unlock()

	a.interactionCtl.RestorePending(dto.Pending)

	a.restoreMu.Lock()
	a.restoredOutputs = cloneAnyMap(dto.Outputs)
	a.restoreMu.Unlock()

	return nil
}
