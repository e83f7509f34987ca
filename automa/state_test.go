package automa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsky-tech/automa/automa/hooks"
	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/snapshot"
)

// TestDumpRestoreRoundTripsLocalSpaceAndPendingInteraction builds an Automa
// that pauses on a pending interaction, dumps its state, then replays that
// state onto a freshly constructed Automa with the same topology
// re-declared — the only way local_space and pending interactions survive
// a process restart, since a worker.Worker itself cannot be deserialized.
func TestDumpRestoreRoundTripsLocalSpaceAndPendingInteraction(t *testing.T) {
	store := snapshot.NewMemStore()

	build := func() *Automa {
		a := New("persisted", WithSnapshotStore(store))
		require.NoError(t, a.AddFuncAsWorker("ask", func(ctx context.Context, args ...any) (any, error) {
			a.slots["ask"].Worker.(*funcWorker).LocalSpace()["visited"] = true
			v, err := a.InteractWithHuman(ctx, "ask", hooks.Event{Type: "need_name"})
			if err != nil {
				return nil, err
			}
			return v, nil
		}, nil, true, true, ReceiverAsIs, SenderAsIs))
		return a
	}

	a1 := build()
	_, err := a1.Arun(context.Background(), nil, nil)
	require.Error(t, err)
	var ie *InteractionException
	require.ErrorAs(t, err, &ie)
	require.NoError(t, a1.snapshotStore.Dump(context.Background(), "run-1", ie.Snapshot))

	visited, _ := a1.slots["ask"].Worker.(*funcWorker).LocalSpace()["visited"].(bool)
	assert.True(t, visited)

	a2 := build()
	require.NoError(t, a2.Restore(context.Background(), "run-1"))
	assert.True(t, a2.interactionCtl.HasPending())
	restored, _ := a2.slots["ask"].Worker.(*funcWorker).LocalSpace()["visited"].(bool)
	assert.True(t, restored)

	id := a2.interactionCtl.Pending()[0].ID
	out, err := a2.Arun(context.Background(), nil, nil, interaction.InteractionFeedback{InteractionID: id, Data: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", out)
}

// TestRestoreResumesTailWithoutRerunningCompletedProducers covers the
// case where the paused worker is downstream of one that already
// completed before the snapshot was taken: a -> b -> c, b pauses. After
// Restore, resuming must bind b from a's already-produced output rather
// than re-dispatching a.
func TestRestoreResumesTailWithoutRerunningCompletedProducers(t *testing.T) {
	store := snapshot.NewMemStore()

	build := func(aRuns *int) *Automa {
		a := New("persisted-tail", WithSnapshotStore(store))
		require.NoError(t, a.AddFuncAsWorker("a", func(ctx context.Context, args ...any) (any, error) {
			*aRuns++
			return args[0].(int) + 1, nil
		}, nil, true, false, ReceiverAsIs, SenderAsIs))
		require.NoError(t, a.AddFuncAsWorker("b", func(ctx context.Context, args ...any) (any, error) {
			v, err := a.InteractWithHuman(ctx, "b", hooks.Event{Type: "need_multiplier"})
			if err != nil {
				return nil, err
			}
			return args[0].(int) * v.(int), nil
		}, []string{"a"}, false, false, ReceiverAsIs, SenderAsIs))
		require.NoError(t, a.AddFuncAsWorker("c", func(ctx context.Context, args ...any) (any, error) {
			return args[0].(int) + 100, nil
		}, []string{"b"}, false, true, ReceiverAsIs, SenderAsIs))
		return a
	}

	var a1Runs int
	a1 := build(&a1Runs)
	_, err := a1.Arun(context.Background(), []any{5}, nil)
	require.Error(t, err)
	var ie *InteractionException
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, a1Runs)
	require.NoError(t, a1.snapshotStore.Dump(context.Background(), "run-tail", ie.Snapshot))

	var a2Runs int
	a2 := build(&a2Runs)
	require.NoError(t, a2.Restore(context.Background(), "run-tail"))

	id := a2.interactionCtl.Pending()[0].ID
	out, err := a2.Arun(context.Background(), nil, nil, interaction.InteractionFeedback{InteractionID: id, Data: 10})
	require.NoError(t, err)
	assert.Equal(t, 160, out) // a: 5+1=6 (restored, not re-run); b: 6*10=60; c: 60+100=160
	assert.Equal(t, 0, a2Runs)
}
