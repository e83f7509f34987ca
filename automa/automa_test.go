package automa

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/hooks"
	"github.com/bitsky-tech/automa/automa/interaction"
	"github.com/bitsky-tech/automa/automa/signature"
	"github.com/bitsky-tech/automa/automa/worker"
)

// addFunc is a small AddFuncAsWorker helper for tests.
func addFunc(t *testing.T, a *Automa, key string, deps []string, isStart, isOutput bool, receiver ArgsMappingRule, sender ResultDispatchingRule, fn func(context.Context, ...any) (any, error)) {
	t.Helper()
	require.NoError(t, a.AddFuncAsWorker(key, fn, deps, isStart, isOutput, receiver, sender))
}

// S1: linear pipeline a -> b -> c, a is start and receives the positional input 5.
func TestLinearPipeline(t *testing.T) {
	a := New("s1")
	addFunc(t, a, "a", nil, true, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) + 1, nil
	})
	addFunc(t, a, "b", []string{"a"}, false, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) * 2, nil
	})
	addFunc(t, a, "c", []string{"b"}, false, true, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) - 3, nil
	})

	out, err := a.Arun(context.Background(), []any{5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, out) // (5+1)*2-3
}

// S2: fan-out/fan-in with an IN_ORDER sender and MERGE receiver.
func TestFanOutFanInMerge(t *testing.T) {
	a := New("s2")
	addFunc(t, a, "split", nil, true, false, ReceiverAsIs, SenderInOrder, func(ctx context.Context, args ...any) (any, error) {
		n := args[0].(int)
		return []any{n, n * 10}, nil
	})
	addFunc(t, a, "left", []string{"split"}, false, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) + 1, nil
	})
	addFunc(t, a, "right", []string{"split"}, false, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) + 2, nil
	})
	addFunc(t, a, "join", []string{"left", "right"}, false, true, ReceiverMerge, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		values := args[0].([]any)
		return values[0].(int) + values[1].(int), nil
	})

	out, err := a.Arun(context.Background(), []any{3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4+32, out) // left: 3+1=4, right: 30+2=32
}

// S3: UNPACK receiver spreading a producer's slice into positional args.
func TestUnpackReceiver(t *testing.T) {
	a := New("s3")
	addFunc(t, a, "pair", nil, true, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return []any{args[0], args[1]}, nil
	})
	addFunc(t, a, "sum", []string{"pair"}, false, true, ReceiverUnpack, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	out, err := a.Arun(context.Background(), []any{2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

// S4: From descriptor wires a non-dependency producer's output by name.
func TestFromDescriptorAcrossNonDependency(t *testing.T) {
	a := New("s4")
	addFunc(t, a, "secret", nil, true, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return "shh", nil
	})
	addFunc(t, a, "relay", []string{"secret"}, false, false, ReceiverSuppressed, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return "relayed", nil
	})
	fw := &funcWorker{
		Base: worker.NewBase("reader"),
		fn: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return kwargs["secret"], nil
		},
		buckets: signature.Declare(
			signature.Param{Name: "secret", Kind: signature.KeywordOnly, HasDefault: true, Default: From("secret")},
			signature.Param{Name: "kwargs", Kind: signature.VarKeyword},
		),
	}
	// reader depends only on "relay", not on "secret"; ReceiverSuppressed
	// means the relay edge contributes no bound argument of its own — the
	// value arrives only via the From("secret") descriptor.
	require.NoError(t, a.AddWorker("reader", fw, []string{"relay"}, false, true, ReceiverSuppressed, SenderAsIs))

	out, err := a.Arun(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "shh", out)
}

// S5: HITL round trip — a worker pauses, arun raises InteractionException,
// and feeding the matching InteractionFeedback back in resolves it.
func TestHitlRoundTrip(t *testing.T) {
	a := New("s5")
	asked := false
	addFunc(t, a, "ask", nil, true, true, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		asked = true
		v, err := a.InteractWithHuman(ctx, "ask", hooks.Event{Type: "need_answer"})
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	_, err := a.Arun(context.Background(), nil, nil)
	require.Error(t, err)
	var ie *InteractionException
	require.ErrorAs(t, err, &ie)
	require.True(t, asked)
	require.Len(t, ie.Interactions, 1)

	id := ie.Interactions[0].ID
	out, err := a.Arun(context.Background(), nil, nil, interaction.InteractionFeedback{InteractionID: id, Data: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

// S6: ferry_to — a start worker ferries arguments to "late", a worker with
// no dependencies that is not a start worker, which then runs in the next
// dynamic step with the ferried arguments and produces the output.
func TestDynamicTopologyFerryTo(t *testing.T) {
	a := New("s6")
	addFunc(t, a, "seed", nil, true, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		_ = a.FerryTo(ctx, "late", worker.Arguments{Positional: []any{args[0].(int) * 100}})
		return args[0].(int) + 1, nil
	})

	lateRan := make(chan int, 1)
	require.NoError(t, a.AddFuncAsWorker("late", func(ctx context.Context, args ...any) (any, error) {
		lateRan <- args[0].(int)
		return args[0], nil
	}, nil, false, true, ReceiverAsIs, SenderAsIs))

	out, err := a.Arun(context.Background(), []any{7}, nil)
	require.NoError(t, err)
	assert.Equal(t, 700, out)
	assert.Equal(t, 700, <-lateRan)
}

// TestDispatchBroadcastsProgressEvents covers the event bus actually
// being driven by the scheduler: every dispatched worker posts
// worker_started/worker_completed, which a Subscribe'd observer sees
// regardless of whether any EventHandler is registered to answer them.
func TestDispatchBroadcastsProgressEvents(t *testing.T) {
	a := New("s7")
	addFunc(t, a, "only", nil, true, true, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return args[0].(int) + 1, nil
	})

	var mu sync.Mutex
	var seen []string
	sub, err := a.Subscribe(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Type)
		return nil
	}))
	require.NoError(t, err)
	defer sub.Close()

	out, err := a.Arun(context.Background(), []any{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "worker_started")
	assert.Contains(t, seen, "worker_completed")
}

func TestCompileDetectsCycle(t *testing.T) {
	a := New("cyclic")
	addFunc(t, a, "a", []string{"b"}, false, false, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	})
	addFunc(t, a, "b", []string{"a"}, false, true, ReceiverAsIs, SenderAsIs, func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	})

	_, err := a.Arun(context.Background(), nil, nil)
	require.Error(t, err)
	var target *automaerr.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, automaerr.KindCompilation, target.Kind)
}
