package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Type: "worker_started", WorkerKey: "fetch"}))
	require.NoError(t, bus.Publish(ctx, Event{Type: "worker_completed", WorkerKey: "fetch"}))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestBusPublishStopsAtFirstError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	boom := errors.New("boom")

	var calledSecond bool
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return boom
	}))
	require.NoError(t, err)
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		calledSecond = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, Event{Type: "worker_started"})
	require.ErrorIs(t, err, boom)
	require.False(t, calledSecond)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{Type: "worker_started"}))
	require.NoError(t, subscription.Close())
	require.NoError(t, subscription.Close()) // idempotent
	require.NoError(t, bus.Publish(ctx, Event{Type: "worker_completed"}))

	require.Equal(t, 1, count)
}
