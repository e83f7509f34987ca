package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSubmitReturnsResult(t *testing.T) {
	p := NewPool(2)
	f := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	res, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestPoolSubmitPropagatesError(t *testing.T) {
	p := NewPool(1)
	wantErr := errors.New("boom")
	f := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(1)
	var running int32
	var maxRunning int32
	release := make(chan struct{})

	start := func() Future {
		return p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil, nil
		})
	}

	f1 := start()
	f2 := start()
	time.Sleep(20 * time.Millisecond)
	close(release)
	_, _ = f1.Get(context.Background())
	_, _ = f2.Get(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestFutureIsReady(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	f := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-block
		return "done", nil
	})
	assert.False(t, f.IsReady())
	close(block)
	_, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, f.IsReady())
}

func TestFutureGetRespectsContextCancellation(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	defer close(block)
	f := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
