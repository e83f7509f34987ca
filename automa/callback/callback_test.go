package callback

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{ error }

func TestPipelineComposesGlobalAutomaSlotInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Callback {
		return Callback{OnStart: func(ctx context.Context, inv Invocation) context.Context {
			order = append(order, name)
			return nil
		}}
	}
	p := NewPipeline([]Callback{mk("global")}, []Callback{mk("automa")}, []Callback{mk("slot")})
	p.Start(context.Background(), Invocation{WorkerKey: "w"})
	assert.Equal(t, []string{"global", "automa", "slot"}, order)
}

func TestPipelineEndRunsAllHooks(t *testing.T) {
	count := 0
	cb := Callback{OnEnd: func(ctx context.Context, inv Invocation, result any) { count++ }}
	p := NewPipeline([]Callback{cb}, []Callback{cb}, nil)
	p.End(context.Background(), Invocation{}, "result")
	assert.Equal(t, 2, count)
}

func TestPipelineErrorSuppressedIfAnyMatchingCallbackReturnsTrue(t *testing.T) {
	suppress := Callback{OnError: func(ctx context.Context, inv Invocation, err error) bool { return true }}
	noop := Callback{OnError: func(ctx context.Context, inv Invocation, err error) bool { return false }}
	p := NewPipeline(nil, []Callback{noop}, []Callback{suppress})
	got := p.Error(context.Background(), Invocation{}, errors.New("boom"))
	assert.True(t, got)
}

func TestPipelineErrorNotSuppressedWhenNoneMatch(t *testing.T) {
	p := NewPipeline(nil, nil, nil)
	got := p.Error(context.Background(), Invocation{}, errors.New("boom"))
	assert.False(t, got)
}

func TestPipelineErrorSkipsNonMatchingAnnotation(t *testing.T) {
	var called bool
	cb := Callback{
		ErrorType: reflect.TypeOf(timeoutError{}),
		OnError: func(ctx context.Context, inv Invocation, err error) bool {
			called = true
			return true
		},
	}
	p := NewPipeline(nil, nil, []Callback{cb})
	suppressed := p.Error(context.Background(), Invocation{}, errors.New("generic error"))
	assert.False(t, called)
	assert.False(t, suppressed)
}

func TestPipelineErrorMatchesDeclaredAnnotation(t *testing.T) {
	var called bool
	cb := Callback{
		ErrorType: reflect.TypeOf(timeoutError{}),
		OnError: func(ctx context.Context, inv Invocation, err error) bool {
			called = true
			return true
		},
	}
	p := NewPipeline(nil, nil, []Callback{cb})
	suppressed := p.Error(context.Background(), Invocation{}, timeoutError{errors.New("slow")})
	assert.True(t, called)
	assert.True(t, suppressed)
}
