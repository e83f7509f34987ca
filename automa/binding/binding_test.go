package binding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/signature"
)

type stubResolver struct {
	fromValues   map[string]any
	systemValues map[string]any
	systemErr    error
}

func (s stubResolver) ResolveFrom(sourceKey string) (any, bool) {
	v, ok := s.fromValues[sourceKey]
	return v, ok
}

func (s stubResolver) ResolveSystem(tag string) (any, error) {
	if s.systemErr != nil {
		return nil, s.systemErr
	}
	return s.systemValues[tag], nil
}

func TestShapeForSuccessorAsIs(t *testing.T) {
	v, err := ShapeForSuccessor(SenderAsIs, "payload", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
}

func TestShapeForSuccessorInOrder(t *testing.T) {
	v, err := ShapeForSuccessor(SenderInOrder, []any{"a", "b", "c"}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestShapeForSuccessorInOrderWrongLength(t *testing.T) {
	_, err := ShapeForSuccessor(SenderInOrder, []any{"a"}, 0, 3)
	var target *automaerr.Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, automaerr.KindArgsMapping, target.Kind)
}

func TestBindAsIsProducesPositionalTuple(t *testing.T) {
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverAsIs, []DependencyValue{{Value: 1}, {Value: 2}}, nil, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, args.Positional)
}

func TestBindSuppressedDiscardsDeps(t *testing.T) {
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverSuppressed, []DependencyValue{{Value: 1}}, nil, stubResolver{})
	require.NoError(t, err)
	assert.Empty(t, args.Positional)
}

func TestBindMergeWrapsWholeList(t *testing.T) {
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverMerge, []DependencyValue{{Value: 1}, {Value: 2}}, nil, stubResolver{})
	require.NoError(t, err)
	require.Len(t, args.Positional, 1)
	assert.Equal(t, []any{1, 2}, args.Positional[0])
}

func TestBindUnpackSlice(t *testing.T) {
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverUnpack, []DependencyValue{{Value: []any{"x", "y"}}}, nil, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, args.Positional)
}

func TestBindUnpackMap(t *testing.T) {
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverUnpack, []DependencyValue{{Value: map[string]any{"name": "Ada"}}}, nil, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, "Ada", args.Keyword["name"])
}

func TestBindUnpackRequiresExactlyOneDependency(t *testing.T) {
	buckets := signature.Declare()
	_, err := Bind("w", buckets, ReceiverUnpack, []DependencyValue{{Value: 1}, {Value: 2}}, nil, stubResolver{})
	var target *automaerr.Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, automaerr.KindArgsMapping, target.Kind)
}

func TestBindPropagatesMatchingInputs(t *testing.T) {
	// Inputs propagation (spec.md §4.3 source 2) reaches only
	// positional-only / positional-or-keyword names, not KeywordOnly.
	buckets := signature.Declare(signature.Param{Name: "limit", Kind: signature.PositionalOrKeyword})
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, map[string]any{"limit": 10, "unused": "x"}, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, 10, args.Keyword["limit"])
	assert.NotContains(t, args.Keyword, "unused")
}

func TestBindDoesNotPropagateInputsToKeywordOnlyParams(t *testing.T) {
	buckets := signature.Declare(signature.Param{Name: "limit", Kind: signature.KeywordOnly})
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, map[string]any{"limit": 10}, stubResolver{})
	require.NoError(t, err)
	assert.NotContains(t, args.Keyword, "limit")
}

func TestBindInjectionWinsOverPropagatedInput(t *testing.T) {
	buckets := signature.Declare(signature.Param{
		Name: "user", Kind: signature.PositionalOrKeyword,
		Default: signature.From("fetch_user"), HasDefault: true,
	})
	resolver := stubResolver{fromValues: map[string]any{"fetch_user": "injected"}}
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, map[string]any{"user": "from_input"}, resolver)
	require.NoError(t, err)
	assert.Equal(t, "injected", args.Keyword["user"])
}

func TestBindFromFallsBackToDefaultWhenUnresolved(t *testing.T) {
	buckets := signature.Declare(signature.Param{
		Name: "user", Kind: signature.KeywordOnly,
		Default: signature.From("fetch_user", "anonymous"), HasDefault: true,
	})
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, nil, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, "anonymous", args.Keyword["user"])
}

func TestBindFromErrorsWithoutDefaultWhenUnresolved(t *testing.T) {
	buckets := signature.Declare(signature.Param{
		Name: "user", Kind: signature.KeywordOnly,
		Default: signature.From("fetch_user"), HasDefault: true,
	})
	_, err := Bind("w", buckets, ReceiverSuppressed, nil, nil, stubResolver{})
	var target *automaerr.Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, automaerr.KindArgsInjection, target.Kind)
}

func TestBindSystemInjection(t *testing.T) {
	buckets := signature.Declare(signature.Param{
		Name: "ctx", Kind: signature.KeywordOnly,
		Default: signature.System("runtime_context"), HasDefault: true,
	})
	resolver := stubResolver{systemValues: map[string]any{"runtime_context": "rc"}}
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, nil, resolver)
	require.NoError(t, err)
	assert.Equal(t, "rc", args.Keyword["ctx"])
}

func TestBindSystemResolveError(t *testing.T) {
	buckets := signature.Declare(signature.Param{
		Name: "automa", Kind: signature.KeywordOnly,
		Default: signature.System("automa:missing"), HasDefault: true,
	})
	resolver := stubResolver{systemErr: errors.New("no such automa")}
	_, err := Bind("w", buckets, ReceiverSuppressed, nil, nil, resolver)
	var target *automaerr.Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, automaerr.KindArgsInjection, target.Kind)
}

func TestBindVarKeywordCapturesUnnamedInputs(t *testing.T) {
	buckets := signature.Declare(signature.Param{Name: "kwargs", Kind: signature.VarKeyword})
	args, err := Bind("w", buckets, ReceiverSuppressed, nil, map[string]any{"extra": 1}, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, 1, args.Keyword["extra"])
}

func TestDistributeProducesSliceForUnpack(t *testing.T) {
	d := Distribute([]any{"a", "b"})
	buckets := signature.Declare()
	args, err := Bind("w", buckets, ReceiverUnpack, []DependencyValue{{Value: d}}, nil, stubResolver{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, args.Positional)
}
