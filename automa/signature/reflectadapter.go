package signature

import (
	"context"
	"fmt"
	"reflect"
)

// InspectFunc is a best-effort reflective convenience adapter for plain
// Go functions registered via AddFuncAsWorker, mirroring the teacher's
// habit of pairing an explicit construction path with a thin reflective
// helper for the common case. Because Go erases parameter names at
// compile time, InspectFunc cannot recover per-parameter names the way
// Declare(...) can; it only recognizes two conventional shapes:
//
//	func(ctx context.Context, args ...any) (any, error)
//	func(ctx context.Context, kwargs map[string]any) (any, error)
//
// The first is reported as a single VAR_POSITIONAL bucket; the second as
// a single VAR_KEYWORD bucket named "kwargs". Any other shape returns an
// error — callers with named parameters should use Declare(...) and a
// small wrapper instead.
func InspectFunc(fn any) (Buckets, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return Buckets{}, fmt.Errorf("signature: InspectFunc requires a func, got %T", fn)
	}
	t := v.Type()
	if t.NumIn() != 2 || t.NumOut() != 2 {
		return Buckets{}, fmt.Errorf("signature: InspectFunc requires func(context.Context, X) (any, error), got %s", t)
	}
	if !t.In(0).Implements(contextInterface) {
		return Buckets{}, fmt.Errorf("signature: first parameter must be a context.Context, got %s", t.In(0))
	}
	if t.Out(0) != anyType || t.Out(1) != errorInterface {
		return Buckets{}, fmt.Errorf("signature: return type must be (any, error), got %s", t)
	}

	second := t.In(1)
	switch {
	case second.Kind() == reflect.Slice && second.Elem() == anyType:
		return Declare(Param{Kind: VarPositional, Name: "args"}), nil
	case second.Kind() == reflect.Map && second.Key().Kind() == reflect.String && second.Elem() == anyType:
		return Declare(Param{Kind: VarKeyword, Name: "kwargs"}), nil
	default:
		return Buckets{}, fmt.Errorf("signature: unrecognized second parameter type %s; use Declare for named parameters", second)
	}
}

var (
	anyType          = reflect.TypeOf((*any)(nil)).Elem()
	errorInterface   = reflect.TypeOf((*error)(nil)).Elem()
	contextInterface = reflect.TypeOf((*context.Context)(nil)).Elem()
)
