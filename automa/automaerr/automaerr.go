// Package automaerr defines the typed error kinds raised by the Automa
// runtime: declaration-time mistakes, compilation failures, runtime
// failures, argument binding/injection failures, worker failures, and
// timeouts. Every kind wraps an underlying cause (where one exists) and
// carries enough structured context — worker key, parameter name, the
// binding rule in play — for a caller to render a precise diagnostic
// without parsing an error string.
package automaerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy of spec.md §7.
type Kind string

const (
	// KindDeclaration indicates a malformed Automa/worker declaration
	// (bad signature, invalid descriptor combination, duplicate key, ...).
	KindDeclaration Kind = "automa_declaration_error"
	// KindCompilation indicates the DAG failed to compile (a cycle, a
	// dependency on an unknown worker, ...).
	KindCompilation Kind = "automa_compilation_error"
	// KindRuntime indicates a failure in the scheduler itself, not
	// attributable to a specific worker invocation.
	KindRuntime Kind = "automa_runtime_error"
	// KindArgsMapping indicates the receiver-side binding rule could not
	// be applied to the dependency outputs on hand.
	KindArgsMapping Kind = "worker_args_mapping_error"
	// KindArgsInjection indicates a From/System descriptor could not be
	// resolved to a value.
	KindArgsInjection Kind = "worker_args_injection_error"
	// KindWorkerRuntime indicates a worker's Run/ARun returned an error.
	KindWorkerRuntime Kind = "worker_runtime_error"
	// KindTimeout indicates a request_feedback call's context ended before
	// a handler answered it.
	KindTimeout Kind = "timeout_error"
)

// Error is the concrete error type for every kind above. Callers should
// match on Kind (or use errors.As) rather than parsing Error().
type Error struct {
	Kind Kind
	// WorkerKey is the worker the error concerns, when applicable.
	WorkerKey string
	// ParamName is the parameter name the error concerns, when applicable.
	ParamName string
	// Rule names the binding rule (sender or receiver) in play, when
	// applicable — e.g. "UNPACK", "IN_ORDER".
	Rule string
	// Msg is a human-readable description.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	s := string(e.Kind) + ": "
	if e.WorkerKey != "" {
		s += fmt.Sprintf("worker %q: ", e.WorkerKey)
	}
	if e.ParamName != "" {
		s += fmt.Sprintf("param %q: ", e.ParamName)
	}
	if e.Rule != "" {
		s += fmt.Sprintf("rule %s: ", e.Rule)
	}
	s += e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, automaerr.ErrX) style checks against the
// bare sentinels below by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, workerKey, paramName, rule, msg string, cause error) *Error {
	return &Error{Kind: kind, WorkerKey: workerKey, ParamName: paramName, Rule: rule, Msg: msg, Err: cause}
}

// Declaration builds a KindDeclaration error.
func Declaration(workerKey, msg string, cause error) *Error {
	return newErr(KindDeclaration, workerKey, "", "", msg, cause)
}

// Compilation builds a KindCompilation error.
func Compilation(msg string, cause error) *Error {
	return newErr(KindCompilation, "", "", "", msg, cause)
}

// Runtime builds a KindRuntime error.
func Runtime(msg string, cause error) *Error {
	return newErr(KindRuntime, "", "", "", msg, cause)
}

// ArgsMapping builds a KindArgsMapping error.
func ArgsMapping(workerKey, rule, msg string, cause error) *Error {
	return newErr(KindArgsMapping, workerKey, "", rule, msg, cause)
}

// ArgsInjection builds a KindArgsInjection error.
func ArgsInjection(workerKey, paramName, msg string, cause error) *Error {
	return newErr(KindArgsInjection, workerKey, paramName, "", msg, cause)
}

// WorkerRuntime builds a KindWorkerRuntime error, wrapping the worker's
// own returned error as cause.
func WorkerRuntime(workerKey string, cause error) *Error {
	return newErr(KindWorkerRuntime, workerKey, "", "", "worker returned an error", cause)
}

// Timeout builds a KindTimeout error.
func Timeout(workerKey, msg string) *Error {
	return newErr(KindTimeout, workerKey, "", "", msg, nil)
}

// sentinel values usable with errors.Is for coarse kind checks without
// constructing a full *Error.
var (
	ErrDeclaration   = &Error{Kind: KindDeclaration}
	ErrCompilation   = &Error{Kind: KindCompilation}
	ErrRuntime       = &Error{Kind: KindRuntime}
	ErrArgsMapping   = &Error{Kind: KindArgsMapping}
	ErrArgsInjection = &Error{Kind: KindArgsInjection}
	ErrWorkerRuntime = &Error{Kind: KindWorkerRuntime}
	ErrTimeout       = &Error{Kind: KindTimeout}
)
