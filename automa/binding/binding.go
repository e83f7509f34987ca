// Package binding implements the arg-binding engine (C3): shaping a
// producer's output per its sender rule, applying a consumer's receiver
// rule to the resulting dependency list, propagating matching automa
// inputs, and resolving From/System descriptor injection — with
// injection always winning over a propagated input of the same name.
package binding

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bitsky-tech/automa/automa/automaerr"
	"github.com/bitsky-tech/automa/automa/signature"
	"github.com/bitsky-tech/automa/automa/worker"
)

// ResultDispatchingRule (the sender rule) controls how one producer's
// single return value is shaped for each of its successors.
type ResultDispatchingRule int

const (
	// SenderAsIs sends the producer's entire output, unchanged, to every
	// successor.
	SenderAsIs ResultDispatchingRule = iota
	// SenderInOrder requires the producer's output to be an ordered
	// sequence with one element per successor (in dependency-declaration
	// order) and sends successor i element i.
	SenderInOrder
)

// ArgsMappingRule (the receiver rule) controls how a worker's resolved
// dependency outputs become its call Arguments.
type ArgsMappingRule int

const (
	// ReceiverAsIs passes every dependency output as one positional
	// argument each, in dependency-declaration order.
	ReceiverAsIs ArgsMappingRule = iota
	// ReceiverUnpack requires exactly one dependency and unpacks its
	// value: a slice becomes positional arguments, a string-keyed map
	// becomes keyword arguments.
	ReceiverUnpack
	// ReceiverMerge passes the entire ordered dependency list as a single
	// positional argument.
	ReceiverMerge
	// ReceiverSuppressed discards all dependency outputs; the worker
	// receives no positional arguments from its dependencies.
	ReceiverSuppressed
)

func (r ArgsMappingRule) String() string {
	switch r {
	case ReceiverAsIs:
		return "AS_IS"
	case ReceiverUnpack:
		return "UNPACK"
	case ReceiverMerge:
		return "MERGE"
	case ReceiverSuppressed:
		return "SUPPRESSED"
	default:
		return "UNKNOWN"
	}
}

func (r ResultDispatchingRule) String() string {
	switch r {
	case SenderAsIs:
		return "AS_IS"
	case SenderInOrder:
		return "IN_ORDER"
	default:
		return "UNKNOWN"
	}
}

// Distributed wraps a slice of values so a start-binding kwarg can be
// split positionally, one element per start worker, instead of being
// passed whole to every start worker that declares it.
type Distributed struct {
	Values []any
}

// Distribute marks values for IN_ORDER-style distribution across the
// start workers of an arun invocation that share the same input name.
func Distribute(values []any) Distributed {
	return Distributed{Values: values}
}

// DependencyValue is one already-shaped dependency value, ready to be
// folded into Arguments by the receiver rule.
type DependencyValue struct {
	ProducerKey string
	Value       any
}

// InjectionResolver resolves descriptor values at bind time. The root
// automa package implements this by looking up worker outputs (From) and
// runtime-provided values (System).
type InjectionResolver interface {
	ResolveFrom(sourceKey string) (value any, ok bool)
	ResolveSystem(tag string) (value any, err error)
}

// ShapeForSuccessor applies a producer's sender rule to its raw output,
// returning the value successorIndex (0-based, out of successorCount
// total successors triggered this step) should receive.
func ShapeForSuccessor(rule ResultDispatchingRule, output any, successorIndex, successorCount int) (any, error) {
	switch rule {
	case SenderAsIs:
		return output, nil
	case SenderInOrder:
		seq, ok := asSlice(output)
		if !ok {
			return nil, automaerr.ArgsMapping("", rule.String(), fmt.Sprintf("IN_ORDER sender requires a sequence output, got %T", output), nil)
		}
		if len(seq) != successorCount {
			return nil, automaerr.ArgsMapping("", rule.String(), fmt.Sprintf("IN_ORDER sender output has %d elements, want %d (one per successor)", len(seq), successorCount), nil)
		}
		return seq[successorIndex], nil
	default:
		return nil, automaerr.ArgsMapping("", "", "unknown sender rule", nil)
	}
}

// Bind applies the receiver rule to deps, propagates matching entries of
// inputKwargs onto positional-only and positional-or-keyword names (and,
// when a VarKeyword parameter exists, every unnamed entry), overriding a
// same-named keyword produced by the receiver rule, resolves
// descriptor injection (which always overrides both the receiver-rule
// result and input propagation), and validates any per-parameter
// Annotation present in buckets, producing the final call Arguments for
// a worker invocation.
func Bind(
	workerKey string,
	buckets signature.Buckets,
	receiverRule ArgsMappingRule,
	deps []DependencyValue,
	inputKwargs map[string]any,
	resolver InjectionResolver,
) (worker.Arguments, error) {
	args := worker.Arguments{Keyword: make(map[string]any)}

	positional, unpackedKeyword, err := applyReceiverRule(workerKey, receiverRule, deps)
	if err != nil {
		return worker.Arguments{}, err
	}
	args.Positional = positional
	for k, v := range unpackedKeyword {
		args.Keyword[k] = v
	}

	// Inputs propagation (spec.md §4.3 source 2) reaches only a worker's
	// positional-only and positional-or-keyword names; a KeywordOnly
	// parameter is not an implicit call input, only bindable via a
	// dependency, a kwarg aimed at it by a nested Automa's own signature,
	// or From/System injection below.
	for _, p := range buckets.Positional {
		if v, ok := inputKwargs[p.Name]; ok {
			args.Keyword[p.Name] = v
		}
	}
	for _, p := range buckets.PositionalOrKeyword {
		if v, ok := inputKwargs[p.Name]; ok {
			args.Keyword[p.Name] = v
		}
	}
	if buckets.VarKeyword != nil {
		for k, v := range inputKwargs {
			if _, named := buckets.ByName(k); !named {
				args.Keyword[k] = v
			}
		}
	}

	for _, p := range buckets.AllNamed() {
		if !p.HasDefault {
			continue
		}
		switch d := p.Default.(type) {
		case signature.FromDescriptor:
			v, ok := resolver.ResolveFrom(d.SourceKey)
			if !ok {
				if !d.HasDefault {
					return worker.Arguments{}, automaerr.ArgsInjection(workerKey, p.Name, fmt.Sprintf("From(%q) produced no value and no default was given", d.SourceKey), nil)
				}
				v = d.Default
			}
			args.Keyword[p.Name] = v
		case signature.SystemDescriptor:
			v, err := resolver.ResolveSystem(d.Tag)
			if err != nil {
				return worker.Arguments{}, automaerr.ArgsInjection(workerKey, p.Name, fmt.Sprintf("System(%q) could not be resolved", d.Tag), err)
			}
			args.Keyword[p.Name] = v
		}
	}

	for _, p := range buckets.AllNamed() {
		if p.Annotation == nil {
			continue
		}
		v, ok := args.Keyword[p.Name]
		if !ok {
			continue
		}
		if err := p.Annotation.Validate(v); err != nil {
			return worker.Arguments{}, automaerr.ArgsInjection(workerKey, p.Name, "bound value failed schema annotation validation", err)
		}
	}

	return args, nil
}

func applyReceiverRule(workerKey string, rule ArgsMappingRule, deps []DependencyValue) ([]any, map[string]any, error) {
	switch rule {
	case ReceiverAsIs:
		out := make([]any, len(deps))
		for i, d := range deps {
			out[i] = d.Value
		}
		return out, nil, nil
	case ReceiverSuppressed:
		return nil, nil, nil
	case ReceiverMerge:
		values := make([]any, len(deps))
		for i, d := range deps {
			values[i] = d.Value
		}
		return []any{values}, nil, nil
	case ReceiverUnpack:
		if len(deps) != 1 {
			return nil, nil, automaerr.ArgsMapping(workerKey, rule.String(), fmt.Sprintf("UNPACK requires exactly one dependency, got %d", len(deps)), nil)
		}
		v := deps[0].Value
		if kw, ok := v.(map[string]any); ok {
			return nil, kw, nil
		}
		if seq, ok := asSlice(v); ok {
			return seq, nil, nil
		}
		return nil, nil, automaerr.ArgsMapping(workerKey, rule.String(), fmt.Sprintf("UNPACK requires a sequence or string-keyed map dependency output, got %T", v), nil)
	default:
		return nil, nil, automaerr.ArgsMapping(workerKey, "", "unknown receiver rule", nil)
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case Distributed:
		return s.Values, true
	default:
		return nil, false
	}
}

// CompileAnnotation compiles a raw JSON Schema document into the
// *jsonschema.Schema a signature.Param.Annotation expects, grounded on
// the santhosh-tekuri/jsonschema/v6 compiler pattern.
func CompileAnnotation(resourceName string, schemaDoc any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource %q: %w", resourceName, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema resource %q: %w", resourceName, err)
	}
	return schema, nil
}
