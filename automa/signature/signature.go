// Package signature implements the signature inspector (C2): the
// five-bucket parameter schema every worker declares, plus the
// descriptor values (From, System) a parameter's default can carry to
// request injection instead of a literal default.
//
// Go has no runtime parameter-name introspection, so buckets are
// populated by explicit Declare(...) construction at worker-registration
// time rather than by inspecting a struct's methods; reflectadapter.go
// offers a best-effort convenience adapter for plain funcs on top of
// this explicit path.
package signature

import "github.com/santhosh-tekuri/jsonschema/v6"

// Kind classifies how a parameter participates in binding.
type Kind int

const (
	// PositionalOnly parameters are bound strictly by position.
	PositionalOnly Kind = iota
	// PositionalOrKeyword parameters may be bound by position or by name.
	PositionalOrKeyword
	// VarPositional captures any remaining positional arguments.
	VarPositional
	// KeywordOnly parameters may only be bound by name.
	KeywordOnly
	// VarKeyword captures any remaining keyword arguments.
	VarKeyword
)

func (k Kind) String() string {
	switch k {
	case PositionalOnly:
		return "POSITIONAL_ONLY"
	case PositionalOrKeyword:
		return "POSITIONAL_OR_KEYWORD"
	case VarPositional:
		return "VAR_POSITIONAL"
	case KeywordOnly:
		return "KEYWORD_ONLY"
	case VarKeyword:
		return "VAR_KEYWORD"
	default:
		return "UNKNOWN"
	}
}

// Param describes one worker parameter.
type Param struct {
	// Name is the parameter name. Required for every kind except
	// VarPositional, which is positionally addressed.
	Name string
	// Kind classifies the parameter.
	Kind Kind
	// Default is the parameter's default value. It may be a literal, a
	// FromDescriptor, or a SystemDescriptor; see HasDefault.
	Default any
	// HasDefault reports whether Default should be used when no value is
	// otherwise bound for this parameter.
	HasDefault bool
	// Annotation is an optional JSON Schema the bound/injected value is
	// validated against before dispatch.
	Annotation *jsonschema.Schema
}

// FromDescriptor requests that a parameter be injected from another
// worker's output, addressed by key, rather than from the normal
// dependency/binding flow.
type FromDescriptor struct {
	SourceKey  string
	Default    any
	HasDefault bool
}

// From builds a FromDescriptor requesting injection from sourceKey's
// output. An optional default is used if sourceKey never produced a
// value (e.g. it was skipped).
func From(sourceKey string, def ...any) FromDescriptor {
	fd := FromDescriptor{SourceKey: sourceKey}
	if len(def) > 0 {
		fd.Default = def[0]
		fd.HasDefault = true
	}
	return fd
}

// SystemDescriptor requests injection of a runtime-provided value
// identified by Tag (e.g. "automa", "automa:<key>", "runtime_context").
type SystemDescriptor struct {
	Tag string
}

// System builds a SystemDescriptor for the given tag.
func System(tag string) SystemDescriptor {
	return SystemDescriptor{Tag: tag}
}

// Buckets is the fully inspected signature of a worker, grouping its
// parameters by Kind.
type Buckets struct {
	Positional          []Param
	PositionalOrKeyword []Param
	VarPositional       *Param
	KeywordOnly         []Param
	VarKeyword          *Param
}

// Declare builds a Buckets from an explicit, ordered parameter list,
// grouping each Param by its Kind. At most one VarPositional and one
// VarKeyword parameter is permitted; Declare panics on a malformed list
// since signatures are wired at program-init time, not from external
// input.
func Declare(params ...Param) Buckets {
	var b Buckets
	for i := range params {
		p := params[i]
		switch p.Kind {
		case PositionalOnly:
			b.Positional = append(b.Positional, p)
		case PositionalOrKeyword:
			b.PositionalOrKeyword = append(b.PositionalOrKeyword, p)
		case VarPositional:
			if b.VarPositional != nil {
				panic("signature: at most one VAR_POSITIONAL parameter is allowed")
			}
			b.VarPositional = &p
		case KeywordOnly:
			b.KeywordOnly = append(b.KeywordOnly, p)
		case VarKeyword:
			if b.VarKeyword != nil {
				panic("signature: at most one VAR_KEYWORD parameter is allowed")
			}
			b.VarKeyword = &p
		default:
			panic("signature: unknown parameter kind")
		}
	}
	return b
}

// AllNamed returns every named parameter (everything but VarPositional)
// in declaration order: Positional, then PositionalOrKeyword, then
// KeywordOnly, then VarKeyword if present.
func (b Buckets) AllNamed() []Param {
	out := make([]Param, 0, len(b.Positional)+len(b.PositionalOrKeyword)+len(b.KeywordOnly)+1)
	out = append(out, b.Positional...)
	out = append(out, b.PositionalOrKeyword...)
	out = append(out, b.KeywordOnly...)
	if b.VarKeyword != nil {
		out = append(out, *b.VarKeyword)
	}
	return out
}

// ByName returns the Param named name and true, or a zero Param and
// false if no such named parameter exists.
func (b Buckets) ByName(name string) (Param, bool) {
	for _, p := range b.AllNamed() {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}
