package automa

import (
	"sync"

	"github.com/bitsky-tech/automa/automa/callback"
	"github.com/bitsky-tech/automa/automa/engine"
	"github.com/bitsky-tech/automa/automa/snapshot"
	"github.com/bitsky-tech/automa/automa/telemetry"
)

// RunningOptions is the per-Automa configuration record (spec.md §6):
// debug/verbose flags plus the automa-scoped callback builders composed
// into the effective global ∪ automa ∪ slot pipeline.
type RunningOptions struct {
	Debug            bool
	Verbose          bool
	CallbackBuilders []callback.Builder
}

// globalSetting is the process-scoped, additive registry of callback
// builders applied to every Automa (spec.md §6 GlobalSetting), guarded
// by a mutex rather than exposed as package-level mutable state, per
// the "no process-level mutable singletons except an opt-in registry
// guarded by a mutex" design note (spec.md §9).
type globalSetting struct {
	mu               sync.RWMutex
	callbackBuilders []callback.Builder
}

var global = &globalSetting{}

// GlobalSetting returns the process-wide additive callback-builder
// registry. Builders added here apply to every Automa constructed
// afterwards (and to Automas already constructed, since buildPipeline
// reads the registry at every worker dispatch rather than copying it once).
func GlobalSetting() *globalSetting { return global }

// Add appends builder to the global registry.
func (g *globalSetting) Add(builder callback.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbackBuilders = append(g.callbackBuilders, builder)
}

func (g *globalSetting) snapshot() []callback.Builder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]callback.Builder(nil), g.callbackBuilders...)
}

// Option configures an Automa at construction time.
type Option func(*Automa)

// WithName sets the Automa's name, used in AutomaPath and logging.
func WithName(name string) Option {
	return func(a *Automa) {
		a.name = name
		a.path = []string{name}
	}
}

// WithPool supplies a shared engine.Pool. When omitted, a nested Automa
// inherits its parent's pool at adoption time, and a top-level Automa
// gets a default-sized one of its own.
func WithPool(pool *engine.Pool) Option {
	return func(a *Automa) { a.pool = pool }
}

// WithRunningOptions sets the Automa's RunningOptions record directly.
func WithRunningOptions(opts RunningOptions) Option {
	return func(a *Automa) { a.options = opts }
}

// WithDebug sets RunningOptions.Debug.
func WithDebug(debug bool) Option {
	return func(a *Automa) { a.options.Debug = debug }
}

// WithVerbose sets RunningOptions.Verbose.
func WithVerbose(verbose bool) Option {
	return func(a *Automa) { a.options.Verbose = verbose }
}

// WithCallbackBuilders appends automa-scoped callback builders.
func WithCallbackBuilders(builders ...callback.Builder) Option {
	return func(a *Automa) { a.options.CallbackBuilders = append(a.options.CallbackBuilders, builders...) }
}

// WithTelemetry overrides the default noop Logger/Metrics/Tracer.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) Option {
	return func(a *Automa) {
		if logger != nil {
			a.logger = logger
		}
		if metrics != nil {
			a.metrics = metrics
		}
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// WithSnapshotStore overrides the default in-memory snapshot.MemStore.
func WithSnapshotStore(store snapshot.Store) Option {
	return func(a *Automa) { a.snapshotStore = store }
}

// WithResetLocalSpace controls whether worker local_space is cleared at
// the start of each arun (the default). An arun that resumes with
// interaction feedback never clears it. Pass false to preserve
// local_space across invocations for this Automa (spec.md invariant 6's
// shouldResetLocalSpace hook).
func WithResetLocalSpace(reset bool) Option {
	return func(a *Automa) { a.resetLocalSpace = reset }
}
