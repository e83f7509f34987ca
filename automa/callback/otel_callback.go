package callback

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"github.com/bitsky-tech/automa/automa/telemetry"
)

// NewOTelCallback returns the reference WorkerCallback adapter: it opens
// a span around every worker invocation (named after the worker key)
// and records the outcome plus a few counters. It is the concrete seam
// external tracing/observability integrations are expected to attach
// to, in place of a vendored tracer product.
//
// OnStart returns the context carrying the new span; the scheduler
// threads that context through the worker body and into OnEnd/OnError,
// so tracer.Span(ctx) there finds the same span OnStart opened.
func NewOTelCallback(tracer telemetry.Tracer, metrics telemetry.Metrics) Callback {
	return Callback{
		OnStart: func(ctx context.Context, inv Invocation) context.Context {
			newCtx, _ := tracer.Start(ctx, "worker."+inv.WorkerKey)
			metrics.IncCounter("automa.worker.started", 1, "worker", inv.WorkerKey)
			return newCtx
		},
		OnEnd: func(ctx context.Context, inv Invocation, result any) {
			span := tracer.Span(ctx)
			span.SetStatus(codes.Ok, "")
			span.End()
			metrics.IncCounter("automa.worker.completed", 1, "worker", inv.WorkerKey)
		},
		OnError: func(ctx context.Context, inv Invocation, err error) bool {
			span := tracer.Span(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			metrics.IncCounter("automa.worker.failed", 1, "worker", inv.WorkerKey)
			return false
		},
	}
}
