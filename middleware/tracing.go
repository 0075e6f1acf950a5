package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/message"
)

// tracerName is the instrumentation scope name for infinitic tracing.
const tracerName = "github.com/alpex29/infinitic"

// Tracing returns middleware that wraps attempt execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: infinitic.entity.id, infinitic.entity.kind,
// infinitic.task.name, infinitic.attempt.id, infinitic.attempt.index and
// infinitic.attempt.retry. On error, the span status is set to codes.Error
// with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		kind, _ := entity.KindOf(run.EntityID)
		ctx, span := tracer.Start(ctx, "infinitic.attempt.execute",
			trace.WithAttributes(
				attribute.String("infinitic.entity.id", run.EntityID.String()),
				attribute.String("infinitic.entity.kind", string(kind)),
				attribute.String("infinitic.task.name", run.Name),
				attribute.String("infinitic.attempt.id", run.Attempt.ID.String()),
				attribute.Int64("infinitic.attempt.index", int64(run.Attempt.Index)), //nolint:gosec // counters stay far below MaxInt64
				attribute.Int64("infinitic.attempt.retry", int64(run.Attempt.Retry)), //nolint:gosec // counters stay far below MaxInt64
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
