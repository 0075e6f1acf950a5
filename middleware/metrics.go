package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alpex29/infinitic/message"
)

// meterName is the instrumentation scope name for infinitic metrics.
const meterName = "github.com/alpex29/infinitic"

// Metrics returns middleware that records per-attempt execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - infinitic.attempt.duration (Float64Histogram): execution time in
//     seconds, with attributes: task_name, status ("ok" or "error")
//   - infinitic.attempt.executions (Int64Counter): total executions,
//     with attributes: task_name, status ("ok" or "error"), retried
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"infinitic.attempt.duration",
		metric.WithDescription("Duration of attempt execution in seconds"),
		metric.WithUnit("s"),
	)

	executions, _ := meter.Int64Counter(
		"infinitic.attempt.executions",
		metric.WithDescription("Total number of attempt executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, run *message.RunAttempt, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		duration.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("task_name", run.Name),
			attribute.String("status", status),
		))
		executions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task_name", run.Name),
			attribute.String("status", status),
			attribute.Bool("retried", run.Attempt.Retry > 0),
		))

		return err
	}
}
