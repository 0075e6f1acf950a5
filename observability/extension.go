package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/ext"
	"github.com/alpex29/infinitic/message"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.EntityDispatched = (*MetricsExtension)(nil)
	_ ext.RetryScheduled   = (*MetricsExtension)(nil)
	_ ext.StatusChanged    = (*MetricsExtension)(nil)
	_ ext.EntityCompleted  = (*MetricsExtension)(nil)
	_ ext.EntityCanceled   = (*MetricsExtension)(nil)
	_ ext.MessageDiscarded = (*MetricsExtension)(nil)
	_ ext.WriteConflict    = (*MetricsExtension)(nil)
	_ ext.DeadLettered     = (*MetricsExtension)(nil)
)

const meterName = "github.com/alpex29/infinitic/observability"

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. Register it as an extension to track dispatch rates, retries,
// status transitions, terminations, discarded messages, write conflicts
// and dead letters.
type MetricsExtension struct {
	Dispatched   metric.Int64Counter
	Retried      metric.Int64Counter
	Transitions  metric.Int64Counter
	Completed    metric.Int64Counter
	Canceled     metric.Int64Counter
	Discarded    metric.Int64Counter
	Conflicts    metric.Int64Counter
	DeadLettered metric.Int64Counter
	Lifetime     metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. On instrument errors the OTel API returns noop
// instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	lifetime, _ := meter.Float64Histogram("infinitic.entity.lifetime",
		metric.WithDescription("Time from dispatch to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		Dispatched:   counter("infinitic.entity.dispatched", "Entities created"),
		Retried:      counter("infinitic.attempt.retried", "Retries scheduled after a failed attempt"),
		Transitions:  counter("infinitic.entity.transitions", "Status transitions"),
		Completed:    counter("infinitic.entity.completed", "Entities terminated with an output"),
		Canceled:     counter("infinitic.entity.canceled", "Entities canceled"),
		Discarded:    counter("infinitic.message.discarded", "Messages dropped by an engine"),
		Conflicts:    counter("infinitic.state.conflicts", "Conditional writes lost to a concurrent consumer"),
		DeadLettered: counter("infinitic.dlq.entries", "Deliveries moved to the dead letter queue"),
		Lifetime:     lifetime,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(s *entity.State) attribute.KeyValue {
	return attribute.String("kind", string(s.Kind))
}

// ── Engine hooks ────────────────────────────────────

// OnEntityDispatched implements ext.EntityDispatched.
func (m *MetricsExtension) OnEntityDispatched(ctx context.Context, s *entity.State) error {
	m.Dispatched.Add(ctx, 1, metric.WithAttributes(kindAttr(s), attribute.String("task_name", s.Name)))
	return nil
}

// OnRetryScheduled implements ext.RetryScheduled.
func (m *MetricsExtension) OnRetryScheduled(ctx context.Context, s *entity.State, _ time.Duration) error {
	m.Retried.Add(ctx, 1, metric.WithAttributes(kindAttr(s), attribute.String("task_name", s.Name)))
	return nil
}

// OnStatusChanged implements ext.StatusChanged.
func (m *MetricsExtension) OnStatusChanged(ctx context.Context, s *entity.State, from, to entity.Status) error {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		kindAttr(s),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	return nil
}

// OnEntityCompleted implements ext.EntityCompleted.
func (m *MetricsExtension) OnEntityCompleted(ctx context.Context, s *entity.State, elapsed time.Duration) error {
	attrs := metric.WithAttributes(kindAttr(s), attribute.String("task_name", s.Name))
	m.Completed.Add(ctx, 1, attrs)
	m.Lifetime.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnEntityCanceled implements ext.EntityCanceled.
func (m *MetricsExtension) OnEntityCanceled(ctx context.Context, s *entity.State) error {
	m.Canceled.Add(ctx, 1, metric.WithAttributes(kindAttr(s), attribute.String("task_name", s.Name)))
	return nil
}

// OnMessageDiscarded implements ext.MessageDiscarded.
func (m *MetricsExtension) OnMessageDiscarded(ctx context.Context, env *message.Envelope, reason string) error {
	m.Discarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message_kind", string(env.Kind)),
		attribute.String("reason", reason),
	))
	return nil
}

// OnWriteConflict implements ext.WriteConflict.
func (m *MetricsExtension) OnWriteConflict(ctx context.Context, env *message.Envelope) error {
	m.Conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("message_kind", string(env.Kind))))
	return nil
}

// ── Other hooks ─────────────────────────────────────

// OnDeadLettered implements ext.DeadLettered.
func (m *MetricsExtension) OnDeadLettered(ctx context.Context, e *dlq.Entry) error {
	m.DeadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", e.Topic)))
	return nil
}
