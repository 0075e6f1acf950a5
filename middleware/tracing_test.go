package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/alpex29/infinitic/entity"
	"github.com/alpex29/infinitic/id"
	"github.com/alpex29/infinitic/message"
	mw "github.com/alpex29/infinitic/middleware"
)

func newTestRun() *message.RunAttempt {
	return &message.RunAttempt{
		EntityID: id.NewTaskID(),
		Attempt:  message.Attempt{ID: id.NewAttemptID(), Index: 1, Retry: 2},
		Name:     "send-email",
		Input:    entity.MustJSON(map[string]string{"to": "a@b.c"}),
	}
}

// traced runs handler under the tracing middleware and returns the single
// span it ended.
func traced(t *testing.T, run *message.RunAttempt, handler mw.Handler) (sdktrace.ReadOnlySpan, error) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	err := mw.TracingWithTracer(tp.Tracer("test"))(context.Background(), run, handler)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	return spans[0], err
}

func TestTracing_Span(t *testing.T) {
	run := newTestRun()
	span, err := traced(t, run, func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, "infinitic.attempt.execute", span.Name())
	assert.Equal(t, trace.SpanKindConsumer, span.SpanKind())

	got := make(map[attribute.Key]attribute.Value, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		got[kv.Key] = kv.Value
	}
	want := []attribute.KeyValue{
		attribute.String("infinitic.entity.id", run.EntityID.String()),
		attribute.String("infinitic.entity.kind", "task"),
		attribute.String("infinitic.task.name", "send-email"),
		attribute.String("infinitic.attempt.id", run.Attempt.ID.String()),
		attribute.Int64("infinitic.attempt.index", 1),
		attribute.Int64("infinitic.attempt.retry", 2),
	}
	for _, kv := range want {
		assert.Equal(t, kv.Value, got[kv.Key], "attribute %s", kv.Key)
	}
}

func TestTracing_Status(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      codes.Code
		exception bool
	}{
		{"success", nil, codes.Ok, false},
		{"failure", errors.New("handler failed"), codes.Error, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := traced(t, newTestRun(), func(context.Context) error { return tt.err })
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.code, span.Status().Code)

			var exception bool
			for _, ev := range span.Events() {
				exception = exception || ev.Name == "exception"
			}
			assert.Equal(t, tt.exception, exception)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), span.Status().Description)
			}
		})
	}
}

func TestTracing_HandlerSeesSpan(t *testing.T) {
	var inner trace.SpanContext
	span, err := traced(t, newTestRun(), func(ctx context.Context) error {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	require.NoError(t, err)
	require.True(t, inner.IsValid())
	assert.Equal(t, span.SpanContext().SpanID(), inner.SpanID())
}

func TestTracing_GlobalNoop(t *testing.T) {
	called := false
	err := mw.Tracing()(context.Background(), newTestRun(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
