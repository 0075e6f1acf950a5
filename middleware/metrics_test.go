package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/metric/metricdata/metricdatatest"

	mw "github.com/alpex29/infinitic/middleware"
)

// measure runs one attempt per outcome through the metrics middleware and
// collects what was recorded.
func measure(t *testing.T, outcomes ...error) map[string]metricdata.Metrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	for i, outcome := range outcomes {
		run := newTestRun()
		run.Attempt.Retry = uint64(i)
		_ = m(context.Background(), run, func(context.Context) error { return outcome })
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md
		}
	}
	return out
}

func TestMetrics_Executions(t *testing.T) {
	got := measure(t, nil, nil, errors.New("boom"))

	md, ok := got["infinitic.attempt.executions"]
	require.True(t, ok, "executions counter not recorded")

	want := metricdata.Sum[int64]{
		Temporality: metricdata.CumulativeTemporality,
		IsMonotonic: true,
		DataPoints: []metricdata.DataPoint[int64]{
			{
				Attributes: attribute.NewSet(
					attribute.String("task_name", "send-email"),
					attribute.String("status", "ok"),
					attribute.Bool("retried", false),
				),
				Value: 1,
			},
			{
				Attributes: attribute.NewSet(
					attribute.String("task_name", "send-email"),
					attribute.String("status", "ok"),
					attribute.Bool("retried", true),
				),
				Value: 1,
			},
			{
				Attributes: attribute.NewSet(
					attribute.String("task_name", "send-email"),
					attribute.String("status", "error"),
					attribute.Bool("retried", true),
				),
				Value: 1,
			},
		},
	}
	metricdatatest.AssertAggregationsEqual(t, want, md.Data, metricdatatest.IgnoreTimestamp(), metricdatatest.IgnoreExemplars())
}

func TestMetrics_Duration(t *testing.T) {
	got := measure(t, nil, errors.New("boom"))

	md, ok := got["infinitic.attempt.duration"]
	require.True(t, ok, "duration histogram not recorded")
	assert.Equal(t, "s", md.Unit)

	hist, ok := md.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "duration is %T", md.Data)
	require.Len(t, hist.DataPoints, 2)

	statuses := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("status")
		statuses[v.AsString()] += dp.Count
		_, hasRetried := dp.Attributes.Value("retried")
		assert.False(t, hasRetried, "duration carries only task_name and status")
	}
	assert.Equal(t, map[string]uint64{"ok": 1, "error": 1}, statuses)
}

func TestMetrics_GlobalNoop(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestRun(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
