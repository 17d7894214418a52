package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aelexs/embedded-checkout/internal/observability"
)

func TestInitMetrics_ShutdownFlushes(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	mp, err := observability.InitMetrics(context.Background(), observability.MetricsConfig{
		ServiceName: "checkout-test",
		Environment: "test",
	})
	require.NoError(t, err)

	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_ShutdownNilProvider(t *testing.T) {
	mp := &observability.MetricsProvider{}

	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestCounter_RecordsByAttribute(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	c := observability.Counter(mp.Meter("refresh"), "auth_refresh_total", "Total refresh calls by outcome")
	c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "success")))
	c.Add(context.Background(), 2, metric.WithAttributes(attribute.String("outcome", "failure")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "auth_refresh_total", m.Name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		got[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"success": 1, "failure": 2}, got)
}
