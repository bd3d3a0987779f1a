package otel

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansRouteToTestTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	InitForTesting(tp.Tracer("test"))
	t.Cleanup(ResetForTesting)

	_, ok := StartSpan(context.Background(), SpanPlaceOrder, attribute.Int64(AttributeOrderID, 7))
	ok.End()

	_, failed := StartSpan(context.Background(), SpanMatchOrders)
	Fail(failed, "PricingViolation", errors.New("buy price below sell price"))
	AddAttributes(failed, attribute.Int64(AttributeTradeID, 3))
	failed.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, SpanPlaceOrder, spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int64(AttributeOrderID, 7))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, SpanMatchOrders, spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String(AttributeErrorKind, "PricingViolation"))
	assert.Contains(t, spans[1].Attributes(), attribute.Int64(AttributeTradeID, 3))
	assert.Len(t, spans[1].Events(), 1)
}

func TestFailIgnoresNilError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	InitForTesting(tp.Tracer("test"))
	t.Cleanup(ResetForTesting)

	_, span := StartSpan(context.Background(), SpanCancelOrder)
	Fail(span, "StateConflict", nil)
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Unset, recorder.Ended()[0].Status().Code)
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestEngineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOrderPlaced(ctx, "m1")
	m.RecordOrderPlaced(ctx, "m1")
	m.RecordOrderDelegated(ctx, "m1")
	m.RecordTrade(ctx, "m1", 40)
	m.RecordTrade(ctx, "m2", math.MaxUint64)
	m.RecordRejected(ctx, "match_orders", "PricingViolation")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumOf(t, rm, "darkpool.orders.placed"))
	assert.Equal(t, int64(1), sumOf(t, rm, "darkpool.orders.delegated"))
	assert.Equal(t, int64(2), sumOf(t, rm, "darkpool.trades.executed"))
	assert.Equal(t, int64(1), sumOf(t, rm, "darkpool.operations.rejected"))

	// 40 on m1 plus the clamped amount on m2
	var amounts []int64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name == "darkpool.trades.matched_amount" {
				for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
					amounts = append(amounts, dp.Value)
				}
			}
		}
	}
	assert.ElementsMatch(t, []int64{40, math.MaxInt64}, amounts)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RecordOrderPlaced(context.Background(), "m")
		m.RecordTrade(context.Background(), "m", 1)
		(&EngineMetrics{}).RecordRejected(context.Background(), "op", "kind")
	})
}
