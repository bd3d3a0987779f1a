package otel

import (
	"context"
	"math"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	engineMetrics     *EngineMetrics
	engineMetricsOnce sync.Once
)

// EngineMetrics holds the instruments for darkpool operations.
type EngineMetrics struct {
	ordersPlaced   metric.Int64Counter
	ordersDelegate metric.Int64Counter
	tradesExecuted metric.Int64Counter
	matchedAmount  metric.Int64Counter
	rejected       metric.Int64Counter
}

// NewEngineMetrics creates the instruments on meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	ordersPlaced, err := meter.Int64Counter(
		"darkpool.orders.placed",
		metric.WithDescription("Number of orders accepted"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersDelegated, err := meter.Int64Counter(
		"darkpool.orders.delegated",
		metric.WithDescription("Number of orders handed to the executor"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	tradesExecuted, err := meter.Int64Counter(
		"darkpool.trades.executed",
		metric.WithDescription("Number of trades settled"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	matchedAmount, err := meter.Int64Counter(
		"darkpool.trades.matched_amount",
		metric.WithDescription("Total quantity settled"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"darkpool.operations.rejected",
		metric.WithDescription("Operations rejected by precondition, authorization or storage"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		ordersPlaced:   ordersPlaced,
		ordersDelegate: ordersDelegated,
		tradesExecuted: tradesExecuted,
		matchedAmount:  matchedAmount,
		rejected:       rejected,
	}, nil
}

// GetEngineMetrics returns the process-wide instruments. If they cannot be
// created every recording method is a no-op.
func GetEngineMetrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		m, err := NewEngineMetrics(GetMeterProvider().Meter(instrumentationName))
		if err != nil {
			m = &EngineMetrics{}
		}
		engineMetrics = m
	})
	return engineMetrics
}

func marketAttr(market string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttributeMarket, market))
}

func (m *EngineMetrics) RecordOrderPlaced(ctx context.Context, market string) {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, marketAttr(market))
}

func (m *EngineMetrics) RecordOrderDelegated(ctx context.Context, market string) {
	if m == nil || m.ordersDelegate == nil {
		return
	}
	m.ordersDelegate.Add(ctx, 1, marketAttr(market))
}

// RecordTrade counts one trade and its quantity. Quantities above MaxInt64
// are clamped.
func (m *EngineMetrics) RecordTrade(ctx context.Context, market string, amount uint64) {
	if m == nil || m.tradesExecuted == nil {
		return
	}
	m.tradesExecuted.Add(ctx, 1, marketAttr(market))
	v := int64(math.MaxInt64)
	if amount < math.MaxInt64 {
		v = int64(amount)
	}
	m.matchedAmount.Add(ctx, v, marketAttr(market))
}

func (m *EngineMetrics) RecordRejected(ctx context.Context, operation, kind string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String(AttributeErrorKind, kind),
	))
}
