package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Span names
	SpanInitializeOrderbook = "initialize_orderbook"
	SpanPlaceOrder          = "place_order"
	SpanDelegateOrder       = "delegate_order"
	SpanMatchOrders         = "match_orders"
	SpanCancelOrder         = "cancel_order"
	SpanPauseMarket         = "pause_market"
	SpanResumeMarket        = "resume_market"
	SpanSendEvent           = "send_event"

	// Attribute keys
	AttributeMarket       = "darkpool.market"
	AttributeOrderOwner   = "order.owner"
	AttributeOrderID      = "order.id"
	AttributeOrderSide    = "order.side"
	AttributeOrderAmount  = "order.amount"
	AttributeOrderPrice   = "order.price"
	AttributeOrderStatus  = "order.status"
	AttributeFilledAmount = "order.filled_amount"
	AttributeTradeID      = "trade.id"
	AttributeTradeAmount  = "trade.amount"
	AttributeTradePrice   = "trade.price"
	AttributeErrorKind    = "error.kind"
)

func tracerFor(name string) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()

	var tracer trace.Tracer
	switch name {
	case SpanMatchOrders:
		tracer = settlementTracer
	default:
		tracer = orderFlowTracer
	}
	if tracer == nil {
		return GetTracerProvider(ServiceSettlement).Tracer(instrumentationName)
	}
	return tracer
}

// StartSpan starts a span for an engine operation. The span is never nil;
// without a configured provider it is a no-op span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracerFor(name).Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to a span
func AddAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// Fail records err on span with its classification.
func Fail(span trace.Span, kind string, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttributeErrorKind, kind))
	span.SetStatus(codes.Error, err.Error())
}
