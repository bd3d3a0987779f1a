package core

import (
	"context"
	"fmt"

	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/erain9/darkpool/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Fill is the quantity and price of a prospective trade.
type Fill struct {
	Amount uint64
	Price  uint64
}

// MatchPolicy decides which order statuses may be matched.
type MatchPolicy struct {
	// AllowPartialFill admits PartialFill orders that still hold a
	// delegation record.
	AllowPartialFill bool
}

func (p MatchPolicy) matchable(o *Order) bool {
	switch o.Status {
	case Delegated:
		return true
	case PartialFill:
		return p.AllowPartialFill && o.Delegation != nil
	default:
		return false
	}
}

// PlanFill checks the match preconditions in order (sides, statuses,
// price crossing, quantity) and computes the fill. It does not mutate the
// orders.
func (p MatchPolicy) PlanFill(buy, sell *Order) (Fill, Kind, error) {
	if buy.Side != Buy {
		return Fill{}, InvalidInput, fmt.Errorf("%w: %s is not a buy order", ErrInvalidSide, buy.Key())
	}
	if sell.Side != Sell {
		return Fill{}, InvalidInput, fmt.Errorf("%w: %s is not a sell order", ErrInvalidSide, sell.Key())
	}
	if !p.matchable(buy) {
		return Fill{}, StateConflict, fmt.Errorf("%w: %s is %s", ErrOrderNotDelegated, buy.Key(), buy.Status)
	}
	if !p.matchable(sell) {
		return Fill{}, StateConflict, fmt.Errorf("%w: %s is %s", ErrOrderNotDelegated, sell.Key(), sell.Status)
	}
	if buy.Price < sell.Price {
		return Fill{}, PricingViolation, fmt.Errorf("%w: %d < %d", ErrPriceMismatch, buy.Price, sell.Price)
	}

	amount := min(buy.Remaining(), sell.Remaining())
	if amount == 0 {
		return Fill{}, NoMatchableQuantity, ErrNoMatchableAmount
	}
	return Fill{Amount: amount, Price: Midpoint(buy.Price, sell.Price)}, KindUnknown, nil
}

func (e *Engine) checkCustodian(caller Identity, orders ...*Order) error {
	for _, o := range orders {
		if o.Delegation == nil || o.Delegation.Validator != caller {
			return fmt.Errorf("%w: %s does not hold %s", ErrUnauthorized, caller.Hex(), o.Key())
		}
	}
	return nil
}

// MatchOrders settles a buy order against a sell order at the midpoint of
// their prices. The trade record, both order updates and the orderbook's
// trade counter are committed together or not at all.
func (e *Engine) MatchOrders(ctx context.Context, req *MatchOrdersRequest) (*MatchResult, error) {
	const op = OpMatchOrders
	ctx, span := otel.StartSpan(ctx, otel.SpanMatchOrders,
		attribute.String(otel.AttributeMarket, req.Market.Hex()),
		attribute.Int64(otel.AttributeTradeID, int64(req.TradeID)),
	)
	defer span.End()

	if err := e.authorize(ctx, req.Credentials, req.Digest()); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}

	ob, err := e.store.GetOrderbook(ctx, req.Market)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	buy, err := e.store.GetOrder(ctx, req.Buy)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	sell, err := e.store.GetOrder(ctx, req.Sell)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	if e.requireCustodian {
		if err := e.checkCustodian(req.Caller, buy, sell); err != nil {
			return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
		}
	}
	for _, o := range []*Order{buy, sell} {
		if o.Market != ob.Market {
			return nil, e.fail(ctx, span, op, InvalidInput,
				fmt.Errorf("%w: %s belongs to %s", ErrMarketMismatch, o.Key(), o.Market.Hex()))
		}
	}

	fill, kind, err := MatchPolicy{AllowPartialFill: e.allowPartialFill}.PlanFill(buy, sell)
	if err != nil {
		return nil, e.fail(ctx, span, op, kind, err)
	}

	trade := &TradeResult{
		TradeID:     req.TradeID,
		Market:      ob.Market,
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		Amount:      fill.Amount,
		Price:       fill.Price,
		ExecutedAt:  e.now(),
	}
	buy.applyFill(fill.Amount)
	sell.applyFill(fill.Amount)
	ob.recordTrade()

	tx := NewTx().PutTrade(trade).PutOrder(buy).PutOrder(sell).PutOrderbook(ob)
	if err := e.store.Commit(ctx, tx); err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	otel.AddAttributes(span,
		attribute.Int64(otel.AttributeTradeAmount, int64(fill.Amount)),
		attribute.Int64(otel.AttributeTradePrice, int64(fill.Price)),
	)
	e.metrics.RecordTrade(ctx, ob.Market.Hex(), fill.Amount)
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("market", ob.Market.Hex()).
		Uint64("trade_id", trade.TradeID).
		Uint64("amount", trade.Amount).
		Uint64("price", trade.Price).
		Str("buy_status", buy.Status.String()).
		Str("sell_status", sell.Status.String()).
		Msg("orders matched")

	event := messaging.NewEvent(messaging.EventTradeExecuted, ob.Market.Hex(), e.clock.Now())
	event.TradeExecuted = &messaging.TradeExecuted{
		TradeID: trade.TradeID,
		Buyer:   trade.Buyer.Hex(),
		Seller:  trade.Seller.Hex(),
		Amount:  trade.Amount,
		Price:   trade.Price,
	}
	e.emit(ctx, event)
	return &MatchResult{Trade: trade, Buy: buy, Sell: sell}, nil
}
