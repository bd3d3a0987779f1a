package core

import (
	"context"
	"fmt"

	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/erain9/darkpool/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
)

// NewOrderbook creates an active orderbook for market controlled by
// authority.
func NewOrderbook(market, authority Identity) *Orderbook {
	return &Orderbook{Market: market, Authority: authority}
}

func (ob *Orderbook) checkAcceptingOrders() error {
	if ob.IsPaused {
		return fmt.Errorf("%w: %s", ErrMarketPaused, ob.Market.Hex())
	}
	return nil
}

func (ob *Orderbook) checkAuthority(caller Identity) error {
	if ob.Authority != caller {
		return fmt.Errorf("%w: %s is not the authority of %s", ErrUnauthorized, caller.Hex(), ob.Market.Hex())
	}
	return nil
}

func (ob *Orderbook) recordOrder() {
	ob.OrderCount = SaturatingAdd(ob.OrderCount, 1)
}

func (ob *Orderbook) recordTrade() {
	ob.TradeCount = SaturatingAdd(ob.TradeCount, 1)
}

// InitializeOrderbook creates the orderbook for a market with the caller as
// its authority. A market can be initialized only once.
func (e *Engine) InitializeOrderbook(ctx context.Context, req *InitializeOrderbookRequest) (*Orderbook, error) {
	const op = OpInitializeOrderbook
	ctx, span := otel.StartSpan(ctx, otel.SpanInitializeOrderbook,
		attribute.String(otel.AttributeMarket, req.Market.Hex()),
	)
	defer span.End()

	if err := e.authorize(ctx, req.Credentials, req.Digest()); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}
	if req.Market.IsZero() {
		return nil, e.fail(ctx, span, op, InvalidInput, fmt.Errorf("%w: empty market", ErrInvalidIdentity))
	}

	ob := NewOrderbook(req.Market, req.Caller)
	if err := e.store.Commit(ctx, NewTx().PutOrderbook(ob)); err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	logger := logging.FromContext(ctx)
	logger.Info().
		Str("market", ob.Market.Hex()).
		Str("authority", ob.Authority.Hex()).
		Msg("orderbook initialized")

	event := messaging.NewEvent(messaging.EventOrderbookInitialized, ob.Market.Hex(), e.clock.Now())
	event.OrderbookInitialized = &messaging.OrderbookInitialized{Authority: ob.Authority.Hex()}
	e.emit(ctx, event)
	return ob, nil
}

// PauseMarket stops new placements. Delegation, matching and cancellation
// of existing orders continue.
func (e *Engine) PauseMarket(ctx context.Context, req *PauseMarketRequest) (*Orderbook, error) {
	return e.setPaused(ctx, OpPauseMarket, otel.SpanPauseMarket, req.Credentials, req.Market, req.Digest(), true)
}

// ResumeMarket reopens a paused market for placements.
func (e *Engine) ResumeMarket(ctx context.Context, req *ResumeMarketRequest) (*Orderbook, error) {
	return e.setPaused(ctx, OpResumeMarket, otel.SpanResumeMarket, req.Credentials, req.Market, req.Digest(), false)
}

func (e *Engine) setPaused(ctx context.Context, op, spanName string, creds Credentials, market Identity, digest [32]byte, paused bool) (*Orderbook, error) {
	ctx, span := otel.StartSpan(ctx, spanName, attribute.String(otel.AttributeMarket, market.Hex()))
	defer span.End()

	if err := e.authorize(ctx, creds, digest); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}

	ob, err := e.store.GetOrderbook(ctx, market)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	if err := ob.checkAuthority(creds.Caller); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}
	ob.IsPaused = paused

	if err := e.store.Commit(ctx, NewTx().PutOrderbook(ob)); err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	logger := logging.FromContext(ctx)
	logger.Info().
		Str("market", ob.Market.Hex()).
		Bool("paused", paused).
		Msg("market status changed")

	typ := messaging.EventMarketResumed
	if paused {
		typ = messaging.EventMarketPaused
	}
	event := messaging.NewEvent(typ, ob.Market.Hex(), e.clock.Now())
	event.MarketStatus = &messaging.MarketStatus{Authority: ob.Authority.Hex(), Paused: paused}
	e.emit(ctx, event)
	return ob, nil
}

// GetOrderbook reads a market's orderbook.
func (e *Engine) GetOrderbook(ctx context.Context, market Identity) (*Orderbook, error) {
	ob, err := e.store.GetOrderbook(ctx, market)
	if err != nil {
		return nil, readError("get_orderbook", err)
	}
	return ob, nil
}
