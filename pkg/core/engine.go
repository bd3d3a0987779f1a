package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/erain9/darkpool/pkg/otel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultValidator is the confidential executor's validator identity.
var DefaultValidator = MustParseIdentity("0xdb998f3c1e1146da3de1d50bef02a164ce87eb074cd0a7c5123d8e37a27d8a09")

var errNoDelegator = errors.New("no delegator configured")

// Engine executes darkpool operations against a Store. Every operation is
// authorized, validated against the records it reads, and committed as a
// single storage transaction. Conflicting concurrent operations are
// serialized by the store's version check; the loser gets StateConflict.
type Engine struct {
	store      Store
	authorizer Authorizer
	delegator  Delegator
	clock      Clock
	events     messaging.MessageSender
	metrics    *otel.EngineMetrics
	validator  Identity

	allowPartialFill bool
	requireCustodian bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithEventSender sets where events are delivered. Without it events are
// dropped.
func WithEventSender(sender messaging.MessageSender) Option {
	return func(e *Engine) { e.events = sender }
}

func WithMetrics(m *otel.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithValidator overrides the executor identity recorded on delegation.
func WithValidator(validator Identity) Option {
	return func(e *Engine) { e.validator = validator }
}

// WithPartialFillMatching lets PartialFill orders that still hold a
// delegation record be matched again.
func WithPartialFillMatching(enabled bool) Option {
	return func(e *Engine) { e.allowPartialFill = enabled }
}

// WithCustodianMatching requires the matcher to be the validator recorded
// on both orders.
func WithCustodianMatching(enabled bool) Option {
	return func(e *Engine) { e.requireCustodian = enabled }
}

// NewEngine creates an engine. authorizer must not be nil.
func NewEngine(store Store, authorizer Authorizer, delegator Delegator, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		authorizer: authorizer,
		delegator:  delegator,
		clock:      SystemClock{},
		validator:  DefaultValidator,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = otel.GetEngineMetrics()
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

// Validator returns the executor identity used for delegation.
func (e *Engine) Validator() Identity { return e.validator }

func (e *Engine) now() int64 { return e.clock.Now().Unix() }

func (e *Engine) fail(ctx context.Context, span trace.Span, op string, kind Kind, err error) error {
	opErr := newError(op, kind, err)
	otel.Fail(span, kind.String(), opErr)
	e.metrics.RecordRejected(ctx, op, kind.String())

	logger := logging.FromContext(ctx)
	event := logger.Debug()
	if kind == CollaboratorFailure || kind == KindUnknown {
		event = logger.Error()
	}
	event.Str("op", op).Str("kind", kind.String()).Err(err).Msg("operation rejected")
	return opErr
}

// storeFail classifies a store error; anything the store did not classify
// is a collaborator failure.
func (e *Engine) storeFail(ctx context.Context, span trace.Span, op string, err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = CollaboratorFailure
	}
	return e.fail(ctx, span, op, kind, err)
}

func (e *Engine) authorize(ctx context.Context, creds Credentials, digest [32]byte) error {
	if e.authorizer == nil {
		return fmt.Errorf("%w: no authorizer configured", ErrUnauthorized)
	}
	if creds.Caller.IsZero() {
		return fmt.Errorf("%w: missing caller", ErrUnauthorized)
	}
	if err := e.authorizer.Authorize(ctx, creds.Caller, digest, creds.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, event *messaging.Event) {
	if e.events == nil {
		return
	}
	ctx, span := otel.StartSpan(ctx, otel.SpanSendEvent, attribute.String("event.type", string(event.Type)))
	defer span.End()
	if err := e.events.SendEvent(ctx, event); err != nil {
		otel.Fail(span, CollaboratorFailure.String(), err)
		logger := logging.FromContext(ctx)
		logger.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("market", event.Market).
			Msg("failed to deliver event")
	}
}

// PlaceOrder records a new Open order in an unpaused market.
func (e *Engine) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*Order, error) {
	const op = OpPlaceOrder
	ctx, span := otel.StartSpan(ctx, otel.SpanPlaceOrder,
		attribute.String(otel.AttributeMarket, req.Market.Hex()),
		attribute.String(otel.AttributeOrderOwner, req.Caller.Hex()),
		attribute.Int64(otel.AttributeOrderID, int64(req.OrderID)),
		attribute.String(otel.AttributeOrderSide, req.Side.String()),
	)
	defer span.End()

	if err := e.authorize(ctx, req.Credentials, req.Digest()); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}

	order, err := NewOrder(req.Caller, req.Market, req.OrderID, req.Side, req.Amount, req.Price, e.now())
	if err != nil {
		return nil, e.fail(ctx, span, op, InvalidInput, err)
	}

	ob, err := e.store.GetOrderbook(ctx, req.Market)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	if err := ob.checkAcceptingOrders(); err != nil {
		return nil, e.fail(ctx, span, op, MarketUnavailable, err)
	}
	ob.recordOrder()

	if err := e.store.Commit(ctx, NewTx().PutOrder(order).PutOrderbook(ob)); err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	e.metrics.RecordOrderPlaced(ctx, req.Market.Hex())
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("market", req.Market.Hex()).
		Str("owner", order.Owner.Hex()).
		Uint64("order_id", order.OrderID).
		Str("side", order.Side.String()).
		Uint64("amount", order.Amount).
		Uint64("price", order.Price).
		Msg("order placed")

	event := messaging.NewEvent(messaging.EventOrderPlaced, order.Market.Hex(), e.clock.Now())
	event.OrderPlaced = &messaging.OrderPlaced{
		OrderID: order.OrderID,
		Owner:   order.Owner.Hex(),
		Side:    order.Side.String(),
		Amount:  order.Amount,
		Price:   order.Price,
	}
	e.emit(ctx, event)
	return order, nil
}

func (e *Engine) validateDelegation(req *DelegateOrderRequest) error {
	if req.CommitFreqMs == 0 {
		return fmt.Errorf("%w: commit frequency must be positive", ErrInvalidDelegation)
	}
	if req.ValidUntil < 0 {
		return fmt.Errorf("%w: negative deadline %d", ErrInvalidDelegation, req.ValidUntil)
	}
	if req.ValidUntil != 0 && req.ValidUntil <= e.now() {
		return fmt.Errorf("%w: deadline %d already passed", ErrInvalidDelegation, req.ValidUntil)
	}
	return nil
}

// DelegateOrder hands an Open order to the confidential executor. The order
// only becomes Delegated if the handoff succeeds.
func (e *Engine) DelegateOrder(ctx context.Context, req *DelegateOrderRequest) (*Order, error) {
	const op = OpDelegateOrder
	ctx, span := otel.StartSpan(ctx, otel.SpanDelegateOrder,
		attribute.String(otel.AttributeOrderOwner, req.Order.Owner.Hex()),
		attribute.Int64(otel.AttributeOrderID, int64(req.Order.OrderID)),
	)
	defer span.End()

	if err := e.authorize(ctx, req.Credentials, req.Digest()); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}
	order, err := e.store.GetOrder(ctx, req.Order)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	if order.Owner != req.Caller {
		return nil, e.fail(ctx, span, op, AuthorizationFailure,
			fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, req.Caller.Hex(), order.Key()))
	}
	if err := order.checkDelegable(); err != nil {
		return nil, e.fail(ctx, span, op, StateConflict, err)
	}
	if err := e.validateDelegation(req); err != nil {
		return nil, e.fail(ctx, span, op, InvalidInput, err)
	}
	if e.delegator == nil {
		return nil, e.fail(ctx, span, op, CollaboratorFailure, fmt.Errorf("%w: %v", ErrDelegationFailed, errNoDelegator))
	}

	handoff := e.delegationRequest(order, req)
	if err := e.delegator.Delegate(ctx, handoff); err != nil {
		return nil, e.fail(ctx, span, op, CollaboratorFailure, fmt.Errorf("%w: %v", ErrDelegationFailed, err))
	}

	order.markDelegated(Delegation{
		Validator:    handoff.Validator,
		ValidUntil:   handoff.ValidUntil,
		CommitFreqMs: handoff.CommitFreqMs,
		DelegatedAt:  e.now(),
	})
	if err := e.store.Commit(ctx, NewTx().PutOrder(order)); err != nil {
		if revoker, ok := e.delegator.(Revoker); ok {
			if rerr := revoker.Revoke(ctx, handoff); rerr != nil {
				logger := logging.FromContext(ctx)
				logger.Error().Err(rerr).Str("order", order.Key()).Msg("failed to revoke delegation")
			}
		}
		return nil, e.storeFail(ctx, span, op, err)
	}

	e.metrics.RecordOrderDelegated(ctx, order.Market.Hex())
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("owner", order.Owner.Hex()).
		Uint64("order_id", order.OrderID).
		Str("validator", handoff.Validator.Hex()).
		Int64("valid_until", handoff.ValidUntil).
		Msg("order delegated")

	event := messaging.NewEvent(messaging.EventOrderDelegated, order.Market.Hex(), e.clock.Now())
	event.OrderDelegated = &messaging.OrderDelegated{
		OrderID:    order.OrderID,
		Owner:      order.Owner.Hex(),
		Validator:  handoff.Validator.Hex(),
		ValidUntil: handoff.ValidUntil,
	}
	e.emit(ctx, event)
	return order, nil
}

func (e *Engine) delegationRequest(order *Order, req *DelegateOrderRequest) DelegationRequest {
	addr := order.Address()
	buffer, record, metadata := DelegationSlots(addr)
	return DelegationRequest{
		HandoffID:    uuid.NewString(),
		Order:        addr,
		Owner:        order.Owner,
		OrderID:      order.OrderID,
		Validator:    e.validator,
		ValidUntil:   req.ValidUntil,
		CommitFreqMs: req.CommitFreqMs,
		Buffer:       buffer,
		Record:       record,
		Metadata:     metadata,
	}
}

// CancelOrder cancels an Open or PartialFill order on its owner's request.
// Delegated orders are held by the executor and cannot be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*Order, error) {
	const op = OpCancelOrder
	ctx, span := otel.StartSpan(ctx, otel.SpanCancelOrder,
		attribute.String(otel.AttributeOrderOwner, req.Order.Owner.Hex()),
		attribute.Int64(otel.AttributeOrderID, int64(req.Order.OrderID)),
	)
	defer span.End()

	if err := e.authorize(ctx, req.Credentials, req.Digest()); err != nil {
		return nil, e.fail(ctx, span, op, AuthorizationFailure, err)
	}

	order, err := e.store.GetOrder(ctx, req.Order)
	if err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}
	if order.Owner != req.Caller {
		return nil, e.fail(ctx, span, op, AuthorizationFailure,
			fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, req.Caller.Hex(), order.Key()))
	}
	if err := order.checkCancellable(); err != nil {
		return nil, e.fail(ctx, span, op, StateConflict, err)
	}
	order.markCancelled()

	if err := e.store.Commit(ctx, NewTx().PutOrder(order)); err != nil {
		return nil, e.storeFail(ctx, span, op, err)
	}

	otel.AddAttributes(span, attribute.Int64(otel.AttributeFilledAmount, int64(order.FilledAmount)))
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("owner", order.Owner.Hex()).
		Uint64("order_id", order.OrderID).
		Uint64("filled_amount", order.FilledAmount).
		Msg("order cancelled")

	event := messaging.NewEvent(messaging.EventOrderCancelled, order.Market.Hex(), e.clock.Now())
	event.OrderCancelled = &messaging.OrderCancelled{
		OrderID: order.OrderID,
		Owner:   order.Owner.Hex(),
	}
	e.emit(ctx, event)
	return order, nil
}

// GetOrder reads an order.
func (e *Engine) GetOrder(ctx context.Context, key OrderKey) (*Order, error) {
	order, err := e.store.GetOrder(ctx, key)
	if err != nil {
		return nil, readError("get_order", err)
	}
	return order, nil
}

// GetTrade reads a trade result.
func (e *Engine) GetTrade(ctx context.Context, tradeID uint64) (*TradeResult, error) {
	trade, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, readError("get_trade", err)
	}
	return trade, nil
}

func readError(op string, err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = CollaboratorFailure
	}
	return newError(op, kind, err)
}
