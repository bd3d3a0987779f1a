package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store with the same create/version rules as the real
// backends.
type mockStore struct {
	mu        sync.Mutex
	records   map[Address]*Envelope
	commits   int
	commitErr error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[Address]*Envelope)}
}

func (m *mockStore) get(addr Address) (*Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.records[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return env, nil
}

func (m *mockStore) GetOrderbook(_ context.Context, market Identity) (*Orderbook, error) {
	env, err := m.get(OrderbookAddress(market))
	if err != nil {
		return nil, err
	}
	return env.Orderbook(market)
}

func (m *mockStore) GetOrder(_ context.Context, key OrderKey) (*Order, error) {
	env, err := m.get(key.Address())
	if err != nil {
		return nil, err
	}
	return env.Order(key)
}

func (m *mockStore) GetTrade(_ context.Context, tradeID uint64) (*TradeResult, error) {
	env, err := m.get(TradeAddress(tradeID))
	if err != nil {
		return nil, err
	}
	return env.Trade(tradeID)
}

func (m *mockStore) Commit(_ context.Context, tx *Tx) error {
	muts, err := tx.Mutations()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	next := make([]*Envelope, len(muts))
	for i, mut := range muts {
		if err := mut.Check(m.records[mut.Address]); err != nil {
			return err
		}
		if next[i], err = mut.Envelope(); err != nil {
			return err
		}
	}
	for i, mut := range muts {
		m.records[mut.Address] = next[i]
	}
	m.commits++
	tx.Committed()
	return nil
}

func (m *mockStore) Close() error { return nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// recordingDelegator accepts handoffs unless err is set.
type recordingDelegator struct {
	mu       sync.Mutex
	requests []DelegationRequest
	revoked  []DelegationRequest
	err      error
}

func (d *recordingDelegator) Delegate(_ context.Context, req DelegationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDelegator) Revoke(_ context.Context, req DelegationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked = append(d.revoked, req)
	return nil
}

var (
	testNow   = time.Unix(1700000000, 0)
	authority = MustParseIdentity("0x00000000000000000000000000000000000000a1")
	alice     = MustParseIdentity("0x00000000000000000000000000000000000000a2")
	bob       = MustParseIdentity("0x00000000000000000000000000000000000000a3")
	mallory   = MustParseIdentity("0x00000000000000000000000000000000000000a4")
	market    = MustParseIdentity("0x00000000000000000000000000000000000000f1")
)

// allowAll trusts the caller field.
var allowAll = AuthorizerFunc(func(context.Context, Identity, [32]byte, []byte) error { return nil })

type fixture struct {
	engine    *Engine
	store     *mockStore
	delegator *recordingDelegator
	events    *messaging.MockMessageSender
}

func newFixture(t testing.TB, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMockStore(),
		delegator: &recordingDelegator{},
		events:    messaging.NewMockMessageSender(),
	}
	opts = append([]Option{WithClock(fixedClock{testNow}), WithEventSender(f.events)}, opts...)
	f.engine = NewEngine(f.store, allowAll, f.delegator, opts...)

	_, err := f.engine.InitializeOrderbook(context.Background(), &InitializeOrderbookRequest{
		Credentials: Credentials{Caller: authority},
		Market:      market,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) place(t testing.TB, owner Identity, id uint64, side Side, amount, price uint64) *Order {
	t.Helper()
	order, err := f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Credentials: Credentials{Caller: owner},
		Market:      market,
		OrderID:     id,
		Side:        side,
		Amount:      amount,
		Price:       price,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) delegate(t testing.TB, owner Identity, id uint64) *Order {
	t.Helper()
	order, err := f.engine.DelegateOrder(context.Background(), delegateReq(owner, id))
	require.NoError(t, err)
	return order
}

func (f *fixture) placeDelegated(t testing.TB, owner Identity, id uint64, side Side, amount, price uint64) {
	t.Helper()
	f.place(t, owner, id, side, amount, price)
	f.delegate(t, owner, id)
}

func (f *fixture) match(tradeID uint64, buy, sell OrderKey) (*MatchResult, error) {
	return f.engine.MatchOrders(context.Background(), &MatchOrdersRequest{
		Credentials: Credentials{Caller: mallory},
		Market:      market,
		TradeID:     tradeID,
		Buy:         buy,
		Sell:        sell,
	})
}

func (f *fixture) order(t *testing.T, owner Identity, id uint64) *Order {
	t.Helper()
	order, err := f.engine.GetOrder(context.Background(), OrderKey{Owner: owner, OrderID: id})
	require.NoError(t, err)
	return order
}

func (f *fixture) book(t *testing.T) *Orderbook {
	t.Helper()
	ob, err := f.engine.GetOrderbook(context.Background(), market)
	require.NoError(t, err)
	return ob
}

func delegateReq(owner Identity, id uint64) *DelegateOrderRequest {
	return &DelegateOrderRequest{
		Credentials:  Credentials{Caller: owner},
		Order:        OrderKey{Owner: owner, OrderID: id},
		ValidUntil:   testNow.Unix() + 3600,
		CommitFreqMs: 30000,
	}
}

func key(owner Identity, id uint64) OrderKey { return OrderKey{Owner: owner, OrderID: id} }

func TestFullLifecyclePartialBuy(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 100, 10)
	f.placeDelegated(t, bob, 1, Sell, 60, 8)

	result, err := f.match(1, key(alice, 1), key(bob, 1))
	require.NoError(t, err)

	trade := result.Trade
	assert.Equal(t, uint64(60), trade.Amount)
	assert.Equal(t, uint64(9), trade.Price)
	assert.Equal(t, alice, trade.Buyer)
	assert.Equal(t, bob, trade.Seller)
	assert.Equal(t, testNow.Unix(), trade.ExecutedAt)

	buy := f.order(t, alice, 1)
	assert.Equal(t, uint64(60), buy.FilledAmount)
	assert.Equal(t, PartialFill, buy.Status)
	sell := f.order(t, bob, 1)
	assert.Equal(t, uint64(60), sell.FilledAmount)
	assert.Equal(t, Filled, sell.Status)

	ob := f.book(t)
	assert.Equal(t, uint64(1), ob.TradeCount)
	assert.Equal(t, uint64(2), ob.OrderCount)

	stored, err := f.engine.GetTrade(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, trade, stored)

	executed := f.events.EventsOfType(messaging.EventTradeExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, &messaging.TradeExecuted{TradeID: 1, Buyer: alice.Hex(), Seller: bob.Hex(), Amount: 60, Price: 9}, executed[0].TradeExecuted)
	assert.Len(t, f.events.EventsOfType(messaging.EventOrderPlaced), 2)
	assert.Len(t, f.events.EventsOfType(messaging.EventOrderDelegated), 2)
}

func TestPartialFillCannotRematchByDefault(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 100, 10)
	f.placeDelegated(t, bob, 1, Sell, 60, 8)
	_, err := f.match(1, key(alice, 1), key(bob, 1))
	require.NoError(t, err)

	f.placeDelegated(t, bob, 2, Sell, 40, 8)
	_, err = f.match(2, key(alice, 1), key(bob, 2))
	require.Error(t, err)
	assert.Equal(t, StateConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrOrderNotDelegated)

	assert.Equal(t, Delegated, f.order(t, bob, 2).Status)
	_, err = f.engine.GetTrade(context.Background(), 2)
	assert.Equal(t, NotFound, KindOf(err))
}

func TestPartialFillRematchWhenEnabled(t *testing.T) {
	f := newFixture(t, WithPartialFillMatching(true))
	f.placeDelegated(t, alice, 1, Buy, 100, 10)
	f.placeDelegated(t, bob, 1, Sell, 60, 8)
	_, err := f.match(1, key(alice, 1), key(bob, 1))
	require.NoError(t, err)

	f.placeDelegated(t, bob, 2, Sell, 40, 8)
	result, err := f.match(2, key(alice, 1), key(bob, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), result.Trade.Amount)
	assert.Equal(t, Filled, f.order(t, alice, 1).Status)
	assert.Equal(t, uint64(100), f.order(t, alice, 1).FilledAmount)
	assert.Equal(t, uint64(2), f.book(t).TradeCount)
}

func TestMatchRejectsSwappedSides(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 10, 10)
	f.placeDelegated(t, bob, 1, Sell, 10, 8)
	commits := f.store.commits

	_, err := f.match(1, key(bob, 1), key(alice, 1))
	require.Error(t, err)
	assert.Equal(t, InvalidInput, KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidSide)

	assert.Equal(t, commits, f.store.commits)
	assert.Equal(t, Delegated, f.order(t, alice, 1).Status)
	assert.Equal(t, uint64(0), f.book(t).TradeCount)
}

func TestMatchRejectsPriceMismatch(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 10, 7)
	f.placeDelegated(t, bob, 1, Sell, 10, 8)

	_, err := f.match(1, key(alice, 1), key(bob, 1))
	require.Error(t, err)
	assert.Equal(t, PricingViolation, KindOf(err))
	assert.Equal(t, uint64(0), f.order(t, alice, 1).FilledAmount)
	assert.Equal(t, uint64(0), f.order(t, bob, 1).FilledAmount)
}

func TestMatchRequiresDelegation(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Buy, 10, 10)
	f.placeDelegated(t, bob, 1, Sell, 10, 8)

	_, err := f.match(1, key(alice, 1), key(bob, 1))
	assert.Equal(t, StateConflict, KindOf(err))
}

func TestMatchDuplicateTradeID(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 10, 10)
	f.placeDelegated(t, bob, 1, Sell, 5, 8)
	f.placeDelegated(t, alice, 2, Buy, 10, 10)
	f.placeDelegated(t, bob, 2, Sell, 5, 8)

	_, err := f.match(7, key(alice, 1), key(bob, 1))
	require.NoError(t, err)

	_, err = f.match(7, key(alice, 2), key(bob, 2))
	require.Error(t, err)
	assert.Equal(t, AlreadyExists, KindOf(err))

	// Nothing of the rejected match was applied.
	assert.Equal(t, Delegated, f.order(t, alice, 2).Status)
	assert.Equal(t, Delegated, f.order(t, bob, 2).Status)
	assert.Equal(t, uint64(1), f.book(t).TradeCount)
	trade, err := f.engine.GetTrade(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), trade.BuyOrderID)
}

func TestMatchRejectsForeignMarket(t *testing.T) {
	f := newFixture(t)
	other := MustParseIdentity("0x00000000000000000000000000000000000000f2")
	_, err := f.engine.InitializeOrderbook(context.Background(), &InitializeOrderbookRequest{
		Credentials: Credentials{Caller: authority},
		Market:      other,
	})
	require.NoError(t, err)

	f.placeDelegated(t, alice, 1, Buy, 10, 10)
	_, err = f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Credentials: Credentials{Caller: bob}, Market: other, OrderID: 1, Side: Sell, Amount: 10, Price: 8,
	})
	require.NoError(t, err)
	f.delegate(t, bob, 1)

	_, err = f.match(1, key(alice, 1), key(bob, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMarketMismatch)
	assert.Equal(t, InvalidInput, KindOf(err))
}

func TestMatchMissingRecords(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 10, 10)

	_, err := f.match(1, key(alice, 1), key(bob, 9))
	assert.Equal(t, NotFound, KindOf(err))
}

func TestCustodianMatching(t *testing.T) {
	validator := MustParseIdentity("0x00000000000000000000000000000000000000c1")
	f := newFixture(t, WithCustodianMatching(true), WithValidator(validator))
	f.placeDelegated(t, alice, 1, Buy, 10, 10)
	f.placeDelegated(t, bob, 1, Sell, 10, 8)

	_, err := f.match(1, key(alice, 1), key(bob, 1))
	require.Error(t, err)
	assert.Equal(t, AuthorizationFailure, KindOf(err))

	_, err = f.engine.MatchOrders(context.Background(), &MatchOrdersRequest{
		Credentials: Credentials{Caller: validator},
		Market:      market,
		TradeID:     1,
		Buy:         key(alice, 1),
		Sell:        key(bob, 1),
	})
	require.NoError(t, err)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		side   Side
		amount uint64
		price  uint64
		want   error
	}{
		{"zero amount", Buy, 0, 10, ErrInvalidAmount},
		{"zero price", Buy, 10, 0, ErrInvalidPrice},
		{"unknown side", Side(9), 10, 10, ErrInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
				Credentials: Credentials{Caller: alice}, Market: market, OrderID: 1, Side: tt.side, Amount: tt.amount, Price: tt.price,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, InvalidInput, KindOf(err))
		})
	}

	assert.Equal(t, uint64(0), f.book(t).OrderCount)
	_, err := f.engine.GetOrder(context.Background(), key(alice, 1))
	assert.Equal(t, NotFound, KindOf(err))
	assert.Empty(t, f.events.EventsOfType(messaging.EventOrderPlaced))
}

func TestPlaceOrderDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Buy, 10, 10)

	_, err := f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Credentials: Credentials{Caller: alice}, Market: market, OrderID: 1, Side: Sell, Amount: 3, Price: 3,
	})
	assert.Equal(t, AlreadyExists, KindOf(err))
	assert.Equal(t, uint64(1), f.book(t).OrderCount)
	assert.Equal(t, Buy, f.order(t, alice, 1).Side)

	// The same id under another owner is a different order.
	f.place(t, bob, 1, Sell, 10, 10)
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Credentials: Credentials{Caller: alice},
		Market:      MustParseIdentity("0x00000000000000000000000000000000000000ff"),
		OrderID:     1, Side: Buy, Amount: 1, Price: 1,
	})
	assert.Equal(t, NotFound, KindOf(err))
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.placeDelegated(t, alice, 1, Buy, 10, 10)
	f.placeDelegated(t, bob, 1, Sell, 10, 8)

	_, err := f.engine.PauseMarket(ctx, &PauseMarketRequest{Credentials: Credentials{Caller: mallory}, Market: market})
	assert.Equal(t, AuthorizationFailure, KindOf(err))
	assert.False(t, f.book(t).IsPaused)

	ob, err := f.engine.PauseMarket(ctx, &PauseMarketRequest{Credentials: Credentials{Caller: authority}, Market: market})
	require.NoError(t, err)
	assert.True(t, ob.IsPaused)

	_, err = f.engine.PlaceOrder(ctx, &PlaceOrderRequest{
		Credentials: Credentials{Caller: alice}, Market: market, OrderID: 2, Side: Buy, Amount: 1, Price: 1,
	})
	assert.Equal(t, MarketUnavailable, KindOf(err))
	assert.ErrorIs(t, err, ErrMarketPaused)

	// Pausing only blocks placement.
	_, err = f.match(1, key(alice, 1), key(bob, 1))
	require.NoError(t, err)

	_, err = f.engine.ResumeMarket(ctx, &ResumeMarketRequest{Credentials: Credentials{Caller: mallory}, Market: market})
	assert.Equal(t, AuthorizationFailure, KindOf(err))

	_, err = f.engine.ResumeMarket(ctx, &ResumeMarketRequest{Credentials: Credentials{Caller: authority}, Market: market})
	require.NoError(t, err)
	f.place(t, alice, 2, Buy, 1, 1)

	assert.Len(t, f.events.EventsOfType(messaging.EventMarketPaused), 1)
	assert.Len(t, f.events.EventsOfType(messaging.EventMarketResumed), 1)
}

func TestInitializeOrderbookTwice(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.InitializeOrderbook(context.Background(), &InitializeOrderbookRequest{
		Credentials: Credentials{Caller: mallory},
		Market:      market,
	})
	assert.Equal(t, AlreadyExists, KindOf(err))
	assert.Equal(t, authority, f.book(t).Authority)
}

func TestDelegateOrder(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Sell, 10, 10)

	order := f.delegate(t, alice, 1)
	assert.Equal(t, Delegated, order.Status)
	require.NotNil(t, order.Delegation)
	assert.Equal(t, DefaultValidator, order.Delegation.Validator)
	assert.Equal(t, uint32(30000), order.Delegation.CommitFreqMs)
	assert.Equal(t, testNow.Unix(), order.Delegation.DelegatedAt)

	require.Len(t, f.delegator.requests, 1)
	handoff := f.delegator.requests[0]
	assert.Equal(t, OrderAddress(alice, 1), handoff.Order)
	buffer, record, metadata := DelegationSlots(handoff.Order)
	assert.Equal(t, buffer, handoff.Buffer)
	assert.Equal(t, record, handoff.Record)
	assert.Equal(t, metadata, handoff.Metadata)

	_, err := f.engine.DelegateOrder(context.Background(), delegateReq(alice, 1))
	assert.Equal(t, StateConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrOrderNotOpen)
}

func TestDelegateOrderNotOwner(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Sell, 10, 10)

	req := delegateReq(alice, 1)
	req.Caller = mallory
	_, err := f.engine.DelegateOrder(context.Background(), req)
	assert.Equal(t, AuthorizationFailure, KindOf(err))
	assert.Empty(t, f.delegator.requests)
	assert.Equal(t, Open, f.order(t, alice, 1).Status)
}

func TestDelegateOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Sell, 10, 10)

	req := delegateReq(alice, 1)
	req.CommitFreqMs = 0
	_, err := f.engine.DelegateOrder(context.Background(), req)
	assert.Equal(t, InvalidInput, KindOf(err))

	req = delegateReq(alice, 1)
	req.ValidUntil = testNow.Unix()
	_, err = f.engine.DelegateOrder(context.Background(), req)
	assert.Equal(t, InvalidInput, KindOf(err))

	// Ownership and status are reported before bad parameters.
	req = delegateReq(alice, 1)
	req.Caller = bob
	req.CommitFreqMs = 0
	_, err = f.engine.DelegateOrder(context.Background(), req)
	assert.Equal(t, AuthorizationFailure, KindOf(err))

	req = delegateReq(alice, 1)
	req.ValidUntil = 0
	_, err = f.engine.DelegateOrder(context.Background(), req)
	assert.NoError(t, err)

	req = delegateReq(alice, 1)
	req.CommitFreqMs = 0
	_, err = f.engine.DelegateOrder(context.Background(), req)
	assert.Equal(t, StateConflict, KindOf(err))
}

func TestDelegateOrderCollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Sell, 10, 10)
	f.delegator.err = errors.New("executor unreachable")

	_, err := f.engine.DelegateOrder(context.Background(), delegateReq(alice, 1))
	require.Error(t, err)
	assert.Equal(t, CollaboratorFailure, KindOf(err))
	assert.ErrorIs(t, err, ErrDelegationFailed)

	order := f.order(t, alice, 1)
	assert.Equal(t, Open, order.Status)
	assert.Nil(t, order.Delegation)
	assert.Empty(t, f.events.EventsOfType(messaging.EventOrderDelegated))
}

func TestDelegateOrderRevokesOnCommitFailure(t *testing.T) {
	f := newFixture(t)
	f.place(t, alice, 1, Sell, 10, 10)
	f.store.commitErr = errors.New("disk full")

	_, err := f.engine.DelegateOrder(context.Background(), delegateReq(alice, 1))
	assert.Equal(t, CollaboratorFailure, KindOf(err))
	require.Len(t, f.delegator.revoked, 1)
	assert.Equal(t, OrderAddress(alice, 1), f.delegator.revoked[0].Order)
	require.Len(t, f.delegator.requests, 1)
	assert.NotEmpty(t, f.delegator.revoked[0].HandoffID)
	assert.Equal(t, f.delegator.requests[0].HandoffID, f.delegator.revoked[0].HandoffID)

	f.store.commitErr = nil
	assert.Equal(t, Open, f.order(t, alice, 1).Status)
}

func TestDelegateWithoutDelegator(t *testing.T) {
	store := newMockStore()
	engine := NewEngine(store, allowAll, nil, WithClock(fixedClock{testNow}))
	ctx := context.Background()
	_, err := engine.InitializeOrderbook(ctx, &InitializeOrderbookRequest{Credentials: Credentials{Caller: authority}, Market: market})
	require.NoError(t, err)
	_, err = engine.PlaceOrder(ctx, &PlaceOrderRequest{Credentials: Credentials{Caller: alice}, Market: market, OrderID: 1, Side: Buy, Amount: 1, Price: 1})
	require.NoError(t, err)

	_, err = engine.DelegateOrder(ctx, delegateReq(alice, 1))
	assert.Equal(t, CollaboratorFailure, KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, WithPartialFillMatching(true))
	ctx := context.Background()
	cancel := func(caller, owner Identity, id uint64) (*Order, error) {
		return f.engine.CancelOrder(ctx, &CancelOrderRequest{Credentials: Credentials{Caller: caller}, Order: key(owner, id)})
	}

	f.place(t, alice, 1, Buy, 10, 10)
	_, err := cancel(mallory, alice, 1)
	assert.Equal(t, AuthorizationFailure, KindOf(err))

	order, err := cancel(alice, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, order.Status)

	_, err = cancel(alice, alice, 1)
	assert.Equal(t, StateConflict, KindOf(err))

	// Delegated orders are held by the executor.
	f.placeDelegated(t, alice, 2, Buy, 100, 10)
	_, err = cancel(alice, alice, 2)
	assert.Equal(t, StateConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrOrderNotCancellable)

	// A partially filled order can be cancelled and keeps its fill.
	f.placeDelegated(t, bob, 1, Sell, 30, 9)
	_, err = f.match(1, key(alice, 2), key(bob, 1))
	require.NoError(t, err)
	order, err = cancel(alice, alice, 2)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, order.Status)
	assert.Equal(t, uint64(30), order.FilledAmount)

	// Filled is terminal.
	_, err = cancel(bob, bob, 1)
	assert.Equal(t, StateConflict, KindOf(err))

	// Cancelled orders never match again.
	f.placeDelegated(t, bob, 2, Sell, 30, 9)
	_, err = f.match(2, key(alice, 2), key(bob, 2))
	assert.Equal(t, StateConflict, KindOf(err))

	assert.Len(t, f.events.EventsOfType(messaging.EventOrderCancelled), 2)
}

func TestAuthorizationFailureComesFirst(t *testing.T) {
	denied := AuthorizerFunc(func(context.Context, Identity, [32]byte, []byte) error {
		return errors.New("bad signature")
	})
	store := newMockStore()
	engine := NewEngine(store, denied, &recordingDelegator{})

	_, err := engine.InitializeOrderbook(context.Background(), &InitializeOrderbookRequest{Credentials: Credentials{Caller: authority}, Market: market})
	assert.Equal(t, AuthorizationFailure, KindOf(err))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Invalid input is not reported before the signature check.
	_, err = engine.PlaceOrder(context.Background(), &PlaceOrderRequest{Credentials: Credentials{Caller: alice}, Market: market, Amount: 0, Price: 1})
	assert.Equal(t, AuthorizationFailure, KindOf(err))
	assert.Equal(t, 0, store.commits)
}

func TestAuthorizerSeesRequestDigest(t *testing.T) {
	var got [32]byte
	capture := AuthorizerFunc(func(_ context.Context, _ Identity, digest [32]byte, _ []byte) error {
		got = digest
		return nil
	})
	engine := NewEngine(newMockStore(), capture, nil)
	req := &InitializeOrderbookRequest{Credentials: Credentials{Caller: authority}, Market: market}

	_, err := engine.InitializeOrderbook(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Digest(), got)
}

func TestMissingCallerIsUnauthorized(t *testing.T) {
	engine := NewEngine(newMockStore(), allowAll, nil)
	_, err := engine.InitializeOrderbook(context.Background(), &InitializeOrderbookRequest{Market: market})
	assert.Equal(t, AuthorizationFailure, KindOf(err))
}

func TestEventFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.events.FailWith(errors.New("broker down"))
	f.place(t, alice, 1, Buy, 10, 10)
	assert.Equal(t, uint64(1), f.book(t).OrderCount)
}

func TestStoreFailureIsCollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	f.store.commitErr = errors.New("connection reset")
	_, err := f.engine.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Credentials: Credentials{Caller: alice}, Market: market, OrderID: 1, Side: Buy, Amount: 1, Price: 1,
	})
	assert.Equal(t, CollaboratorFailure, KindOf(err))
}

func TestConcurrentMatchesSettleOnce(t *testing.T) {
	f := newFixture(t)
	f.placeDelegated(t, alice, 1, Buy, 100, 10)
	f.placeDelegated(t, bob, 1, Sell, 100, 10)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		kinds     []Kind
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(tradeID uint64) {
			defer wg.Done()
			_, err := f.match(tradeID, key(alice, 1), key(bob, 1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			kinds = append(kinds, KindOf(err))
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, k := range kinds {
		assert.Equal(t, StateConflict, k)
	}
	assert.Equal(t, uint64(1), f.book(t).TradeCount)
	assert.Equal(t, uint64(100), f.order(t, alice, 1).FilledAmount)
	assert.Equal(t, uint64(100), f.order(t, bob, 1).FilledAmount)
}
