// Package storetest holds the behaviour every core.Store implementation
// must share.
package storetest

import (
	"context"
	"testing"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) core.Store

var (
	market = core.MustParseIdentity("0x1111111111111111111111111111111111111111111111111111111111111111")
	alice  = core.MustParseIdentity("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob    = core.MustParseIdentity("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newOrder(owner core.Identity, id uint64, side core.Side) *core.Order {
	return &core.Order{
		Owner:     owner,
		OrderID:   id,
		Market:    market,
		Side:      side,
		Amount:    100,
		Price:     50,
		Status:    core.Open,
		CreatedAt: 1700000000,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s core.Store)
	}{
		{"MissingRecords", testMissingRecords},
		{"CreateAndRead", testCreateAndRead},
		{"DuplicateCreate", testDuplicateCreate},
		{"VersionedUpdate", testVersionedUpdate},
		{"StaleUpdate", testStaleUpdate},
		{"AtomicCommit", testAtomicCommit},
		{"ReadsAreCopies", testReadsAreCopies},
		{"TradesAreImmutable", testTradesAreImmutable},
		{"DuplicateAddressInTx", testDuplicateAddressInTx},
		{"OrdersArePerOwner", testOrdersArePerOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testMissingRecords(t *testing.T, s core.Store) {
	ctx := context.Background()

	_, err := s.GetOrderbook(ctx, market)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetTrade(ctx, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, core.NotFound, core.KindOf(err))
}

func testCreateAndRead(t *testing.T, s core.Store) {
	ctx := context.Background()
	ob := core.NewOrderbook(market, alice)
	order := newOrder(alice, 7, core.Buy)
	trade := &core.TradeResult{TradeID: 3, Market: market, Buyer: alice, Seller: bob, Amount: 10, Price: 50, ExecutedAt: 1700000001}

	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrderbook(ob).PutOrder(order).PutTrade(trade)))
	assert.Equal(t, uint64(1), ob.Version)
	assert.Equal(t, uint64(1), order.Version)
	assert.Equal(t, uint64(1), trade.Version)

	gotOB, err := s.GetOrderbook(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, ob, gotOB)

	gotOrder, err := s.GetOrder(ctx, order.OrderKey())
	require.NoError(t, err)
	assert.Equal(t, order, gotOrder)

	gotTrade, err := s.GetTrade(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, trade, gotTrade)
}

func testDuplicateCreate(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(newOrder(alice, 1, core.Buy))))

	err := s.Commit(ctx, core.NewTx().PutOrder(newOrder(alice, 1, core.Sell)))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	got, err := s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, core.Buy, got.Side)
}

func testVersionedUpdate(t *testing.T, s core.Store) {
	ctx := context.Background()
	order := newOrder(alice, 1, core.Buy)
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(order)))

	read, err := s.GetOrder(ctx, order.OrderKey())
	require.NoError(t, err)
	read.Status = core.Delegated
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(read)))
	assert.Equal(t, uint64(2), read.Version)

	got, err := s.GetOrder(ctx, order.OrderKey())
	require.NoError(t, err)
	assert.Equal(t, core.Delegated, got.Status)
	assert.Equal(t, uint64(2), got.Version)
}

func testStaleUpdate(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(newOrder(alice, 1, core.Buy))))

	first, err := s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	require.NoError(t, err)
	second, err := s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	require.NoError(t, err)

	first.Status = core.Delegated
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(first)))

	second.Status = core.Cancelled
	err = s.Commit(ctx, core.NewTx().PutOrder(second))
	assert.ErrorIs(t, err, core.ErrStaleRecord)
	assert.Equal(t, core.StateConflict, core.KindOf(err))

	got, err := s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, core.Delegated, got.Status)

	// Updating a record that was never created is stale as well.
	ghost := newOrder(bob, 9, core.Sell)
	ghost.Version = 4
	assert.ErrorIs(t, s.Commit(ctx, core.NewTx().PutOrder(ghost)), core.ErrStaleRecord)
}

func testAtomicCommit(t *testing.T, s core.Store) {
	ctx := context.Background()
	ob := core.NewOrderbook(market, alice)
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrderbook(ob)))
	require.NoError(t, s.Commit(ctx, core.NewTx().PutTrade(&core.TradeResult{TradeID: 1, Market: market, Amount: 1, Price: 1})))

	order := newOrder(alice, 1, core.Buy)
	ob.OrderCount = 1
	dup := &core.TradeResult{TradeID: 1, Market: market, Amount: 2, Price: 2}
	err := s.Commit(ctx, core.NewTx().PutOrder(order).PutOrderbook(ob).PutTrade(dup))
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.Equal(t, uint64(0), order.Version)

	_, err = s.GetOrder(ctx, order.OrderKey())
	assert.ErrorIs(t, err, core.ErrNotFound)
	gotOB, err := s.GetOrderbook(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gotOB.OrderCount)
	assert.Equal(t, uint64(1), gotOB.Version)
}

func testReadsAreCopies(t *testing.T, s core.Store) {
	ctx := context.Background()
	order := newOrder(alice, 1, core.Buy)
	order.Delegation = &core.Delegation{Validator: bob, CommitFreqMs: 100}
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(order)))

	order.Delegation.CommitFreqMs = 1
	read, err := s.GetOrder(ctx, order.OrderKey())
	require.NoError(t, err)
	assert.Equal(t, uint32(100), read.Delegation.CommitFreqMs)

	read.Amount = 1
	again, err := s.GetOrder(ctx, order.OrderKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), again.Amount)
}

func testTradesAreImmutable(t *testing.T, s core.Store) {
	ctx := context.Background()
	trade := &core.TradeResult{TradeID: 5, Market: market, Amount: 10, Price: 10}
	require.NoError(t, s.Commit(ctx, core.NewTx().PutTrade(trade)))

	trade.Amount = 20
	err := s.Commit(ctx, core.NewTx().PutTrade(trade))
	assert.ErrorIs(t, err, core.ErrImmutableRecord)

	got, err := s.GetTrade(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Amount)
}

func testDuplicateAddressInTx(t *testing.T, s core.Store) {
	ctx := context.Background()
	err := s.Commit(ctx, core.NewTx().PutOrder(newOrder(alice, 1, core.Buy)).PutOrder(newOrder(alice, 1, core.Buy)))
	assert.ErrorIs(t, err, core.ErrDuplicateAddress)

	_, err = s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testOrdersArePerOwner(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(newOrder(alice, 1, core.Buy))))
	require.NoError(t, s.Commit(ctx, core.NewTx().PutOrder(newOrder(bob, 1, core.Sell))))

	a, err := s.GetOrder(ctx, core.OrderKey{Owner: alice, OrderID: 1})
	require.NoError(t, err)
	b, err := s.GetOrder(ctx, core.OrderKey{Owner: bob, OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, core.Buy, a.Side)
	assert.Equal(t, core.Sell, b.Side)
}
