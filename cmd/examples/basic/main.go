package main

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/backend/memory"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/delegation"
)

var (
	authority = core.MustParseIdentity("0x00000000000000000000000000000000000000a1")
	buyer     = core.MustParseIdentity("0x00000000000000000000000000000000000000b1")
	seller    = core.MustParseIdentity("0x00000000000000000000000000000000000000c1")
	market    = core.MustParseIdentity("0x00000000000000000000000000000000000000f1")
)

func main() {
	ctx := context.Background()

	// In-memory store, callers trusted as claimed, delegation recorded in process
	engine := core.NewEngine(memory.NewMemoryBackend(), auth.TrustedCaller{}, delegation.NewCustodian())

	ob, err := engine.InitializeOrderbook(ctx, &core.InitializeOrderbookRequest{
		Credentials: core.Credentials{Caller: authority},
		Market:      market,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Created orderbook %s, authority %s\n", ob.Market.Hex(), ob.Authority.Hex())

	// Buy 10 at 12, sell 4 at 10
	for _, o := range []struct {
		owner  core.Identity
		side   core.Side
		amount uint64
		price  uint64
	}{
		{buyer, core.Buy, 10, 12},
		{seller, core.Sell, 4, 10},
	} {
		if _, err := engine.PlaceOrder(ctx, &core.PlaceOrderRequest{
			Credentials: core.Credentials{Caller: o.owner},
			Market:      market,
			OrderID:     1,
			Side:        o.side,
			Amount:      o.amount,
			Price:       o.price,
		}); err != nil {
			panic(err)
		}
		order, err := engine.DelegateOrder(ctx, &core.DelegateOrderRequest{
			Credentials:  core.Credentials{Caller: o.owner},
			Order:        core.OrderKey{Owner: o.owner, OrderID: 1},
			ValidUntil:   time.Now().Add(time.Hour).Unix(),
			CommitFreqMs: 30000,
		})
		if err != nil {
			panic(err)
		}
		fmt.Printf("Delegated %s order %s: %d @ %d\n", order.Side, order.Key(), order.Amount, order.Price)
	}

	res, err := engine.MatchOrders(ctx, &core.MatchOrdersRequest{
		Credentials: core.Credentials{Caller: authority},
		Market:      market,
		TradeID:     1,
		Buy:         core.OrderKey{Owner: buyer, OrderID: 1},
		Sell:        core.OrderKey{Owner: seller, OrderID: 1},
	})
	if err != nil {
		panic(err)
	}

	fmt.Printf("Trade %d executed: %d @ %d (midpoint)\n", res.Trade.TradeID, res.Trade.Amount, res.Trade.Price)

	fmt.Println("\nSummary of orders:")
	for _, o := range []*core.Order{res.Buy, res.Sell} {
		fmt.Printf("- %s Order: Owner=%s, Price=%d, Filled=%d/%d, Status=%s\n",
			o.Side, o.Owner.Hex(), o.Price, o.FilledAmount, o.Amount, o.Status)
	}
}
