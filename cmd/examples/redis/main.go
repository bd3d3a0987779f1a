package main

import (
	"context"
	"fmt"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	redisbackend "github.com/erain9/darkpool/pkg/backend/redis"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/delegation"
	"go.uber.org/zap"
)

const (
	redisAddr = "localhost:6379"
	redisDB   = 0
	prefix    = "darkpool-example"
)

func main() {
	ctx := context.Background()

	client := redisbackend.NewClient(redisbackend.RedisOptions{Addr: redisAddr, DB: redisDB})
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	fmt.Printf("Redis connection established: %s\n", pong)

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	backend := redisbackend.NewRedisBackend(client, prefix, logger)
	engine := core.NewEngine(backend, auth.TrustedCaller{}, delegation.NewCustodian())

	// Each run uses fresh identities so repeated runs never collide.
	authority, buyer, seller := newIdentity(), newIdentity(), newIdentity()
	market := authority

	if _, err := engine.InitializeOrderbook(ctx, &core.InitializeOrderbookRequest{
		Credentials: core.Credentials{Caller: authority},
		Market:      market,
	}); err != nil {
		panic(err)
	}

	place := func(owner core.Identity, side core.Side, amount, price uint64) {
		if _, err := engine.PlaceOrder(ctx, &core.PlaceOrderRequest{
			Credentials: core.Credentials{Caller: owner},
			Market:      market,
			OrderID:     1,
			Side:        side,
			Amount:      amount,
			Price:       price,
		}); err != nil {
			panic(err)
		}
		if _, err := engine.DelegateOrder(ctx, &core.DelegateOrderRequest{
			Credentials:  core.Credentials{Caller: owner},
			Order:        core.OrderKey{Owner: owner, OrderID: 1},
			ValidUntil:   time.Now().Add(time.Hour).Unix(),
			CommitFreqMs: 30000,
		}); err != nil {
			panic(err)
		}
	}
	place(seller, core.Sell, 10, 10)
	place(buyer, core.Buy, 5, 10)

	res, err := engine.MatchOrders(ctx, &core.MatchOrdersRequest{
		Credentials: core.Credentials{Caller: authority},
		Market:      market,
		TradeID:     uint64(time.Now().UnixNano()),
		Buy:         core.OrderKey{Owner: buyer, OrderID: 1},
		Sell:        core.OrderKey{Owner: seller, OrderID: 1},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Trade executed: %d @ %d\n", res.Trade.Amount, res.Trade.Price)

	// Read the partially filled sell order back from Redis
	sell, err := engine.GetOrder(ctx, res.Sell.OrderKey())
	if err != nil {
		panic(err)
	}
	fmt.Printf("Sell order remaining: %d, status %s\n", sell.Amount-sell.FilledAmount, sell.Status)

	addr := sell.Address()
	raw, err := client.Get(ctx, fmt.Sprintf("%s:rec:%x", prefix, addr[:])).Result()
	if err != nil {
		panic(err)
	}
	fmt.Println("\nSell order record in Redis:")
	fmt.Println(raw)
}

func newIdentity() core.Identity {
	s, err := auth.GenerateKey()
	if err != nil {
		panic(err)
	}
	return s.Identity()
}
