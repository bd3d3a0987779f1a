package marketmaker

import (
	"context"

	"github.com/erain9/darkpool/pkg/core"
)

// PriceFetcher defines the interface for fetching a reference price
type PriceFetcher interface {
	// FetchPrice returns the current reference price for the configured symbol
	FetchPrice(ctx context.Context) (float64, error)
	// Close releases any resources held by the price fetcher
	Close() error
}

// OrderPlacer is the subset of the dark pool API the market maker drives.
type OrderPlacer interface {
	InitializeOrderbook(ctx context.Context, req *core.InitializeOrderbookRequest) (*core.Orderbook, error)
	PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error)
	DelegateOrder(ctx context.Context, req *core.DelegateOrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, req *core.CancelOrderRequest) (*core.Order, error)
	GetOrder(ctx context.Context, key core.OrderKey) (*core.Order, error)
	Close() error
}

// Quote is one resting order the strategy wants on the book.
type Quote struct {
	Level  int
	Side   core.Side
	Amount uint64
	Price  uint64
}

// MarketMakerStrategy defines the interface for market making strategies
type MarketMakerStrategy interface {
	// CalculateQuotes returns the quotes to rest around the reference price
	CalculateQuotes(ctx context.Context, referencePrice float64) ([]Quote, error)
}
