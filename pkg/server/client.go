package server

import (
	"context"

	"github.com/erain9/darkpool/pkg/core"
	"google.golang.org/grpc"
)

// Client calls DarkPoolService. Errors produced by the engine come back as
// *core.Error with their kind restored.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, FromStatus(method, err)
	}
	return out, nil
}

func (c *Client) InitializeOrderbook(ctx context.Context, req *core.InitializeOrderbookRequest, opts ...grpc.CallOption) (*core.Orderbook, error) {
	return invoke[core.Orderbook](ctx, c, MethodInitializeOrderbook, req, opts)
}

func (c *Client) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest, opts ...grpc.CallOption) (*core.Order, error) {
	return invoke[core.Order](ctx, c, MethodPlaceOrder, req, opts)
}

func (c *Client) DelegateOrder(ctx context.Context, req *core.DelegateOrderRequest, opts ...grpc.CallOption) (*core.Order, error) {
	return invoke[core.Order](ctx, c, MethodDelegateOrder, req, opts)
}

func (c *Client) MatchOrders(ctx context.Context, req *core.MatchOrdersRequest, opts ...grpc.CallOption) (*core.MatchResult, error) {
	return invoke[core.MatchResult](ctx, c, MethodMatchOrders, req, opts)
}

func (c *Client) CancelOrder(ctx context.Context, req *core.CancelOrderRequest, opts ...grpc.CallOption) (*core.Order, error) {
	return invoke[core.Order](ctx, c, MethodCancelOrder, req, opts)
}

func (c *Client) PauseMarket(ctx context.Context, req *core.PauseMarketRequest, opts ...grpc.CallOption) (*core.Orderbook, error) {
	return invoke[core.Orderbook](ctx, c, MethodPauseMarket, req, opts)
}

func (c *Client) ResumeMarket(ctx context.Context, req *core.ResumeMarketRequest, opts ...grpc.CallOption) (*core.Orderbook, error) {
	return invoke[core.Orderbook](ctx, c, MethodResumeMarket, req, opts)
}

func (c *Client) GetOrderbook(ctx context.Context, market core.Identity, opts ...grpc.CallOption) (*core.Orderbook, error) {
	return invoke[core.Orderbook](ctx, c, MethodGetOrderbook, &GetOrderbookRequest{Market: market}, opts)
}

func (c *Client) GetOrder(ctx context.Context, key core.OrderKey, opts ...grpc.CallOption) (*core.Order, error) {
	return invoke[core.Order](ctx, c, MethodGetOrder, &GetOrderRequest{Order: key}, opts)
}

func (c *Client) GetTrade(ctx context.Context, tradeID uint64, opts ...grpc.CallOption) (*core.TradeResult, error) {
	return invoke[core.TradeResult](ctx, c, MethodGetTrade, &GetTradeRequest{TradeID: tradeID}, opts)
}

func (c *Client) ListTrades(ctx context.Context, market core.Identity, limit int, opts ...grpc.CallOption) ([]*core.TradeResult, error) {
	resp, err := invoke[ListTradesResponse](ctx, c, MethodListTrades, &ListTradesRequest{Market: market, Limit: limit}, opts)
	if err != nil {
		return nil, err
	}
	return resp.Trades, nil
}
