package server

import (
	"context"

	"github.com/erain9/darkpool/pkg/core"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "darkpool.v1.DarkPoolService"

// Read requests.
type GetOrderbookRequest struct {
	Market core.Identity `json:"market"`
}

type GetOrderRequest struct {
	Order core.OrderKey `json:"order"`
}

type GetTradeRequest struct {
	TradeID uint64 `json:"trade_id"`
}

type ListTradesRequest struct {
	Market core.Identity `json:"market"`
	Limit  int           `json:"limit"`
}

type ListTradesResponse struct {
	Trades []*core.TradeResult `json:"trades"`
}

// DarkPoolServer is the server API for DarkPoolService.
type DarkPoolServer interface {
	InitializeOrderbook(context.Context, *core.InitializeOrderbookRequest) (*core.Orderbook, error)
	PlaceOrder(context.Context, *core.PlaceOrderRequest) (*core.Order, error)
	DelegateOrder(context.Context, *core.DelegateOrderRequest) (*core.Order, error)
	MatchOrders(context.Context, *core.MatchOrdersRequest) (*core.MatchResult, error)
	CancelOrder(context.Context, *core.CancelOrderRequest) (*core.Order, error)
	PauseMarket(context.Context, *core.PauseMarketRequest) (*core.Orderbook, error)
	ResumeMarket(context.Context, *core.ResumeMarketRequest) (*core.Orderbook, error)
	GetOrderbook(context.Context, *GetOrderbookRequest) (*core.Orderbook, error)
	GetOrder(context.Context, *GetOrderRequest) (*core.Order, error)
	GetTrade(context.Context, *GetTradeRequest) (*core.TradeResult, error)
	ListTrades(context.Context, *ListTradesRequest) (*ListTradesResponse, error)
}

// Method names.
const (
	MethodInitializeOrderbook = "InitializeOrderbook"
	MethodPlaceOrder          = "PlaceOrder"
	MethodDelegateOrder       = "DelegateOrder"
	MethodMatchOrders         = "MatchOrders"
	MethodCancelOrder         = "CancelOrder"
	MethodPauseMarket         = "PauseMarket"
	MethodResumeMarket        = "ResumeMarket"
	MethodGetOrderbook        = "GetOrderbook"
	MethodGetOrder            = "GetOrder"
	MethodGetTrade            = "GetTrade"
	MethodListTrades          = "ListTrades"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unaryMethod[Req, Resp any](name string, call func(DarkPoolServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DarkPoolServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DarkPoolServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DarkPoolServiceDesc describes DarkPoolService. Messages use the JSON codec.
var DarkPoolServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DarkPoolServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodInitializeOrderbook, DarkPoolServer.InitializeOrderbook),
		unaryMethod(MethodPlaceOrder, DarkPoolServer.PlaceOrder),
		unaryMethod(MethodDelegateOrder, DarkPoolServer.DelegateOrder),
		unaryMethod(MethodMatchOrders, DarkPoolServer.MatchOrders),
		unaryMethod(MethodCancelOrder, DarkPoolServer.CancelOrder),
		unaryMethod(MethodPauseMarket, DarkPoolServer.PauseMarket),
		unaryMethod(MethodResumeMarket, DarkPoolServer.ResumeMarket),
		unaryMethod(MethodGetOrderbook, DarkPoolServer.GetOrderbook),
		unaryMethod(MethodGetOrder, DarkPoolServer.GetOrder),
		unaryMethod(MethodGetTrade, DarkPoolServer.GetTrade),
		unaryMethod(MethodListTrades, DarkPoolServer.ListTrades),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "darkpool/v1/darkpool.json",
}

// RegisterDarkPoolService registers srv with the provided gRPC server.
func RegisterDarkPoolService(s grpc.ServiceRegistrar, srv DarkPoolServer) {
	s.RegisterService(&DarkPoolServiceDesc, srv)
}
