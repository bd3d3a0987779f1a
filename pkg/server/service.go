// Package server exposes the darkpool engine over gRPC.
package server

import (
	"context"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/logging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCDarkPoolService implements DarkPoolServer on top of a Manager.
type GRPCDarkPoolService struct {
	manager *Manager
}

// NewGRPCDarkPoolService creates a new GRPCDarkPoolService
func NewGRPCDarkPoolService(manager *Manager) *GRPCDarkPoolService {
	return &GRPCDarkPoolService{manager: manager}
}

func (s *GRPCDarkPoolService) engine() *core.Engine { return s.manager.Engine() }

func (s *GRPCDarkPoolService) InitializeOrderbook(ctx context.Context, req *core.InitializeOrderbookRequest) (*core.Orderbook, error) {
	logger := logging.FromContext(ctx)
	logger.Debug().Str("method", MethodInitializeOrderbook).Str("market", req.Market.Hex()).Msg("Request received")
	ob, err := s.manager.InitializeOrderbook(ctx, req)
	return ob, toStatus(err)
}

func (s *GRPCDarkPoolService) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("method", MethodPlaceOrder).
		Str("market", req.Market.Hex()).
		Uint64("order_id", req.OrderID).
		Str("side", req.Side.String()).
		Msg("Request received")
	order, err := s.engine().PlaceOrder(ctx, req)
	return order, toStatus(err)
}

// DelegateOrder fills in the configured commit frequency for unsigned
// requests that leave it unset; signed requests are passed through as
// signed.
func (s *GRPCDarkPoolService) DelegateOrder(ctx context.Context, req *core.DelegateOrderRequest) (*core.Order, error) {
	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("method", MethodDelegateOrder).
		Str("order", req.Order.String()).
		Msg("Request received")
	if req.CommitFreqMs == 0 && len(req.Signature) == 0 {
		req.CommitFreqMs = s.manager.DefaultCommitFreqMs()
	}
	order, err := s.engine().DelegateOrder(ctx, req)
	return order, toStatus(err)
}

func (s *GRPCDarkPoolService) MatchOrders(ctx context.Context, req *core.MatchOrdersRequest) (*core.MatchResult, error) {
	logger := logging.FromContext(ctx)
	logger.Debug().
		Str("method", MethodMatchOrders).
		Uint64("trade_id", req.TradeID).
		Str("buy", req.Buy.String()).
		Str("sell", req.Sell.String()).
		Msg("Request received")
	result, err := s.engine().MatchOrders(ctx, req)
	return result, toStatus(err)
}

func (s *GRPCDarkPoolService) CancelOrder(ctx context.Context, req *core.CancelOrderRequest) (*core.Order, error) {
	order, err := s.engine().CancelOrder(ctx, req)
	return order, toStatus(err)
}

func (s *GRPCDarkPoolService) PauseMarket(ctx context.Context, req *core.PauseMarketRequest) (*core.Orderbook, error) {
	ob, err := s.engine().PauseMarket(ctx, req)
	return ob, toStatus(err)
}

func (s *GRPCDarkPoolService) ResumeMarket(ctx context.Context, req *core.ResumeMarketRequest) (*core.Orderbook, error) {
	ob, err := s.engine().ResumeMarket(ctx, req)
	return ob, toStatus(err)
}

func (s *GRPCDarkPoolService) GetOrderbook(ctx context.Context, req *GetOrderbookRequest) (*core.Orderbook, error) {
	ob, err := s.engine().GetOrderbook(ctx, req.Market)
	return ob, toStatus(err)
}

func (s *GRPCDarkPoolService) GetOrder(ctx context.Context, req *GetOrderRequest) (*core.Order, error) {
	order, err := s.engine().GetOrder(ctx, req.Order)
	return order, toStatus(err)
}

func (s *GRPCDarkPoolService) GetTrade(ctx context.Context, req *GetTradeRequest) (*core.TradeResult, error) {
	trade, err := s.engine().GetTrade(ctx, req.TradeID)
	return trade, toStatus(err)
}

func (s *GRPCDarkPoolService) ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	lister, ok := s.manager.TradeLister()
	if !ok {
		return nil, status.Error(codes.Unimplemented, "store does not index trades")
	}
	trades, err := lister.ListTrades(ctx, req.Market, req.Limit)
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).Str("market", req.Market.Hex()).Msg("Failed to list trades")
		return nil, status.Errorf(codes.Internal, "failed to list trades: %v", err)
	}
	if trades == nil {
		trades = []*core.TradeResult{}
	}
	return &ListTradesResponse{Trades: trades}, nil
}

var _ DarkPoolServer = (*GRPCDarkPoolService)(nil)
