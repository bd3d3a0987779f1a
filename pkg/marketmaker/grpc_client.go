package marketmaker

import (
	"context"
	"fmt"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/otel"
	"github.com/erain9/darkpool/pkg/server"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Ensure grpcOrderPlacer implements OrderPlacer interface
var _ OrderPlacer = (*grpcOrderPlacer)(nil)

// grpcOrderPlacer implements OrderPlacer over the dark pool gRPC client,
// bounding every call by RequestTimeout.
type grpcOrderPlacer struct {
	client *server.Client
	conn   *grpc.ClientConn
	cfg    *Config
	logger zerolog.Logger
}

// NewGRPCOrderPlacer connects to the dark pool gRPC server.
func NewGRPCOrderPlacer(cfg *Config, logger zerolog.Logger) (OrderPlacer, error) {
	logger.Info().Str("address", cfg.GRPCAddr).Msg("Connecting to dark pool gRPC server")

	conn, err := grpc.NewClient(cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent("DarkPoolMarketMaker/0.1"),
		grpc.WithStatsHandler(otel.NewGRPCClientStatsHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", cfg.GRPCAddr, err)
	}
	return newGRPCOrderPlacer(conn, cfg, logger), nil
}

func newGRPCOrderPlacer(conn *grpc.ClientConn, cfg *Config, logger zerolog.Logger) *grpcOrderPlacer {
	return &grpcOrderPlacer{
		client: server.NewClient(conn),
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "grpc_order_placer").Logger(),
	}
}

func (p *grpcOrderPlacer) InitializeOrderbook(ctx context.Context, req *core.InitializeOrderbookRequest) (*core.Orderbook, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	ob, err := p.client.InitializeOrderbook(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("InitializeOrderbook failed: %w", err)
	}
	p.logger.Info().Str("market", ob.Market.Hex()).Msg("Initialized orderbook")
	return ob, nil
}

func (p *grpcOrderPlacer) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	p.logger.Debug().
		Uint64("order_id", req.OrderID).
		Stringer("side", req.Side).
		Uint64("amount", req.Amount).
		Uint64("price", req.Price).
		Msg("Sending PlaceOrder request")

	order, err := p.client.PlaceOrder(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("PlaceOrder failed: %w", err)
	}
	return order, nil
}

func (p *grpcOrderPlacer) DelegateOrder(ctx context.Context, req *core.DelegateOrderRequest) (*core.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	order, err := p.client.DelegateOrder(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("DelegateOrder failed: %w", err)
	}
	return order, nil
}

// CancelOrder returns a nil order and no error when the order is already
// gone, either missing or in a terminal state.
func (p *grpcOrderPlacer) CancelOrder(ctx context.Context, req *core.CancelOrderRequest) (*core.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	order, err := p.client.CancelOrder(callCtx, req)
	if err != nil {
		if core.IsKind(err, core.NotFound) || core.IsKind(err, core.StateConflict) {
			p.logger.Info().
				Uint64("order_id", req.Order.OrderID).
				Str("reason", core.KindOf(err).String()).
				Msg("Cancel skipped, order no longer open")
			return nil, nil
		}
		return nil, fmt.Errorf("CancelOrder failed: %w", err)
	}
	return order, nil
}

func (p *grpcOrderPlacer) GetOrder(ctx context.Context, key core.OrderKey) (*core.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return p.client.GetOrder(callCtx, key)
}

// Close closes the underlying gRPC connection.
func (p *grpcOrderPlacer) Close() error {
	if p.conn != nil {
		p.logger.Info().Msg("Closing gRPC connection")
		return p.conn.Close()
	}
	return nil
}
