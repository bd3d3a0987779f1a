package marketmaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/rs/zerolog"
)

// slot is one rung of the quote ladder.
type slot struct {
	level int
	side  core.Side
}

// MarketMaker keeps a ladder of delegated quotes resting in one market.
// A delegated quote cannot be withdrawn, so each refresh only refills the
// rungs whose quote has filled, expired or been partially filled; live
// quotes keep resting until their delegation deadline passes.
type MarketMaker struct {
	cfg          *Config
	logger       zerolog.Logger
	orderPlacer  OrderPlacer
	priceFetcher PriceFetcher
	strategy     MarketMakerStrategy
	signer       *auth.Signer
	clock        func() time.Time

	mu          sync.Mutex
	nextOrderID uint64
	ladder      map[slot]uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMarketMaker creates a new market maker service
func NewMarketMaker(cfg *Config, logger zerolog.Logger, orderPlacer OrderPlacer, priceFetcher PriceFetcher, strategy MarketMakerStrategy) (*MarketMaker, error) {
	signer, err := auth.FromPrivateKeyHex(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load market maker key: %w", err)
	}

	return &MarketMaker{
		cfg:          cfg,
		logger:       logger.With().Str("component", "market_maker").Str("account", signer.Identity().Hex()).Logger(),
		orderPlacer:  orderPlacer,
		priceFetcher: priceFetcher,
		strategy:     strategy,
		signer:       signer,
		clock:        time.Now,
		// Ids are unique per owner. Seeding from the clock keeps restarts
		// from reusing them.
		nextOrderID: uint64(time.Now().UnixNano()),
		ladder:      make(map[slot]uint64),
		stopCh:      make(chan struct{}),
	}, nil
}

// Identity returns the quoting account.
func (m *MarketMaker) Identity() core.Identity { return m.signer.Identity() }

// Start initializes the market if configured to, quotes once and then
// begins the refresh loop.
func (m *MarketMaker) Start(ctx context.Context) error {
	m.logger.Info().
		Str("market", m.cfg.Market.Hex()).
		Dur("update_interval", m.cfg.UpdateInterval).
		Dur("quote_ttl", m.cfg.QuoteTTL).
		Msg("Starting market maker service")

	if m.cfg.InitMarket {
		req := &core.InitializeOrderbookRequest{Market: m.cfg.Market}
		if err := auth.Sign(m.signer, req); err != nil {
			return err
		}
		if _, err := m.orderPlacer.InitializeOrderbook(ctx, req); err != nil && !core.IsKind(err, core.AlreadyExists) {
			return err
		}
	}

	if err := m.UpdateOrders(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Initial quote failed")
	}

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop ends the loop and withdraws whatever is still cancellable. Quotes
// that are still delegated rest until their deadline.
func (m *MarketMaker) Stop(ctx context.Context) error {
	m.logger.Info().Msg("Stopping market maker service")
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for market maker to stop: %w", ctx.Err())
	}

	var lastErr error
	var resting int
	for s, orderID := range m.snapshot() {
		o, err := m.orderPlacer.GetOrder(ctx, m.key(orderID))
		if err != nil {
			if !core.IsKind(err, core.NotFound) {
				lastErr = err
			}
		} else {
			switch o.Status {
			case core.Open, core.PartialFill:
				if err := m.cancel(ctx, orderID); err != nil {
					lastErr = err
				}
			case core.Delegated:
				resting++
			}
		}
		m.release(s, orderID)
	}
	if lastErr != nil {
		return fmt.Errorf("failed to withdraw quotes during shutdown: %w", lastErr)
	}
	m.logger.Info().Int("resting_until_expiry", resting).Msg("Market maker stopped")
	return nil
}

func (m *MarketMaker) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Context cancelled, stopping market maker loop")
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.UpdateOrders(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Failed to update orders")
			}
		}
	}
}

// UpdateOrders performs a single refresh: fetch the reference price,
// reconcile the ladder and quote every free rung.
func (m *MarketMaker) UpdateOrders(ctx context.Context) error {
	price, err := m.priceFetcher.FetchPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}

	quotes, err := m.strategy.CalculateQuotes(ctx, price)
	if err != nil {
		return fmt.Errorf("failed to calculate quotes: %w", err)
	}

	if err := m.reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile quotes: %w", err)
	}

	validUntil := m.clock().Add(m.cfg.QuoteTTL).Unix()
	var placed, free int
	for _, q := range quotes {
		s := slot{level: q.Level, side: q.Side}
		if m.occupied(s) {
			continue
		}
		free++
		orderID, err := m.placeQuote(ctx, q, validUntil)
		if err != nil {
			m.logger.Error().Err(err).
				Int("level", q.Level).
				Stringer("side", q.Side).
				Uint64("price", q.Price).
				Msg("Failed to place quote")
			if core.IsKind(err, core.MarketUnavailable) {
				return err
			}
			continue
		}
		m.mu.Lock()
		m.ladder[s] = orderID
		m.mu.Unlock()
		placed++
		m.logger.Debug().
			Uint64("order_id", orderID).
			Int("level", q.Level).
			Stringer("side", q.Side).
			Uint64("price", q.Price).
			Msg("Quote resting")
	}

	m.logger.Info().
		Float64("reference_price", price).
		Int("placed", placed).
		Int("resting", len(quotes)-free).
		Msg("Refreshed quotes")
	if free > 0 && placed == 0 {
		return errors.New("no quotes placed")
	}
	return nil
}

// reconcile frees every rung whose quote no longer rests: filled,
// cancelled, missing or past its deadline. A partially filled quote is
// no longer delegated, so its remainder is withdrawn.
func (m *MarketMaker) reconcile(ctx context.Context) error {
	now := m.clock()
	var lastErr error
	for s, orderID := range m.snapshot() {
		o, err := m.orderPlacer.GetOrder(ctx, m.key(orderID))
		if err != nil {
			if core.IsKind(err, core.NotFound) {
				m.release(s, orderID)
				continue
			}
			lastErr = err
			continue
		}

		switch o.Status {
		case core.Filled, core.Cancelled:
			m.logger.Debug().Uint64("order_id", orderID).Stringer("status", o.Status).Msg("Quote done")
			m.release(s, orderID)
		case core.PartialFill, core.Open:
			if err := m.cancel(ctx, orderID); err != nil {
				lastErr = err
				continue
			}
			m.logger.Info().
				Uint64("order_id", orderID).
				Uint64("filled", o.FilledAmount).
				Uint64("amount", o.Amount).
				Msg("Withdrew remainder of quote")
			m.release(s, orderID)
		case core.Delegated:
			if o.DelegationExpired(now) {
				m.logger.Debug().Uint64("order_id", orderID).Msg("Quote expired")
				m.release(s, orderID)
			}
		}
	}
	return lastErr
}

// placeQuote places one quote and hands it to the executor. A quote that
// places but fails to delegate is cancelled so nothing is left undelegated.
func (m *MarketMaker) placeQuote(ctx context.Context, q Quote, validUntil int64) (uint64, error) {
	m.mu.Lock()
	m.nextOrderID++
	orderID := m.nextOrderID
	m.mu.Unlock()

	place := &core.PlaceOrderRequest{
		Market:  m.cfg.Market,
		OrderID: orderID,
		Side:    q.Side,
		Amount:  q.Amount,
		Price:   q.Price,
	}
	if err := auth.Sign(m.signer, place); err != nil {
		return 0, err
	}
	if _, err := m.orderPlacer.PlaceOrder(ctx, place); err != nil {
		return 0, err
	}

	delegate := &core.DelegateOrderRequest{
		Order:        m.key(orderID),
		ValidUntil:   validUntil,
		CommitFreqMs: m.cfg.CommitFreqMs,
	}
	if err := auth.Sign(m.signer, delegate); err != nil {
		return 0, err
	}
	if _, err := m.orderPlacer.DelegateOrder(ctx, delegate); err != nil {
		if cerr := m.cancel(ctx, orderID); cerr != nil {
			m.logger.Error().Err(cerr).Uint64("order_id", orderID).Msg("Failed to cancel undelegated quote")
		}
		return 0, err
	}
	return orderID, nil
}

func (m *MarketMaker) key(orderID uint64) core.OrderKey {
	return core.OrderKey{Owner: m.signer.Identity(), OrderID: orderID}
}

func (m *MarketMaker) cancel(ctx context.Context, orderID uint64) error {
	req := &core.CancelOrderRequest{Order: m.key(orderID)}
	if err := auth.Sign(m.signer, req); err != nil {
		return err
	}
	_, err := m.orderPlacer.CancelOrder(ctx, req)
	return err
}

func (m *MarketMaker) occupied(s slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ladder[s]
	return ok
}

func (m *MarketMaker) release(s slot, orderID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ladder[s] == orderID {
		delete(m.ladder, s)
	}
}

func (m *MarketMaker) snapshot() map[slot]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[slot]uint64, len(m.ladder))
	for s, id := range m.ladder {
		out[s] = id
	}
	return out
}

// ActiveOrders returns the ids of the quotes on the ladder in ascending
// order.
func (m *MarketMaker) ActiveOrders() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.ladder))
	for _, id := range m.ladder {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
