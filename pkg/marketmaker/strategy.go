package marketmaker

import (
	"context"
	"fmt"
	"math"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/rs/zerolog"
)

// LayeredSymmetricQuoting rests NumLevels bids and asks around the
// reference price, each level one PriceStepPercent further out.
type LayeredSymmetricQuoting struct {
	cfg    *Config
	logger zerolog.Logger
}

// NewLayeredSymmetricQuoting creates a new LayeredSymmetricQuoting strategy
func NewLayeredSymmetricQuoting(cfg *Config, logger zerolog.Logger) *LayeredSymmetricQuoting {
	return &LayeredSymmetricQuoting{
		cfg:    cfg,
		logger: logger.With().Str("component", "layered_symmetric_quoting").Logger(),
	}
}

// CalculateQuotes implements MarketMakerStrategy. Quotes alternate bid, ask
// per level. Prices are integer ticks, PriceScale ticks per reference unit.
func (s *LayeredSymmetricQuoting) CalculateQuotes(_ context.Context, referencePrice float64) ([]Quote, error) {
	if referencePrice <= 0 || math.IsNaN(referencePrice) || math.IsInf(referencePrice, 0) {
		return nil, fmt.Errorf("invalid reference price %v", referencePrice)
	}

	mid := referencePrice * float64(s.cfg.PriceScale)
	halfSpread := math.Max(1, math.Round(mid*s.cfg.BaseSpreadPercent/2/100))
	step := math.Max(1, math.Round(mid*s.cfg.PriceStepPercent/100))

	quotes := make([]Quote, 0, s.cfg.NumLevels*2)
	for i := 1; i <= s.cfg.NumLevels; i++ {
		offset := halfSpread + float64(i-1)*step
		bid := math.Round(mid - offset)
		ask := math.Round(mid + offset)
		if bid < 1 {
			return nil, fmt.Errorf("level %d bid falls below one tick at reference price %v", i, referencePrice)
		}
		if ask >= math.MaxUint64 {
			return nil, fmt.Errorf("level %d ask overflows at reference price %v", i, referencePrice)
		}

		quotes = append(quotes,
			Quote{Level: i, Side: core.Buy, Amount: s.cfg.OrderSize, Price: uint64(bid)},
			Quote{Level: i, Side: core.Sell, Amount: s.cfg.OrderSize, Price: uint64(ask)},
		)

		s.logger.Debug().
			Int("level", i).
			Uint64("bid", uint64(bid)).
			Uint64("ask", uint64(ask)).
			Uint64("amount", s.cfg.OrderSize).
			Msg("Calculated quote pair")
	}
	return quotes, nil
}
