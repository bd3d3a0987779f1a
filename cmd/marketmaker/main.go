package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/marketmaker"
	"github.com/rs/zerolog/log"
)

func main() {
	logCfg := logging.DefaultConfig()
	if level := os.Getenv("DARKPOOL_MM_LOG_LEVEL"); level != "" {
		logCfg.Level = level
	}
	logging.Setup(logCfg)
	logger := log.Logger

	cfg, err := marketmaker.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orderPlacer, err := marketmaker.NewGRPCOrderPlacer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create order placer")
	}
	defer orderPlacer.Close()

	priceFetcher := marketmaker.NewPriceFetcher(cfg, logger)
	defer priceFetcher.Close()

	strategy := marketmaker.NewLayeredSymmetricQuoting(cfg, logger)

	mm, err := marketmaker.NewMarketMaker(cfg, logger, orderPlacer, priceFetcher, strategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create market maker")
	}

	if err := mm.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start market maker")
	}

	<-ctx.Done()
	logger.Info().Msg("Received shutdown signal")

	// ctx is already cancelled; quotes are withdrawn on a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mm.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("Market maker service stopped successfully")
}
