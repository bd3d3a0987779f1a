package marketmaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/spf13/viper"
)

// Config holds all configuration for the market maker service
type Config struct {
	// gRPC connection settings
	GRPCAddr       string
	RequestTimeout time.Duration

	// Market settings
	Market         core.Identity
	InitMarket     bool
	ExternalSymbol string // e.g., "BTCUSDT"
	PriceSourceURL string // e.g., "https://api.binance.com"
	PriceScale     uint64 // ticks per unit of the reference price

	// Market making parameters
	NumLevels         int
	BaseSpreadPercent float64
	PriceStepPercent  float64
	OrderSize         uint64
	UpdateInterval    time.Duration
	QuoteTTL          time.Duration
	CommitFreqMs      uint32

	// Signing key of the quoting account, hex encoded
	PrivateKey string

	// HTTP client settings
	HTTPTimeout time.Duration
	MaxRetries  int
}

// LoadConfig loads configuration from DARKPOOL_MM_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DARKPOOL_MM")

	v.SetDefault("GRPC_ADDR", "localhost:50051")
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 5)
	v.SetDefault("MARKET", "")
	v.SetDefault("INIT_MARKET", false)
	v.SetDefault("EXTERNAL_SYMBOL", "BTCUSDT")
	v.SetDefault("PRICE_SOURCE_URL", "https://api.binance.com")
	v.SetDefault("PRICE_SCALE", 100)
	v.SetDefault("NUM_LEVELS", 3)
	v.SetDefault("BASE_SPREAD_PERCENT", 0.1)
	v.SetDefault("PRICE_STEP_PERCENT", 0.05)
	v.SetDefault("ORDER_SIZE", 10)
	v.SetDefault("UPDATE_INTERVAL_SECONDS", 10)
	v.SetDefault("QUOTE_TTL_SECONDS", 60)
	v.SetDefault("COMMIT_FREQ_MS", 30000)
	v.SetDefault("PRIVATE_KEY", "")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 5)
	v.SetDefault("MAX_RETRIES", 3)

	v.AutomaticEnv()

	cfg := &Config{
		GRPCAddr:          v.GetString("GRPC_ADDR"),
		RequestTimeout:    time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
		InitMarket:        v.GetBool("INIT_MARKET"),
		ExternalSymbol:    v.GetString("EXTERNAL_SYMBOL"),
		PriceSourceURL:    v.GetString("PRICE_SOURCE_URL"),
		PriceScale:        v.GetUint64("PRICE_SCALE"),
		NumLevels:         v.GetInt("NUM_LEVELS"),
		BaseSpreadPercent: v.GetFloat64("BASE_SPREAD_PERCENT"),
		PriceStepPercent:  v.GetFloat64("PRICE_STEP_PERCENT"),
		OrderSize:         v.GetUint64("ORDER_SIZE"),
		UpdateInterval:    time.Duration(v.GetInt("UPDATE_INTERVAL_SECONDS")) * time.Second,
		QuoteTTL:          time.Duration(v.GetInt("QUOTE_TTL_SECONDS")) * time.Second,
		CommitFreqMs:      v.GetUint32("COMMIT_FREQ_MS"),
		PrivateKey:        v.GetString("PRIVATE_KEY"),
		HTTPTimeout:       time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		MaxRetries:        v.GetInt("MAX_RETRIES"),
	}

	market := v.GetString("MARKET")
	if market == "" {
		return nil, errors.New("invalid configuration: DARKPOOL_MM_MARKET must not be empty")
	}
	id, err := core.ParseIdentity(market)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: DARKPOOL_MM_MARKET: %w", err)
	}
	cfg.Market = id

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the quoting parameters.
func (cfg *Config) Validate() error {
	if cfg.GRPCAddr == "" {
		return errors.New("GRPC_ADDR must not be empty")
	}
	if cfg.Market.IsZero() {
		return errors.New("MARKET must not be zero")
	}
	if cfg.ExternalSymbol == "" {
		return errors.New("EXTERNAL_SYMBOL must not be empty")
	}
	if cfg.PriceSourceURL == "" {
		return errors.New("PRICE_SOURCE_URL must not be empty")
	}
	if cfg.PriceScale == 0 {
		return errors.New("PRICE_SCALE must be positive")
	}
	if cfg.NumLevels <= 0 {
		return errors.New("NUM_LEVELS must be positive")
	}
	if cfg.BaseSpreadPercent <= 0 {
		return errors.New("BASE_SPREAD_PERCENT must be positive")
	}
	if cfg.PriceStepPercent <= 0 {
		return errors.New("PRICE_STEP_PERCENT must be positive")
	}
	if cfg.OrderSize == 0 {
		return errors.New("ORDER_SIZE must be positive")
	}
	if cfg.UpdateInterval <= 0 {
		return errors.New("UPDATE_INTERVAL_SECONDS must be positive")
	}
	if cfg.QuoteTTL < cfg.UpdateInterval {
		return errors.New("QUOTE_TTL_SECONDS must cover UPDATE_INTERVAL_SECONDS")
	}
	if cfg.CommitFreqMs == 0 {
		return errors.New("COMMIT_FREQ_MS must be positive")
	}
	if cfg.PrivateKey == "" {
		return errors.New("PRIVATE_KEY must not be empty")
	}
	if _, err := auth.FromPrivateKeyHex(cfg.PrivateKey); err != nil {
		return fmt.Errorf("PRIVATE_KEY: %w", err)
	}
	return nil
}
