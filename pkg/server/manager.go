package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/erain9/darkpool/config"
	"github.com/erain9/darkpool/pkg/auth"
	"github.com/erain9/darkpool/pkg/backend/memory"
	"github.com/erain9/darkpool/pkg/backend/pebble"
	redisbackend "github.com/erain9/darkpool/pkg/backend/redis"
	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/db/queue"
	"github.com/erain9/darkpool/pkg/delegation"
	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/erain9/darkpool/pkg/messaging/kafka"
	"go.uber.org/zap"
)

// ErrMarketNotFound is returned for markets this manager has not seen.
var ErrMarketNotFound = errors.New("market not found")

// MarketInfo contains metadata about a market initialized through the
// manager.
type MarketInfo struct {
	Market    core.Identity `json:"market"`
	Authority core.Identity `json:"authority"`
	CreatedAt time.Time     `json:"created_at"`
}

// Components are the collaborators a Manager runs the engine with.
type Components struct {
	Store      core.Store
	Authorizer core.Authorizer
	Delegator  core.Delegator
	Events     []messaging.MessageSender
	Options    []core.Option
}

// Manager owns the engine and the resources behind it.
type Manager struct {
	engine *core.Engine
	store  core.Store
	events *messaging.Fanout
	closer []io.Closer

	defaultCommitFreqMs uint32

	mu      sync.RWMutex
	markets map[core.Identity]*MarketInfo
}

// NewManager builds a manager from explicit components.
func NewManager(c Components) *Manager {
	events := messaging.NewFanout(c.Events...)
	opts := append([]core.Option{core.WithEventSender(events)}, c.Options...)
	m := &Manager{
		engine:              core.NewEngine(c.Store, c.Authorizer, c.Delegator, opts...),
		store:               c.Store,
		events:              events,
		defaultCommitFreqMs: 30000,
		markets:             make(map[core.Identity]*MarketInfo),
	}
	if closer, ok := c.Delegator.(io.Closer); ok {
		m.closer = append(m.closer, closer)
	}
	return m
}

// NewManagerFromConfig opens the configured store, delegator and event
// sinks.
func NewManagerFromConfig(ctx context.Context, cfg *config.Config) (*Manager, error) {
	logger := logging.FromContext(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	authorizer, err := auth.New(auth.Mode(cfg.Auth.Mode))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var delegator core.Delegator
	switch cfg.Delegation.Mode {
	case "kafka":
		delegator = delegation.NewKafkaDelegator(cfg.Kafka.Brokers, cfg.Kafka.DelegationTopic)
	default:
		delegator = delegation.NewCustodian()
	}

	var events []messaging.MessageSender
	if cfg.Kafka.Enabled {
		events = append(events, kafka.NewKafkaMessageSender(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic))
	}
	if cfg.Queue.Enabled {
		pool, err := queue.NewSenderPool(cfg.Queue.PoolSize, func() (messaging.MessageSender, error) {
			return queue.NewQueueMessageSender(cfg.Queue.Brokers, cfg.Queue.Topic)
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create queue senders - continuing without queue events")
		} else {
			events = append(events, pool)
		}
	}

	opts := []core.Option{
		core.WithPartialFillMatching(cfg.Matching.AllowPartialFill),
		core.WithCustodianMatching(cfg.Matching.RequireCustodian),
	}
	if cfg.Delegation.Validator != "" {
		validator, err := core.ParseIdentity(cfg.Delegation.Validator)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("delegation.validator: %w", err)
		}
		opts = append(opts, core.WithValidator(validator))
	}

	m := NewManager(Components{
		Store:      store,
		Authorizer: authorizer,
		Delegator:  delegator,
		Events:     events,
		Options:    opts,
	})
	m.defaultCommitFreqMs = cfg.Delegation.CommitFreqMs

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Str("delegation", cfg.Delegation.Mode).
		Str("auth", cfg.Auth.Mode).
		Int("event_sinks", m.events.Len()).
		Str("validator", m.engine.Validator().Hex()).
		Msg("Manager ready")
	return m, nil
}

func openStore(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		client := redisbackend.NewClient(redisbackend.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Storage.Redis.Addr, err)
		}
		zl, err := zap.NewProduction()
		if err != nil {
			zl = zap.NewNop()
		}
		return redisbackend.NewRedisBackend(client, cfg.Storage.Redis.Prefix, zl), nil
	case "pebble":
		store, err := pebble.Open(cfg.Storage.Pebble.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.NewMemoryBackend(), nil
	}
}

func (m *Manager) Engine() *core.Engine { return m.engine }

// Events is the fan-out every engine event goes through. Sinks added
// before serving receive all events.
func (m *Manager) Events() *messaging.Fanout { return m.events }

// TradeLister returns the store's trade index, if it keeps one.
func (m *Manager) TradeLister() (core.TradeLister, bool) {
	lister, ok := m.store.(core.TradeLister)
	return lister, ok
}

// DefaultCommitFreqMs is applied to unsigned delegation requests that leave
// the commit frequency unset.
func (m *Manager) DefaultCommitFreqMs() uint32 { return m.defaultCommitFreqMs }

// InitializeOrderbook initializes a market and records it.
func (m *Manager) InitializeOrderbook(ctx context.Context, req *core.InitializeOrderbookRequest) (*core.Orderbook, error) {
	ob, err := m.engine.InitializeOrderbook(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.markets[ob.Market] = &MarketInfo{Market: ob.Market, Authority: ob.Authority, CreatedAt: time.Now()}
	m.mu.Unlock()
	return ob, nil
}

// Market returns what the manager recorded about market.
func (m *Manager) Market(market core.Identity) (*MarketInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.markets[market]
	if !ok {
		return nil, ErrMarketNotFound
	}
	c := *info
	return &c, nil
}

// Markets lists the markets initialized through this manager, oldest first.
func (m *Manager) Markets() []MarketInfo {
	m.mu.RLock()
	out := make([]MarketInfo, 0, len(m.markets))
	for _, info := range m.markets {
		out = append(out, *info)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Market.Hex() < out[j].Market.Hex()
	})
	return out
}

// Close releases event sinks, the delegator and the store.
func (m *Manager) Close() error {
	errs := []error{m.events.Close()}
	for _, c := range m.closer {
		errs = append(errs, c.Close())
	}
	errs = append(errs, m.store.Close())
	return errors.Join(errs...)
}
