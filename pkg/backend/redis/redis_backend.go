package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a client for opts.
func NewClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// RedisBackend is a core.Store on Redis. Each record is a JSON envelope
// under "<prefix>:rec:<address>". Commits run in WATCH/MULTI so a record
// changed by another writer between check and write aborts the commit.
type RedisBackend struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (b *RedisBackend) key(addr core.Address) string {
	return fmt.Sprintf("%s:rec:%x", b.prefix, addr[:])
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (b *RedisBackend) load(ctx context.Context, c getter, addr core.Address) (*core.Envelope, error) {
	data, err := c.Get(ctx, b.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		b.logger.Error("failed to read record",
			zap.String("address", addr.Hex()),
			zap.Error(err))
		return nil, err
	}
	return core.DecodeEnvelope(data)
}

func (b *RedisBackend) mustLoad(ctx context.Context, addr core.Address, what string) (*core.Envelope, error) {
	env, err := b.load(ctx, b.client, addr)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return env, nil
}

// GetOrderbook implements core.Store.
func (b *RedisBackend) GetOrderbook(ctx context.Context, market core.Identity) (*core.Orderbook, error) {
	env, err := b.mustLoad(ctx, core.OrderbookAddress(market), "orderbook "+market.Hex())
	if err != nil {
		return nil, err
	}
	return env.Orderbook(market)
}

// GetOrder implements core.Store.
func (b *RedisBackend) GetOrder(ctx context.Context, key core.OrderKey) (*core.Order, error) {
	env, err := b.mustLoad(ctx, key.Address(), key.String())
	if err != nil {
		return nil, err
	}
	return env.Order(key)
}

// GetTrade implements core.Store.
func (b *RedisBackend) GetTrade(ctx context.Context, tradeID uint64) (*core.TradeResult, error) {
	env, err := b.mustLoad(ctx, core.TradeAddress(tradeID), fmt.Sprintf("trade %d", tradeID))
	if err != nil {
		return nil, err
	}
	return env.Trade(tradeID)
}

// Commit implements core.Store.
func (b *RedisBackend) Commit(ctx context.Context, tx *core.Tx) error {
	muts, err := tx.Mutations()
	if err != nil {
		return err
	}
	keys := make([]string, len(muts))
	for i, m := range muts {
		keys[i] = b.key(m.Address)
	}

	err = b.client.Watch(ctx, func(rtx *redis.Tx) error {
		values := make([][]byte, len(muts))
		for i, m := range muts {
			current, err := b.load(ctx, rtx, m.Address)
			if err != nil {
				return err
			}
			if err := m.Check(current); err != nil {
				return err
			}
			env, err := m.Envelope()
			if err != nil {
				return err
			}
			if values[i], err = env.Encode(); err != nil {
				return err
			}
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i := range muts {
				pipe.Set(ctx, keys[i], values[i], 0)
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent write", core.ErrStaleRecord)
	}
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			b.logger.Error("failed to commit transaction",
				zap.Int("records", len(muts)),
				zap.Error(err))
		}
		return err
	}
	tx.Committed()
	return nil
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

var _ core.Store = (*RedisBackend)(nil)
