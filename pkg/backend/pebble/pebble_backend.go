package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/erain9/darkpool/pkg/core"
)

// PebbleBackend is a core.Store on an embedded Pebble database. Commits
// are serialized by a mutex and written as one synced batch.
type PebbleBackend struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*PebbleBackend, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) load(addr core.Address) (*core.Envelope, error) {
	data, closer, err := b.db.Get(recordKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", addr.Hex(), err)
	}
	defer closer.Close()
	// data is only valid until closer is closed.
	return core.DecodeEnvelope(data)
}

func (b *PebbleBackend) mustLoad(addr core.Address, what string) (*core.Envelope, error) {
	env, err := b.load(addr)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return env, nil
}

// GetOrderbook implements core.Store.
func (b *PebbleBackend) GetOrderbook(_ context.Context, market core.Identity) (*core.Orderbook, error) {
	env, err := b.mustLoad(core.OrderbookAddress(market), "orderbook "+market.Hex())
	if err != nil {
		return nil, err
	}
	return env.Orderbook(market)
}

// GetOrder implements core.Store.
func (b *PebbleBackend) GetOrder(_ context.Context, key core.OrderKey) (*core.Order, error) {
	env, err := b.mustLoad(key.Address(), key.String())
	if err != nil {
		return nil, err
	}
	return env.Order(key)
}

// GetTrade implements core.Store.
func (b *PebbleBackend) GetTrade(_ context.Context, tradeID uint64) (*core.TradeResult, error) {
	env, err := b.mustLoad(core.TradeAddress(tradeID), fmt.Sprintf("trade %d", tradeID))
	if err != nil {
		return nil, err
	}
	return env.Trade(tradeID)
}

// Commit implements core.Store.
func (b *PebbleBackend) Commit(_ context.Context, tx *core.Tx) error {
	muts, err := tx.Mutations()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.db.NewBatch()
	defer batch.Close()

	for _, m := range muts {
		current, err := b.load(m.Address)
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
		data, err := env.Encode()
		if err != nil {
			return err
		}
		if err := batch.Set(recordKey(m.Address), data, nil); err != nil {
			return err
		}
	}
	for _, t := range tx.Trades() {
		if err := batch.Set(tradeIndexKey(t.Market, t.TradeID), nil, nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	tx.Committed()
	return nil
}

// ListTrades returns up to limit trades of market, newest trade id first.
func (b *PebbleBackend) ListTrades(ctx context.Context, market core.Identity, limit int) ([]*core.TradeResult, error) {
	prefix := tradeIndexPrefix(market)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*core.TradeResult
	for iter.Last(); iter.Valid() && (limit <= 0 || len(trades) < limit); iter.Prev() {
		key := iter.Key()
		tradeID := binary.BigEndian.Uint64(key[len(prefix):])
		trade, err := b.GetTrade(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, iter.Error()
}

// Close closes the database.
func (b *PebbleBackend) Close() error {
	return b.db.Close()
}

var (
	_ core.Store       = (*PebbleBackend)(nil)
	_ core.TradeLister = (*PebbleBackend)(nil)
)
