package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/erain9/darkpool/pkg/core"
)

// MemoryBackend is an in-process core.Store. Records are kept as encoded
// envelopes so callers never share memory with the store.
type MemoryBackend struct {
	sync.RWMutex
	records map[core.Address]*core.Envelope
}

// NewMemoryBackend creates a new empty store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[core.Address]*core.Envelope),
	}
}

func (b *MemoryBackend) get(addr core.Address) (*core.Envelope, bool) {
	b.RLock()
	defer b.RUnlock()
	env, ok := b.records[addr]
	return env, ok
}

// GetOrderbook implements core.Store.
func (b *MemoryBackend) GetOrderbook(_ context.Context, market core.Identity) (*core.Orderbook, error) {
	env, ok := b.get(core.OrderbookAddress(market))
	if !ok {
		return nil, fmt.Errorf("orderbook %s: %w", market.Hex(), core.ErrNotFound)
	}
	return env.Orderbook(market)
}

// GetOrder implements core.Store.
func (b *MemoryBackend) GetOrder(_ context.Context, key core.OrderKey) (*core.Order, error) {
	env, ok := b.get(key.Address())
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return env.Order(key)
}

// GetTrade implements core.Store.
func (b *MemoryBackend) GetTrade(_ context.Context, tradeID uint64) (*core.TradeResult, error) {
	env, ok := b.get(core.TradeAddress(tradeID))
	if !ok {
		return nil, fmt.Errorf("trade %d: %w", tradeID, core.ErrNotFound)
	}
	return env.Trade(tradeID)
}

// Commit implements core.Store. The write lock is held for the whole check
// and apply, so commits are serialized.
func (b *MemoryBackend) Commit(_ context.Context, tx *core.Tx) error {
	muts, err := tx.Mutations()
	if err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	next := make([]*core.Envelope, len(muts))
	for i, m := range muts {
		if err := m.Check(b.records[m.Address]); err != nil {
			return err
		}
		if next[i], err = m.Envelope(); err != nil {
			return err
		}
	}
	for i, m := range muts {
		b.records[m.Address] = next[i]
	}
	tx.Committed()
	return nil
}

// ListTrades implements core.TradeLister by scanning every record.
func (b *MemoryBackend) ListTrades(_ context.Context, market core.Identity, limit int) ([]*core.TradeResult, error) {
	b.RLock()
	var trades []*core.TradeResult
	for _, env := range b.records {
		if env.Kind != core.RecordTrade {
			continue
		}
		var t core.TradeResult
		if err := json.Unmarshal(env.Data, &t); err != nil {
			b.RUnlock()
			return nil, err
		}
		if t.Market == market {
			t.Version = env.Version
			trades = append(trades, &t)
		}
	}
	b.RUnlock()

	sort.Slice(trades, func(i, j int) bool { return trades[i].TradeID > trades[j].TradeID })
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

// Len returns the number of stored records.
func (b *MemoryBackend) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.records)
}

// Close implements core.Store.
func (b *MemoryBackend) Close() error { return nil }

var (
	_ core.Store       = (*MemoryBackend)(nil)
	_ core.TradeLister = (*MemoryBackend)(nil)
)
