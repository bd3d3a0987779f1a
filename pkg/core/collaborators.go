package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the record substrate. Reads return private copies; writes go
// through Commit, which applies a whole Tx or nothing.
type Store interface {
	GetOrderbook(ctx context.Context, market Identity) (*Orderbook, error)
	GetOrder(ctx context.Context, key OrderKey) (*Order, error)
	GetTrade(ctx context.Context, tradeID uint64) (*TradeResult, error)

	// Commit applies tx atomically. A record with Version 0 is created and
	// must not exist yet (ErrAlreadyExists); any other record must still be
	// stored at exactly that version (ErrStaleRecord). On success the
	// records in tx carry their new versions.
	Commit(ctx context.Context, tx *Tx) error

	Close() error
}

// TradeLister is implemented by stores that index trades per market.
type TradeLister interface {
	// ListTrades returns up to limit trades, highest trade id first. A
	// non-positive limit returns all of them.
	ListTrades(ctx context.Context, market Identity, limit int) ([]*TradeResult, error)
}

// Authorizer verifies that caller produced signature over digest.
type Authorizer interface {
	Authorize(ctx context.Context, caller Identity, digest [32]byte, signature []byte) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Identity, digest [32]byte, signature []byte) error

func (f AuthorizerFunc) Authorize(ctx context.Context, caller Identity, digest [32]byte, signature []byte) error {
	return f(ctx, caller, digest, signature)
}

// DelegationRequest is the handoff of one order to the confidential
// executor.
type DelegationRequest struct {
	// HandoffID is unique per DelegateOrder call. Two racing calls on one
	// order publish distinct handoffs.
	HandoffID    string   `json:"handoff_id"`
	Order        Address  `json:"order"`
	Owner        Identity `json:"owner"`
	OrderID      uint64   `json:"order_id"`
	Validator    Identity `json:"validator"`
	ValidUntil   int64    `json:"valid_until"`
	CommitFreqMs uint32   `json:"commit_freq_ms"`
	Buffer       Address  `json:"buffer"`
	Record       Address  `json:"record"`
	Metadata     Address  `json:"metadata"`
}

// Delegator hands an order over to the executor program.
type Delegator interface {
	Delegate(ctx context.Context, req DelegationRequest) error
}

// DelegatorFunc adapts a function to Delegator.
type DelegatorFunc func(ctx context.Context, req DelegationRequest) error

func (f DelegatorFunc) Delegate(ctx context.Context, req DelegationRequest) error {
	return f(ctx, req)
}

// Revoker is implemented by delegators that can undo a handoff whose local
// commit failed. Revoke drops only the handoff named by req.HandoffID; a
// later handoff of the same order that won the commit stays held.
type Revoker interface {
	Revoke(ctx context.Context, req DelegationRequest) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RecordKind tags stored envelopes.
type RecordKind string

const (
	RecordOrderbook RecordKind = "orderbook"
	RecordOrder     RecordKind = "order"
	RecordTrade     RecordKind = "trade"
)

// Tx is one atomic unit of writes.
type Tx struct {
	orderbooks []*Orderbook
	orders     []*Order
	trades     []*TradeResult
}

func NewTx() *Tx { return &Tx{} }

func (tx *Tx) PutOrderbook(ob *Orderbook) *Tx {
	tx.orderbooks = append(tx.orderbooks, ob)
	return tx
}

func (tx *Tx) PutOrder(o *Order) *Tx {
	tx.orders = append(tx.orders, o)
	return tx
}

// PutTrade adds a trade creation. Trades are never updated.
func (tx *Tx) PutTrade(t *TradeResult) *Tx {
	tx.trades = append(tx.trades, t)
	return tx
}

// Trades returns the trades created by tx.
func (tx *Tx) Trades() []*TradeResult { return tx.trades }

func (tx *Tx) Len() int {
	return len(tx.orderbooks) + len(tx.orders) + len(tx.trades)
}

// Mutation is one write of a Tx, in the form stores consume.
type Mutation struct {
	Kind    RecordKind
	Address Address
	Key     string
	// Version the caller read; zero for creation.
	Version uint64

	record any
}

func (m Mutation) IsCreate() bool { return m.Version == 0 }

// Mutations flattens tx. It fails if two writes target the same address or
// a trade is being updated.
func (tx *Tx) Mutations() ([]Mutation, error) {
	muts := make([]Mutation, 0, tx.Len())
	seen := make(map[Address]struct{}, tx.Len())
	add := func(m Mutation) error {
		if _, dup := seen[m.Address]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, m.Key)
		}
		seen[m.Address] = struct{}{}
		muts = append(muts, m)
		return nil
	}
	for _, ob := range tx.orderbooks {
		if err := add(Mutation{Kind: RecordOrderbook, Address: ob.Address(), Key: ob.Key(), Version: ob.Version, record: ob}); err != nil {
			return nil, err
		}
	}
	for _, o := range tx.orders {
		if err := add(Mutation{Kind: RecordOrder, Address: o.Address(), Key: o.Key(), Version: o.Version, record: o}); err != nil {
			return nil, err
		}
	}
	for _, t := range tx.trades {
		if t.Version != 0 {
			return nil, fmt.Errorf("%w: %s", ErrImmutableRecord, t.Key())
		}
		if err := add(Mutation{Kind: RecordTrade, Address: t.Address(), Key: t.Key(), Version: 0, record: t}); err != nil {
			return nil, err
		}
	}
	return muts, nil
}

// Committed advances the version of every record in tx. Stores call it
// once the writes are durable.
func (tx *Tx) Committed() {
	for _, ob := range tx.orderbooks {
		ob.Version++
	}
	for _, o := range tx.orders {
		o.Version++
	}
	for _, t := range tx.trades {
		t.Version++
	}
}

// Envelope is the stored form of a record.
type Envelope struct {
	Kind    RecordKind      `json:"kind"`
	Key     string          `json:"key"`
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Envelope encodes m at its next version.
func (m Mutation) Envelope() (*Envelope, error) {
	data, err := json.Marshal(m.record)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Key, err)
	}
	return &Envelope{Kind: m.Kind, Key: m.Key, Version: m.Version + 1, Data: data}, nil
}

// Check validates m against the envelope currently stored at its address
// (nil when the address is empty).
func (m Mutation) Check(current *Envelope) error {
	if current != nil && (current.Kind != m.Kind || current.Key != m.Key) {
		return fmt.Errorf("%w: %s at %s holds %s", ErrAddressCollision, m.Key, m.Address.Hex(), current.Key)
	}
	if m.IsCreate() {
		if current != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, m.Key)
		}
		return nil
	}
	if current == nil || current.Version != m.Version {
		return fmt.Errorf("%w: %s", ErrStaleRecord, m.Key)
	}
	return nil
}

// DecodeEnvelope parses stored bytes.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Envelope) decode(kind RecordKind, key string, v any) error {
	if e.Kind != kind || e.Key != key {
		return fmt.Errorf("%w: want %s, found %s", ErrAddressCollision, key, e.Key)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (e *Envelope) Orderbook(market Identity) (*Orderbook, error) {
	ob := &Orderbook{Market: market}
	if err := e.decode(RecordOrderbook, ob.Key(), ob); err != nil {
		return nil, err
	}
	ob.Version = e.Version
	return ob, nil
}

func (e *Envelope) Order(key OrderKey) (*Order, error) {
	o := &Order{}
	if err := e.decode(RecordOrder, key.String(), o); err != nil {
		return nil, err
	}
	o.Version = e.Version
	return o, nil
}

func (e *Envelope) Trade(tradeID uint64) (*TradeResult, error) {
	t := &TradeResult{TradeID: tradeID}
	if err := e.decode(RecordTrade, t.Key(), t); err != nil {
		return nil, err
	}
	t.Version = e.Version
	return t, nil
}
