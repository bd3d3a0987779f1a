package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// Credentials identify the caller of an operation. Signature covers the
// request's Digest.
type Credentials struct {
	Caller    Identity `json:"caller"`
	Signature []byte   `json:"signature,omitempty"`
}

// SetCaller and Attach let signers fill in credentials generically.
func (c *Credentials) SetCaller(id Identity) { c.Caller = id }
func (c *Credentials) Attach(sig []byte)     { c.Signature = sig }

type InitializeOrderbookRequest struct {
	Credentials
	Market Identity `json:"market"`
}

type PlaceOrderRequest struct {
	Credentials
	Market  Identity `json:"market"`
	OrderID uint64   `json:"order_id"`
	Side    Side     `json:"side"`
	Amount  uint64   `json:"amount"`
	Price   uint64   `json:"price"`
}

type DelegateOrderRequest struct {
	Credentials
	Order        OrderKey `json:"order"`
	ValidUntil   int64    `json:"valid_until"`
	CommitFreqMs uint32   `json:"commit_freq_ms"`
}

type MatchOrdersRequest struct {
	Credentials
	Market  Identity `json:"market"`
	TradeID uint64   `json:"trade_id"`
	Buy     OrderKey `json:"buy"`
	Sell    OrderKey `json:"sell"`
}

type CancelOrderRequest struct {
	Credentials
	Order OrderKey `json:"order"`
}

type PauseMarketRequest struct {
	Credentials
	Market Identity `json:"market"`
}

type ResumeMarketRequest struct {
	Credentials
	Market Identity `json:"market"`
}

// Operation names, also used as digest domain tags and span names.
const (
	OpInitializeOrderbook = "initialize_orderbook"
	OpPlaceOrder          = "place_order"
	OpDelegateOrder       = "delegate_order"
	OpMatchOrders         = "match_orders"
	OpCancelOrder         = "cancel_order"
	OpPauseMarket         = "pause_market"
	OpResumeMarket        = "resume_market"
)

type digest struct {
	buf []byte
}

func newDigest(op string, caller Identity) *digest {
	d := &digest{buf: make([]byte, 0, 160)}
	d.buf = append(d.buf, op...)
	d.buf = append(d.buf, caller[:]...)
	return d
}

func (d *digest) id(id Identity) *digest {
	d.buf = append(d.buf, id[:]...)
	return d
}

func (d *digest) u64(v uint64) *digest {
	d.buf = binary.LittleEndian.AppendUint64(d.buf, v)
	return d
}

func (d *digest) u32(v uint32) *digest {
	d.buf = binary.LittleEndian.AppendUint32(d.buf, v)
	return d
}

func (d *digest) sum() [32]byte {
	return crypto.Keccak256Hash(d.buf)
}

func (r *InitializeOrderbookRequest) Digest() [32]byte {
	return newDigest(OpInitializeOrderbook, r.Caller).id(r.Market).sum()
}

func (r *PlaceOrderRequest) Digest() [32]byte {
	return newDigest(OpPlaceOrder, r.Caller).
		id(r.Market).u64(r.OrderID).u64(uint64(r.Side)).u64(r.Amount).u64(r.Price).sum()
}

func (r *DelegateOrderRequest) Digest() [32]byte {
	return newDigest(OpDelegateOrder, r.Caller).
		id(r.Order.Owner).u64(r.Order.OrderID).u64(uint64(r.ValidUntil)).u32(r.CommitFreqMs).sum()
}

func (r *MatchOrdersRequest) Digest() [32]byte {
	return newDigest(OpMatchOrders, r.Caller).
		id(r.Market).u64(r.TradeID).
		id(r.Buy.Owner).u64(r.Buy.OrderID).
		id(r.Sell.Owner).u64(r.Sell.OrderID).sum()
}

func (r *CancelOrderRequest) Digest() [32]byte {
	return newDigest(OpCancelOrder, r.Caller).id(r.Order.Owner).u64(r.Order.OrderID).sum()
}

func (r *PauseMarketRequest) Digest() [32]byte {
	return newDigest(OpPauseMarket, r.Caller).id(r.Market).sum()
}

func (r *ResumeMarketRequest) Digest() [32]byte {
	return newDigest(OpResumeMarket, r.Caller).id(r.Market).sum()
}
