package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageSender delivers engine events to downstream consumers.
// Delivery is best effort: the engine logs send failures and carries on.
type MessageSender interface {
	SendEvent(ctx context.Context, event *Event) error
	Close() error
}

// EventType names an event.
type EventType string

const (
	EventOrderbookInitialized EventType = "orderbook_initialized"
	EventOrderPlaced          EventType = "order_placed"
	EventOrderDelegated       EventType = "order_delegated"
	EventTradeExecuted        EventType = "trade_executed"
	EventOrderCancelled       EventType = "order_cancelled"
	EventMarketPaused         EventType = "market_paused"
	EventMarketResumed        EventType = "market_resumed"
)

// Event is the envelope for every emitted event. Exactly one payload field
// is set, matching Type.
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	Market string    `json:"market"`
	Time   time.Time `json:"time"`

	OrderbookInitialized *OrderbookInitialized `json:"orderbook_initialized,omitempty"`
	OrderPlaced          *OrderPlaced          `json:"order_placed,omitempty"`
	OrderDelegated       *OrderDelegated       `json:"order_delegated,omitempty"`
	TradeExecuted        *TradeExecuted        `json:"trade_executed,omitempty"`
	OrderCancelled       *OrderCancelled       `json:"order_cancelled,omitempty"`
	MarketStatus         *MarketStatus         `json:"market_status,omitempty"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(typ EventType, market string, at time.Time) *Event {
	return &Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Market: market,
		Time:   at.UTC(),
	}
}

type OrderbookInitialized struct {
	Authority string `json:"authority"`
}

type OrderPlaced struct {
	OrderID uint64 `json:"order_id"`
	Owner   string `json:"owner"`
	Side    string `json:"side"`
	Amount  uint64 `json:"amount"`
	Price   uint64 `json:"price"`
}

type OrderDelegated struct {
	OrderID    uint64 `json:"order_id"`
	Owner      string `json:"owner"`
	Validator  string `json:"validator"`
	ValidUntil int64  `json:"valid_until"`
}

type TradeExecuted struct {
	TradeID uint64 `json:"trade_id"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	Amount  uint64 `json:"amount"`
	Price   uint64 `json:"price"`
}

type OrderCancelled struct {
	OrderID uint64 `json:"order_id"`
	Owner   string `json:"owner"`
}

// MarketStatus is carried by both pause and resume events.
type MarketStatus struct {
	Authority string `json:"authority"`
	Paused    bool   `json:"paused"`
}
