package api

import (
	"time"

	"github.com/erain9/darkpool/pkg/core"
)

// MarketView combines what the manager recorded about a market with its
// current orderbook.
type MarketView struct {
	Market     core.Identity `json:"market"`
	Authority  core.Identity `json:"authority"`
	OrderCount uint64        `json:"order_count"`
	TradeCount uint64        `json:"trade_count"`
	IsPaused   bool          `json:"is_paused"`
	CreatedAt  *time.Time    `json:"created_at,omitempty"`
}

// TradeList is the response of the market trades endpoint.
type TradeList struct {
	Market core.Identity       `json:"market"`
	Trades []*core.TradeResult `json:"trades"`
}

// WSMessage wraps every event pushed to WebSocket clients.
type WSMessage struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    any    `json:"data"`
}

// WSSubscribeRequest is sent by clients to manage subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["all", "market:0x..."]
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
