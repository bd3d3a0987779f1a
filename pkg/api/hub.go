package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/erain9/darkpool/pkg/messaging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// ChannelAll receives every event.
	ChannelAll = "all"

	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// ErrHubClosed is returned by SendEvent after Close.
var ErrHubClosed = errors.New("websocket hub closed")

// MarketChannel names the channel carrying one market's events.
func MarketChannel(market string) string { return "market:" + market }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the HTTP handler.
		return true
	},
}

// Hub tracks WebSocket clients and pushes engine events to their
// subscriptions. It implements messaging.MessageSender.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once

	mu sync.RWMutex
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run processes client registration until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.Close()
		h.dropAll()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client", c.id).Int("clients", n).Msg("WebSocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client", c.id).Int("clients", n).Msg("WebSocket client disconnected")
		}
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// SendEvent pushes event to clients subscribed to its market or to all.
// Slow clients whose buffer is full miss the event.
func (h *Hub) SendEvent(_ context.Context, event *messaging.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	market := MarketChannel(event.Market)
	all, err := json.Marshal(WSMessage{Channel: ChannelAll, Type: string(event.Type), Data: event})
	if err != nil {
		return err
	}
	scoped, err := json.Marshal(WSMessage{Channel: market, Type: string(event.Type), Data: event})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		var msg []byte
		switch {
		case c.isSubscribed(market):
			msg = scoped
		case c.isSubscribed(ChannelAll):
			msg = all
		default:
			continue
		}
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("client", c.id).Str("event", event.ID).Msg("WebSocket send buffer full, dropping event")
		}
	}
	return nil
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// subscribers counts clients subscribed to channel.
func (h *Hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.isSubscribed(channel) {
			n++
		}
	}
	return n
}

// ServeHTTP upgrades the connection and attaches a client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *wsClient) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *wsClient) setSubscribed(channel string, on bool) {
	c.subsMu.Lock()
	if on {
		c.subscriptions[channel] = true
	} else {
		delete(c.subscriptions, channel)
	}
	c.subsMu.Unlock()
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Invalid WebSocket message")
			continue
		}
		switch req.Op {
		case "subscribe", "unsubscribe":
			for _, channel := range req.Channels {
				c.setSubscribed(channel, req.Op == "subscribe")
			}
		default:
			log.Debug().Str("client", c.id).Str("op", req.Op).Msg("Unknown WebSocket op")
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ messaging.MessageSender = (*Hub)(nil)
