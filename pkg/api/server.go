// Package api serves a read-only REST view of the engine and pushes engine
// events to WebSocket subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/erain9/darkpool/pkg/core"
	"github.com/erain9/darkpool/pkg/logging"
	"github.com/erain9/darkpool/pkg/server"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// DefaultTradeLimit caps trade listings when the request sets no limit.
const DefaultTradeLimit = 100

// Server handles REST and WebSocket connections.
type Server struct {
	manager *server.Manager
	router  *mux.Router
	hub     *Hub
	origins []string
}

// NewServer creates the HTTP gateway. The hub is registered with the
// manager's event fan-out.
func NewServer(manager *server.Manager, allowedOrigins []string) *Server {
	s := &Server{
		manager: manager,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		origins: allowedOrigins,
	}
	manager.Events().Add(s.hub)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestIDMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods(http.MethodGet)
	api.HandleFunc("/markets/{market}/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/orders/{owner}/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/trades/{id}", s.handleGetTrade).Methods(http.MethodGet)

	s.router.Handle("/ws", s.hub)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", logging.RequestIDHeader},
	})
	return c.Handler(s.router)
}

// Run starts the hub and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), r.Header.Get(logging.RequestIDHeader))
		if id, ok := logging.RequestID(ctx); ok {
			w.Header().Set(logging.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.manager.Markets()
	views := make([]MarketView, 0, len(markets))
	for _, info := range markets {
		ob, err := s.manager.Engine().GetOrderbook(r.Context(), info.Market)
		if err != nil {
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).Str("market", info.Market.Hex()).Msg("Failed to read orderbook")
			continue
		}
		createdAt := info.CreatedAt
		views = append(views, marketView(ob, &createdAt))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := identityVar(w, r, "market")
	if !ok {
		return
	}
	ob, err := s.manager.Engine().GetOrderbook(r.Context(), market)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	var createdAt *time.Time
	if info, err := s.manager.Market(market); err == nil {
		createdAt = &info.CreatedAt
	}
	respondJSON(w, http.StatusOK, marketView(ob, createdAt))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	market, ok := identityVar(w, r, "market")
	if !ok {
		return
	}
	limit := DefaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}

	lister, ok := s.manager.TradeLister()
	if !ok {
		respondError(w, http.StatusNotImplemented, "trade listing unavailable", "store does not index trades")
		return
	}
	trades, err := lister.ListTrades(r.Context(), market, limit)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	if trades == nil {
		trades = []*core.TradeResult{}
	}
	respondJSON(w, http.StatusOK, TradeList{Market: market, Trades: trades})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := identityVar(w, r, "owner")
	if !ok {
		return
	}
	id, ok := uintVar(w, r, "id")
	if !ok {
		return
	}
	order, err := s.manager.Engine().GetOrder(r.Context(), core.OrderKey{Owner: owner, OrderID: id})
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := uintVar(w, r, "id")
	if !ok {
		return
	}
	trade, err := s.manager.Engine().GetTrade(r.Context(), id)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, trade)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"markets": len(s.manager.Markets()),
	})
}

func marketView(ob *core.Orderbook, createdAt *time.Time) MarketView {
	return MarketView{
		Market:     ob.Market,
		Authority:  ob.Authority,
		OrderCount: ob.OrderCount,
		TradeCount: ob.TradeCount,
		IsPaused:   ob.IsPaused,
		CreatedAt:  createdAt,
	}
}

func identityVar(w http.ResponseWriter, r *http.Request, name string) (core.Identity, bool) {
	raw := mux.Vars(r)[name]
	id, err := core.ParseIdentity(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, err.Error())
		return core.Identity{}, false
	}
	return id, true
}

func uintVar(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, raw)
		return 0, false
	}
	return v, true
}

// httpStatus maps an engine error kind to an HTTP status.
func httpStatus(err error) int {
	switch core.KindOf(err) {
	case core.InvalidInput:
		return http.StatusBadRequest
	case core.NotFound:
		return http.StatusNotFound
	case core.AuthorizationFailure:
		return http.StatusForbidden
	case core.StateConflict, core.AlreadyExists, core.NoMatchableQuantity, core.PricingViolation:
		return http.StatusConflict
	case core.MarketUnavailable, core.CollaboratorFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	var engineErr *core.Error
	if errors.As(err, &engineErr) {
		respondError(w, code, engineErr.Kind.String(), engineErr.Err.Error())
		return
	}
	respondError(w, code, core.KindOf(err).String(), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Message: detail})
}
