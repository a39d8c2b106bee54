// Package api exposes the exchange over REST and a websocket trade feed.
// The transport is a thin adapter: it parses the wire types, calls the
// engine's public operations and maps the error taxonomy to HTTP statuses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmart/pkg/exchange"
)

// Server handles the REST API and websocket connections.
type Server struct {
	exch   *exchange.Exchange
	log    *zap.SugaredLogger
	router *mux.Router
	hub    *Hub
	http   *http.Server

	metricsHandler http.Handler
}

// ServerOption configures optional server features.
type ServerOption func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metricsHandler = h }
}

func NewServer(exch *exchange.Exchange, log *zap.SugaredLogger, opts ...ServerOption) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		exch:   exch,
		log:    log,
		router: mux.NewRouter(),
		hub:    NewHub(log),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/agents", s.handleRegister).Methods("POST")

	api.HandleFunc("/orders", s.handleAddOrder).Methods("POST")
	api.HandleFunc("/orders/change", s.handleChangeOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/offers", s.handleOffers).Methods("GET")
	api.HandleFunc("/orders/demands", s.handleDemands).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleOrderByID).Methods("GET")

	api.HandleFunc("/transactions", s.handleTransactions).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metricsHandler != nil {
		s.router.Handle("/metrics", s.metricsHandler).Methods("GET")
	}
}

// Handler returns the full middleware stack; exported for httptest use.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// TradeListener returns the listener that feeds executed transactions into
// the websocket hub's public trades channel. Wire it with
// exchange.WithTradeListener. Private agent channels are fed by the notifier
// bridge installed at registration time, never from here, so each party sees
// every fill exactly once.
func (s *Server) TradeListener() exchange.TradeListener {
	return func(tx exchange.Transaction) {
		s.hub.Publish(WSEvent{Channel: "trades", Type: "trade", Trade: transactionInfo(tx)})
	}
}

// Start runs the hub and serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ---- handlers ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("bad request body: %w", errBadRequest))
		return
	}
	agentID := uuid.New()
	if req.AgentID != "" {
		id, err := uuid.Parse(req.AgentID)
		if err != nil {
			s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
			return
		}
		agentID = id
	}

	// HTTP agents receive notifications over the websocket feed; the engine
	// callbacks bridge into their private hub channel.
	err := s.exch.Register(agentID, exchange.Notifiers{
		OnBuy: func(tx exchange.Transaction) {
			s.hub.Publish(WSEvent{Channel: "agent:" + agentID.String(), Type: "buy", Trade: transactionInfo(tx)})
		},
		OnSale: func(tx exchange.Transaction) {
			s.hub.Publish(WSEvent{Channel: "agent:" + agentID.String(), Type: "sale", Trade: transactionInfo(tx)})
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, RegisterResponse{AgentID: agentID.String()})
}

func (s *Server) handleAddOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("bad request body: %w", errBadRequest))
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad price %q: %w", req.Price, errBadRequest))
		return
	}

	var orderID uuid.UUID
	switch req.Kind {
	case "offer":
		orderID, err = s.exch.AddOffer(agentID, req.Company, req.Shares, price)
	case "demand":
		orderID, err = s.exch.AddDemand(agentID, req.Company, req.Shares, price)
	default:
		s.writeError(w, fmt.Errorf("bad kind %q: %w", req.Kind, errBadRequest))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, OrderResponse{OrderID: orderID.String()})
}

func (s *Server) handleChangeOrder(w http.ResponseWriter, r *http.Request) {
	var req ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("bad request body: %w", errBadRequest))
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad order id: %w", errBadRequest))
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad price %q: %w", req.Price, errBadRequest))
		return
	}

	switch req.Kind {
	case "offer":
		err = s.exch.ChangeOffer(agentID, orderID, req.Shares, price)
	case "demand":
		err = s.exch.ChangeDemand(agentID, orderID, req.Shares, price)
	default:
		s.writeError(w, fmt.Errorf("bad kind %q: %w", req.Kind, errBadRequest))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("bad request body: %w", errBadRequest))
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		s.writeError(w, fmt.Errorf("bad order id: %w", errBadRequest))
		return
	}
	if err := s.exch.CancelOrder(agentID, orderID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	s.handleSnapshot(w, r, s.exch.Offers)
}

func (s *Server) handleDemands(w http.ResponseWriter, r *http.Request) {
	s.handleSnapshot(w, r, s.exch.Demands)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, snap func(uuid.UUID, string) ([]exchange.Order, error)) {
	agentID, err := uuid.Parse(r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	orders, err := snap(agentID, r.URL.Query().Get("company"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderInfo(o))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, fmt.Errorf("bad order id: %w", errBadRequest))
		return
	}
	o, err := s.exch.OrderByID(agentID, orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeError(w, fmt.Errorf("bad agent id: %w", errBadRequest))
		return
	}
	txs, err := s.exch.Transactions(agentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]TransactionInfo, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionInfo(tx))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ---- encoding & error mapping ----

var errBadRequest = errors.New("bad request")

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("response_encode_failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	retryable := false
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, exchange.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrNotRegistered):
		status = http.StatusUnauthorized
	case errors.Is(err, exchange.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrOngoingTransaction):
		status = http.StatusConflict
		retryable = true
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Retryable: retryable})
}
