// Package api is the HTTP control surface for ladders: REST under /api/v1,
// prometheus metrics and a websocket stream of runner snapshots.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amirphl/ladder-trader/internal/instrument"
	"github.com/amirphl/ladder-trader/internal/journal"
	"github.com/amirphl/ladder-trader/internal/ladder"
	"github.com/amirphl/ladder-trader/internal/registry"
	"github.com/amirphl/ladder-trader/internal/runner"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Controller is the ladder directory the server drives.
type Controller interface {
	Start(account, instrument string, p ladder.Params) (runner.Snapshot, error)
	Stop(account, instrument string) error
	Update(account, instrument string, patch ladder.Patch) (ladder.Params, error)
	Status(account, instrument string) (runner.Snapshot, error)
	List() []runner.Snapshot
}

// Journal is the read side of the order and event journal.
type Journal interface {
	GetOrder(ctx context.Context, recordID string) (*journal.Order, error)
	GetOpenOrders(ctx context.Context, account string) ([]journal.Order, error)
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error)
	DeleteEvents(ctx context.Context, eventType string, before time.Time) error
}

type Options struct {
	// Defaults are the params a start request patches over.
	Defaults ladder.Params
	// Journal enables the /orders and /events routes. Optional.
	Journal           Journal
	AllowedOrigins    []string
	BroadcastInterval time.Duration
	Logger            *zap.Logger
}

type Server struct {
	ctrl     Controller
	journal  Journal
	defaults ladder.Params
	router   *mux.Router
	handler  http.Handler
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger
	http     *http.Server
}

func NewServer(ctrl Controller, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 2 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	logger := opts.Logger.Named("api")
	s := &Server{
		ctrl:     ctrl,
		journal:  opts.Journal,
		defaults: opts.Defaults,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		interval: opts.BroadcastInterval,
		logger:   logger,
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ladders", s.handleStart).Methods("POST")
	api.HandleFunc("/ladders", s.handleList).Methods("GET")
	api.HandleFunc("/ladders/{account}/{instrument}", s.handleStatus).Methods("GET")
	api.HandleFunc("/ladders/{account}/{instrument}", s.handleUpdate).Methods("PATCH")
	api.HandleFunc("/ladders/{account}/{instrument}", s.handleStop).Methods("DELETE")
	if s.journal != nil {
		api.HandleFunc("/orders/{account}", s.handleOpenOrders).Methods("GET")
		api.HandleFunc("/orders/{account}/{record}", s.handleOrder).Methods("GET")
		api.HandleFunc("/events", s.handleEvents).Methods("GET")
		api.HandleFunc("/events", s.handlePurgeEvents).Methods("DELETE")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Hub() *Hub { return s.hub }

// Run starts the websocket hub and the snapshot broadcaster. It blocks until ctx is done.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			s.hub.Broadcast(Message{Type: "ladders", Data: s.ctrl.List()})
		}
	}
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API | server starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type StartRequest struct {
	Account    string        `json:"account"`
	Instrument string        `json:"instrument"`
	Params     *ladder.Patch `json:"params,omitempty"`
}

type StartResponse struct {
	ID       string          `json:"id"`
	Snapshot runner.Snapshot `json:"snapshot"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p := s.defaults
	if req.Params != nil {
		p = p.Apply(*req.Params)
	}

	snap, err := s.ctrl.Start(req.Account, req.Instrument, p)
	if err != nil {
		s.logger.Warn("API | start failed", zap.String("account", req.Account),
			zap.String("instrument", req.Instrument), zap.Error(err))
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, StartResponse{ID: snap.ID, Snapshot: snap})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.ctrl.Status(vars["account"], vars["instrument"])
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var patch ladder.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := s.ctrl.Update(vars["account"], vars["instrument"], patch)
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.ctrl.Stop(vars["account"], vars["instrument"]); err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(runner.Stopping)})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.journal.GetOpenOrders(r.Context(), mux.Vars(r)["account"])
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	if orders == nil {
		orders = []journal.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	o, err := s.journal.GetOrder(r.Context(), vars["record"])
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	if o == nil || o.Account != vars["account"] {
		respondError(w, http.StatusNotFound, registry.ErrNotFound.Error(), "")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// parseTime reads an RFC3339 query value, falling back to def when absent.
func parseTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

// handleEvents serves GET /events?type=order&since=..&until=..; the window
// defaults to the last 24 hours.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	if eventType == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "type is required")
		return
	}
	now := time.Now()
	since, err := parseTime(r, "since", now.Add(-24*time.Hour))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	until, err := parseTime(r, "until", now.Add(time.Second))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	events, err := s.journal.GetEvents(r.Context(), eventType, since, until)
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handlePurgeEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	before, err := parseTime(r, "before", time.Time{})
	if err != nil || eventType == "" || before.IsZero() {
		respondError(w, http.StatusBadRequest, "invalid_request", "type and before are required")
		return
	}
	if err := s.journal.DeleteEvents(r.Context(), eventType, before); err != nil {
		s.respondControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ladders": len(s.ctrl.List()),
		"clients": s.hub.Len(),
	})
}

func (s *Server) respondControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, registry.ErrAlreadyRunning.Error(), "")
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, registry.ErrNotFound.Error(), "")
	case errors.Is(err, ladder.ErrInvalidParams):
		respondError(w, http.StatusBadRequest, "invalid_params", err.Error())
	case errors.Is(err, instrument.ErrUnknownSymbol):
		respondError(w, http.StatusBadRequest, "unknown_symbol", err.Error())
	default:
		s.logger.Error("API | control call failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}
