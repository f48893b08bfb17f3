package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"svea/internal/config"
	"svea/internal/market"
	"svea/internal/store"
)

// StatusSource reports scheduled-job timing for the status endpoint.
// Nil is allowed when the server runs without the daemon.
type StatusSource interface {
	Status() []JobInfo
}

// JobInfo mirrors the scheduler's job status for JSON output.
type JobInfo struct {
	Name    string    `json:"name"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
	NextRun time.Time `json:"next_run"`
}

// Server exposes the read API and the authenticated manual overrides.
type Server struct {
	store    *store.Store
	schedule *market.Schedule
	clock    market.Clock
	jobs     StatusSource
	cfg      config.WebConfig
	log      *zap.SugaredLogger
	http     *http.Server
}

// NewServer creates the web server. A nil clock defaults to time.Now.
func NewServer(st *store.Store, schedule *market.Schedule, clock market.Clock, jobs StatusSource, cfg config.WebConfig, log *zap.SugaredLogger) *Server {
	if clock == nil {
		clock = time.Now
	}
	s := &Server{
		store:    st,
		schedule: schedule,
		clock:    clock,
		jobs:     jobs,
		cfg:      cfg,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/watchlist", s.handleWatchlist)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/backtest/summary", s.handleSummary)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/signals/{id}/execute", s.requireAuth(s.handleExecuteSignal))
	mux.HandleFunc("POST /api/trades/{id}/close", s.requireAuth(s.handleCloseTrade))

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.cors(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("web server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler returns the configured handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
