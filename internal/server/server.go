// Package server exposes the loopback-only process health endpoint consumed
// by the watchdog. It is deliberately tiny: no auth, no CORS, bound to
// 127.0.0.1 so nothing off-host can reach it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cryptumbot/cryptum/internal/orchestrator"
)

// DefaultPort matches the port the watchdog polls.
const DefaultPort = 8002

// StatusSource provides the run-state snapshot served by /api/status.
type StatusSource interface {
	Snapshot() orchestrator.Snapshot
}

// Config holds the health server configuration.
type Config struct {
	Port int
}

// Server is the loopback health responder.
type Server struct {
	httpServer *http.Server
	source     StatusSource
	logger     *slog.Logger
}

// New creates a Server with the status route registered.
func New(cfg Config, source StatusSource, logger *slog.Logger) *Server {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	s := &Server{
		source: source,
		logger: logger.With(slog.String("component", "health")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Start begins listening. It blocks until the server encounters an error or
// is shut down.
func (s *Server) Start() error {
	s.logger.Info("health server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("health server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleStatus reports run state and liveness for the watchdog.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()

	body := map[string]any{
		"is_running":     snap.IsRunning,
		"last_heartbeat": nil,
	}
	if !snap.LastHeartbeat.IsZero() {
		body["last_heartbeat"] = snap.LastHeartbeat.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode status response", slog.String("error", err.Error()))
	}
}
