// Package api provides the minimal HTTP status/health surface (§6,
// package layout). Grounded on the teacher's internal/api.Server: gorilla/mux
// router, rs/cors middleware, and an http.Server with configurable
// Start/Stop, stripped of its backtest/WebSocket RPC surface (none of which
// has an analog in a single-strategy copy-trading engine).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/types"
)

// StatusProvider is implemented by internal/orchestrator.Orchestrator; kept
// as a narrow interface so this package never imports orchestrator
// directly (it would be the only cross-dependency in the tree pointing
// back at the thing that starts it).
type StatusProvider interface {
	Positions() []types.Position
	Reports() []types.HealthReport
}

// Config controls the listen address and timeouts.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 8080, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
}

// Server exposes /healthz and /status over HTTP.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	status     StatusProvider
	startedAt  time.Time
}

// NewServer creates a Server. status may be nil before the orchestrator is
// constructed; /status reports 503 until it is set via SetStatusProvider.
func NewServer(logger *zap.Logger, cfg Config, status StatusProvider) *Server {
	s := &Server{logger: logger, cfg: cfg, router: mux.NewRouter(), status: status, startedAt: time.Now()}
	s.setupRoutes()
	return s
}

// SetStatusProvider wires the orchestrator in after construction, since the
// server typically starts listening before the orchestrator finishes
// initializing its collaborators.
func (s *Server) SetStatusProvider(status StatusProvider) {
	s.status = status
}

// ServeHTTP lets tests exercise the router directly via httptest.Server
// without binding a real socket through Start.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
}

// Start runs the HTTP server until Stop is called or it fails to bind.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting status API", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": s.status.Positions(),
		"health":    s.status.Reports(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
