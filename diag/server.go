package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrtlabs/secret-agent-go/gateway"
)

// Runner produces connection reports; satisfied by *Checker.
type Runner interface {
	Run(ctx context.Context) gateway.Report
}

// Server exposes diagnostics over HTTP:
//
//	GET /health          — liveness of the diagnostics server itself
//	GET /connections     — one-shot connection report (JSON)
//	GET /connections/ws  — websocket stream of periodic reports
//	GET /metrics         — Prometheus metrics
type Server struct {
	runner   Runner
	log      *slog.Logger
	interval time.Duration
	server   *http.Server
	upgrader websocket.Upgrader
	mu       sync.Mutex
}

// NewServer creates a diagnostics server on addr. interval is the push
// period for websocket subscribers; <= 0 selects 15s.
func NewServer(runner Runner, addr string, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		runner:   runner,
		log:      log,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/connections/ws", s.handleConnectionsWS)
	mux.Handle("/metrics", promhttp.Handler())
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info("diagnostics server listening", "addr", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("diagnostics server error", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodHead && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report := s.runner.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.log.Error("failed to encode report", "error", err)
	}
}

// handleConnectionsWS streams a report immediately and then one per
// interval until the client goes away.
func (s *Server) handleConnectionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		report := s.runner.Run(ctx)
		if err := conn.WriteJSON(report); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
