// Package statusapi exposes the GET /status HTTP surface named in
// spec.md §6, built on the same http.ServeMux, JSON writer, and
// ListenAndServe/Shutdown lifecycle as the prior status/health/metrics
// HTTP trio, narrowed to a single StatusProvider and the exact
// response shape spec.md requires.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// AgentControlStatus is the top-level "agent_control" block.
type AgentControlStatus struct {
	Healthy   bool   `json:"healthy"`
	LastError string `json:"last_error,omitempty"`
}

// FleetStatus is the "fleet" block.
type FleetStatus struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint,omitempty"`
	Reachable bool   `json:"reachable"`
}

// SubAgentStatus is one entry under "sub_agents".
type SubAgentStatus struct {
	AgentID            string `json:"agent_id"`
	AgentType          string `json:"agent_type"`
	Healthy            bool   `json:"healthy"`
	LastError          string `json:"last_error,omitempty"`
	StartTimeUnixNano  uint64 `json:"start_time_unix_nano"`
	StatusTimeUnixNano uint64 `json:"status_time_unix_nano"`
}

// Status is the full response body for GET /status, matching spec.md
// §6's JSON shape exactly.
type Status struct {
	AgentControl AgentControlStatus        `json:"agent_control"`
	Fleet        FleetStatus               `json:"fleet"`
	SubAgents    map[string]SubAgentStatus `json:"sub_agents"`
}

// StatusProvider supplies the current snapshot. Implementations must
// be safe for concurrent reads while the root controller's
// reconciliation loop writes a new snapshot, per spec.md §5's
// reader/writer lock guidance for the status snapshot.
type StatusProvider interface {
	Status() Status
}

// MetricsProvider renders the current metrics snapshot in Prometheus
// text exposition format. Registering GET /metrics is optional: a nil
// MetricsProvider leaves the route unmounted.
type MetricsProvider interface {
	RenderMetrics() string
}

// Server is the status HTTP endpoint.
type Server struct {
	addr     string
	logger   *slog.Logger
	provider StatusProvider
	metrics  MetricsProvider
	httpSrv  *http.Server
}

// NewServer creates a Server that will listen on addr once Start is
// called. metrics may be nil, in which case GET /metrics is not served.
func NewServer(addr string, logger *slog.Logger, provider StatusProvider, metrics MetricsProvider) *Server {
	return &Server{addr: addr, logger: logger, provider: provider, metrics: metrics}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.metrics != nil {
		mux.HandleFunc("GET /metrics", s.handleMetrics)
	}

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting status server", "addr", s.addr)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("stopping status server")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.provider.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, s.metrics.RenderMetrics())
}
