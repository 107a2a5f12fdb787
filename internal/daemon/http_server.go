package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildmesh/internal/config"
	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/metrics"
)

// HTTPServer serves Prometheus metrics and the JSON health snapshot.
type HTTPServer struct {
	cfg      config.HTTPConfig
	registry *prom.Registry
	status   func() Status
	logger   *slog.Logger

	server *http.Server
	ln     net.Listener
}

// NewHTTPServer returns a stopped monitoring server.
func NewHTTPServer(cfg config.HTTPConfig, reg *prom.Registry, status func() Status, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{cfg: cfg, registry: reg, status: status, logger: logger}
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return ferrors.NetworkError("failed to bind monitoring listener").
			WithCause(err).WithContext("addr", s.cfg.Addr).Build()
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, metrics.HTTPHandler(s.registry))
	mux.HandleFunc(s.cfg.HealthPath, s.handleHealth)

	s.ln = ln
	s.server = &http.Server{Handler: mux, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitoring server failed", logfields.Error(err))
		}
	}()
	s.logger.Info("Monitoring server listening", slog.String("addr", ln.Addr().String()),
		slog.String("metrics", s.cfg.MetricsPath), slog.String("health", s.cfg.HealthPath))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *HTTPServer) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.status()
	code := http.StatusOK
	if !st.Running {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Warn("Failed to write health response", logfields.Error(err))
	}
}
