// Package gateway serves the websocket session protocol plus health and
// metrics endpoints, and owns the per-conversation agent registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/loom/internal/observability"
)

// Config holds the listen address.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Server is the HTTP front of the gateway.
type Server struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server. Logger defaults to slog.Default(); metrics
// may be nil.
func NewServer(cfg Config, registry *Registry, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the full route mux. Split out from Start so tests can
// mount it on httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections, then cancels in-flight runs and
// waits for their cleanup, all bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var first error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if err := s.registry.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
