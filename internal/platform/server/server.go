// Package server provides the HTTP server shared by the service's API surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/response"
)

// BaseServer is an http.Server with liveness and readiness probes. Handlers
// are added to Mux before Start.
type BaseServer struct {
	addr      string
	mux       *http.ServeMux
	server    *http.Server
	ready     atomic.Bool
	readyChan chan struct{}

	mu       sync.Mutex
	listener net.Listener

	logger zerolog.Logger
}

func NewBaseServer(logger zerolog.Logger, addr string) *BaseServer {
	s := &BaseServer{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: logger.With().Str("component", "BaseServer").Logger(),
	}
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /readyz", s.readyz)
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Mux returns the router handlers are registered on.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// SetReadyChannel registers a channel that Start closes once it is listening.
func (s *BaseServer) SetReadyChannel(ch chan struct{}) {
	s.readyChan = ch
}

// SetReady flips the readiness probe.
func (s *BaseServer) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Addr is the bound address once Start is listening, the configured one before.
func (s *BaseServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *BaseServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening.")
	if s.readyChan != nil {
		close(s.readyChan)
	}
	return s.server.Serve(listener)
}

func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

func (s *BaseServer) healthz(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *BaseServer) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		response.WriteJSONError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
