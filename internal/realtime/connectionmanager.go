// Package realtime delivers live telemetry to authenticated WebSocket viewers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

const bearerProtocol = "bearer"

// ConnectionManager accepts viewer connections, authenticates them and keeps
// the SessionRegistry in step with their lifecycle. It runs its own dedicated
// HTTP server.
type ConnectionManager struct {
	server   *http.Server
	upgrader websocket.Upgrader
	auth     vitals.Authenticator
	registry *SessionRegistry
	metrics  vitals.MetricsSink
	cfg      Config

	// sessions holds every live session, authenticated or not.
	sessions sync.Map // map[string]*Session

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup

	logger     zerolog.Logger
	instanceID string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
func NewConnectionManager(
	cfg Config,
	auth vitals.Authenticator,
	registry *SessionRegistry,
	sink vitals.MetricsSink,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("session registry cannot be nil")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	cfg = cfg.withDefaults()

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		auth:       auth,
		registry:   registry,
		metrics:    sink,
		cfg:        cfg,
		logger:     cmLogger,
		instanceID: instanceID,
	}
	cm.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{bearerProtocol},
		CheckOrigin:     cm.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/health", cm.connectHandler)
	mux.HandleFunc("/connect", cm.connectHandler)
	cm.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return cm, nil
}

// Handler exposes the WebSocket routes.
func (cm *ConnectionManager) Handler() http.Handler {
	return cm.server.Handler
}

// Start runs the HTTP server for WebSocket connections.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.logger.Info().Str("addr", cm.server.Addr).Msg("WebSocket server starting...")
	if err := cm.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every session with
// server_shutdown and waits, bounded by ShutdownTimeout, for them to finish.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	ctx, cancel := context.WithTimeout(ctx, cm.cfg.ShutdownTimeout)
	defer cancel()

	cm.mu.Lock()
	cm.draining = true
	cm.mu.Unlock()

	var finalErr error
	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	cm.sessions.Range(func(_, value any) bool {
		value.(*Session).Close(CloseServerShutdown)
		return true
	})

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		remaining := 0
		cm.sessions.Range(func(_, value any) bool {
			remaining++
			_ = value.(*Session).conn.Close()
			return true
		})
		cm.logger.Warn().Int("sessions", remaining).Msg("Shutdown timed out, forced connections closed.")
		finalErr = errors.Join(finalErr, ctx.Err())
	}

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// admit registers a connection handler with the shutdown WaitGroup unless
// the manager is draining.
func (cm *ConnectionManager) admit() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.draining {
		return false
	}
	cm.wg.Add(1)
	return true
}

func (cm *ConnectionManager) isDraining() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.draining
}

func (cm *ConnectionManager) checkOrigin(r *http.Request) bool {
	if len(cm.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range cm.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	if !cm.admit() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cm.wg.Done()

	authDeadline := time.Now().Add(cm.cfg.AuthTimeout)
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	conn.SetReadLimit(cm.cfg.MaxMessageBytes)

	s := newSession(conn, cm.cfg, cm.metrics, cm.logger, cm.registry.Unregister)
	cm.sessions.Store(s.ID(), s)
	defer cm.sessions.Delete(s.ID())
	go s.dispatch()

	if cm.isDraining() {
		s.Close(CloseServerShutdown)
	}

	userID, reason := cm.authenticate(s, r, authDeadline)
	if reason != "" {
		s.Close(reason)
		<-s.Done()
		return
	}
	if !s.markAuthenticated(userID) {
		<-s.Done()
		return
	}

	cm.registry.Register(s)
	// A Close racing the registration may have run its Unregister first.
	if s.State() != StateAuthenticated {
		cm.registry.Unregister(s)
	}
	cm.metrics.Increment(metrics.SessionOpened, nil)
	cm.logger.Info().Str("session", s.ID()).Str("user", string(userID)).Msg("User connected via WebSocket.")

	s.readLoop()
	<-s.Done()
}

// authenticate resolves the viewer's identity from the upgrade request or,
// failing that, from the first frame. It returns a non-empty reason on failure.
func (cm *ConnectionManager) authenticate(s *Session, r *http.Request, deadline time.Time) (vitals.UserID, CloseReason) {
	token := tokenFromRequest(r)
	if token == "" {
		var reason CloseReason
		token, reason = s.awaitAuthFrame(deadline)
		if reason != "" {
			if reason == CloseAuthTimeout || reason == CloseAuthFailed {
				cm.metrics.Increment(metrics.AuthFailed, map[string]string{metrics.ReasonLabel: string(reason)})
			}
			return "", reason
		}
	}

	ctx, cancel := context.WithDeadline(s.Context(), deadline)
	defer cancel()
	userID, err := cm.auth.Verify(ctx, token)
	if err == nil && userID == "" {
		err = vitals.ErrInvalidToken
	}
	if err == nil {
		return userID, ""
	}

	if s.Context().Err() != nil {
		// Already closing for another reason.
		return "", s.CloseReason()
	}
	reason, label := CloseAuthFailed, authFailureLabel(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason, label = CloseAuthTimeout, string(CloseAuthTimeout)
	}
	cm.metrics.Increment(metrics.AuthFailed, map[string]string{metrics.ReasonLabel: label})
	cm.logger.Info().Err(err).Str("session", s.ID()).Str("reason", string(reason)).Msg("Rejected WebSocket credentials.")
	return "", reason
}

func authFailureLabel(err error) string {
	switch {
	case errors.Is(err, vitals.ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, vitals.ErrAuthUnavailable):
		return "unavailable"
	default:
		return "invalid_token"
	}
}

// tokenFromRequest looks for a bearer token in the Authorization header, the
// Sec-WebSocket-Protocol header ("bearer, <token>") and the token query
// parameter, in that order.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token)
		}
	}
	protocols := websocket.Subprotocols(r)
	for i := 0; i+1 < len(protocols); i++ {
		if strings.EqualFold(protocols[i], bearerProtocol) {
			return protocols[i+1]
		}
	}
	return r.URL.Query().Get("token")
}
