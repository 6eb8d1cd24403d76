package realtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// SessionState is the lifecycle position of a Session. States only move forward.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EnqueueResult reports what happened to an event offered to a session.
type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	// EnqueuedWithEviction means the oldest pending event was dropped to make room.
	EnqueuedWithEviction
	// Rejected means the session is not accepting events.
	Rejected
)

// wsConn is the subset of *websocket.Conn a Session uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

const controlBuffer = 8

// Session is one live viewer connection. The dispatch goroutine is the only
// writer to the connection; the owning handler goroutine is the only reader.
type Session struct {
	id      string
	conn    wsConn
	cfg     Config
	queue   *outboundQueue
	metrics vitals.MetricsSink
	logger  zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	userID vitals.UserID
	reason CloseReason

	control   chan []byte
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	onClosing func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(conn wsConn, cfg Config, sink vitals.MetricsSink, logger zerolog.Logger, onClosing func(*Session)) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		conn:      conn,
		cfg:       cfg,
		queue:     newOutboundQueue(cfg.QueueCapacity),
		metrics:   sink,
		logger:    logger.With().Str("session", id).Logger(),
		control:   make(chan []byte, controlBuffer),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		onClosing: onClosing,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

// UserID is empty until the session is authenticated.
func (s *Session) UserID() vitals.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// CloseReason is empty until Close has been called.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Context is cancelled as soon as the session starts closing.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of queued, undelivered events.
func (s *Session) Pending() int {
	return s.queue.len()
}

// Enqueue offers an event for delivery. It never blocks on the network.
func (s *Session) Enqueue(event vitals.TelemetryEvent) EnqueueResult {
	if s.State() != StateAuthenticated {
		return Rejected
	}
	accepted, evicted := s.queue.push(event)
	switch {
	case !accepted:
		return Rejected
	case evicted:
		return EnqueuedWithEviction
	default:
		return Enqueued
	}
}

// Close moves the session to StateClosing. Only the first call has any effect;
// its reason is the one reported to the client.
func (s *Session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()

		s.state.Store(int32(StateClosing))
		s.cancel()
		close(s.closing)
		if s.onClosing != nil {
			s.onClosing(s)
		}
	})
}

// markAuthenticated binds the session to userID and queues the ready frame.
// It fails when the session has already started closing.
func (s *Session) markAuthenticated(userID vitals.UserID) bool {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return false
	}
	ready, err := encodeReady(s.id, userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode ready frame.")
		s.Close(CloseProtocolError)
		return false
	}
	s.sendControl(ready)
	return true
}

// sendControl queues a frame ahead of telemetry. It drops the frame if the
// control buffer is full.
func (s *Session) sendControl(frame []byte) bool {
	select {
	case s.control <- frame:
		return true
	default:
		s.logger.Warn().Msg("Control buffer full, dropping frame.")
		return false
	}
}

// dispatch is the session's single writer. It runs until the session starts
// closing, then finishes the close.
func (s *Session) dispatch() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer s.finish()

	for {
		select {
		case <-s.closing:
			return
		case frame := <-s.control:
			if !s.write(frame) {
				return
			}
		case <-s.queue.ready():
			if !s.flush() {
				return
			}
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			if err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed.")
				s.Close(CloseWriteFailed)
				return
			}
		}
	}
}

// flush writes pending control frames, then every queued event in order.
func (s *Session) flush() bool {
	for drained := false; !drained; {
		select {
		case frame := <-s.control:
			if !s.write(frame) {
				return false
			}
		default:
			drained = true
		}
	}

	for {
		select {
		case <-s.closing:
			return false
		default:
		}
		event, ok := s.queue.pop()
		if !ok {
			return true
		}
		data, err := encodeTelemetry(event)
		if err != nil {
			s.logger.Error().Err(err).Str("device", string(event.DeviceID)).Msg("Failed to encode telemetry frame.")
			continue
		}
		if !s.write(data) {
			return false
		}
	}
}

func (s *Session) write(data []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Msg("Write failed.")
		s.Close(CloseWriteFailed)
		return false
	}
	return true
}

// finish sends the error and close frames when the peer can still receive
// them, releases the connection and discards the queue.
func (s *Session) finish() {
	reason := s.CloseReason()
	if code, ok := reason.Code(); ok {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		if frame, err := encodeError(reason); err == nil {
			_ = s.conn.SetWriteDeadline(deadline)
			_ = s.conn.WriteMessage(websocket.TextMessage, frame)
		}
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, string(reason)), deadline)
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Error closing connection.")
	}
	dropped := s.queue.close()

	s.state.Store(int32(StateClosed))
	s.metrics.Increment(metrics.SessionClosed, map[string]string{metrics.ReasonLabel: string(reason)})
	s.logger.Info().
		Str("user", string(s.UserID())).
		Str("reason", string(reason)).
		Int("dropped", dropped).
		Msg("Session closed.")
	close(s.done)
}

// awaitAuthFrame reads the first client frame, which must carry a token.
func (s *Session) awaitAuthFrame(deadline time.Time) (string, CloseReason) {
	_ = s.conn.SetReadDeadline(deadline)
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		reason := classifyReadError(err)
		if reason == CloseIdleTimeout {
			reason = CloseAuthTimeout
		}
		return "", reason
	}
	if messageType != websocket.TextMessage {
		return "", CloseProtocolError
	}
	frame, err := decodeClientFrame(data)
	if err != nil {
		return "", CloseProtocolError
	}
	if frame.Type != FrameAuth || frame.Token == "" {
		return "", CloseAuthFailed
	}
	return frame.Token, ""
}

// readLoop consumes inbound frames for an authenticated session. Any frame or
// pong extends the idle deadline.
func (s *Session) readLoop() {
	idle := s.cfg.idleWindow()
	_ = s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.Close(classifyReadError(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(idle))

		if messageType != websocket.TextMessage {
			s.Close(CloseProtocolError)
			return
		}
		frame, err := decodeClientFrame(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Rejecting client frame.")
			s.Close(CloseProtocolError)
			return
		}
		switch frame.Type {
		case FramePing:
			s.sendControl(pongFrame)
		case FrameAuth:
			// Already authenticated.
		default:
			s.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown client frame.")
		}
	}
}

func classifyReadError(err error) CloseReason {
	var netErr net.Error
	var closeErr *websocket.CloseError
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return CloseProtocolError
	case errors.As(err, &netErr) && netErr.Timeout():
		return CloseIdleTimeout
	case errors.As(err, &closeErr):
		return CloseClientGone
	default:
		return CloseReadFailed
	}
}
