package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// CloseReason records why a session ended.
type CloseReason string

const (
	CloseAuthFailed     CloseReason = "auth_failed"
	CloseAuthTimeout    CloseReason = "auth_timeout"
	CloseIdleTimeout    CloseReason = "idle_timeout"
	CloseServerShutdown CloseReason = "server_shutdown"
	CloseProtocolError  CloseReason = "protocol_error"

	// The peer is gone in the following cases, so no close frame is sent.
	CloseClientGone  CloseReason = "client_closed"
	CloseReadFailed  CloseReason = "read_failed"
	CloseWriteFailed CloseReason = "write_failed"
)

// WebSocket close codes sent to clients. 4000-4999 are application codes.
const (
	CloseCodeAuthFailed     = 4001
	CloseCodeAuthTimeout    = 4002
	CloseCodeIdleTimeout    = 4003
	CloseCodeServerShutdown = websocket.CloseGoingAway
	CloseCodeProtocolError  = websocket.CloseProtocolError
)

// Code returns the close code to send for r, or false when the peer is
// already unreachable.
func (r CloseReason) Code() (int, bool) {
	switch r {
	case CloseAuthFailed:
		return CloseCodeAuthFailed, true
	case CloseAuthTimeout:
		return CloseCodeAuthTimeout, true
	case CloseIdleTimeout:
		return CloseCodeIdleTimeout, true
	case CloseServerShutdown:
		return CloseCodeServerShutdown, true
	case CloseProtocolError:
		return CloseCodeProtocolError, true
	default:
		return 0, false
	}
}

func (r CloseReason) message() string {
	switch r {
	case CloseAuthFailed:
		return "authentication failed"
	case CloseAuthTimeout:
		return "no credentials received in time"
	case CloseIdleTimeout:
		return "connection idle"
	case CloseServerShutdown:
		return "server shutting down"
	case CloseProtocolError:
		return "unsupported message"
	default:
		return string(r)
	}
}

// Frame types.
const (
	FrameAuth      = "auth"
	FrameReady     = "ready"
	FrameError     = "error"
	FrameTelemetry = "telemetry"
	FramePing      = "ping"
	FramePong      = "pong"
)

// ClientFrame is any JSON text frame sent by a client.
type ClientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// ReadyFrame confirms a successful handshake.
type ReadyFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ErrorFrame precedes a server-initiated close.
type ErrorFrame struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// TelemetryFrame carries one reading. The owning user is implied by the session.
type TelemetryFrame struct {
	Type      string  `json:"type"`
	DeviceID  string  `json:"device_id"`
	HeartRate float64 `json:"heart_rate"`
	SpO2      float64 `json:"spo2"`
	Timestamp string  `json:"timestamp"`
}

// NewTelemetryFrame converts an event to its wire form.
func NewTelemetryFrame(event vitals.TelemetryEvent) TelemetryFrame {
	return TelemetryFrame{
		Type:      FrameTelemetry,
		DeviceID:  string(event.DeviceID),
		HeartRate: event.HeartRate,
		SpO2:      event.SpO2,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

var pongFrame = []byte(`{"type":"pong"}`)

func encodeTelemetry(event vitals.TelemetryEvent) ([]byte, error) {
	return json.Marshal(NewTelemetryFrame(event))
}

func encodeReady(sessionID string, userID vitals.UserID) ([]byte, error) {
	return json.Marshal(ReadyFrame{Type: FrameReady, SessionID: sessionID, UserID: string(userID)})
}

func encodeError(reason CloseReason) ([]byte, error) {
	return json.Marshal(ErrorFrame{Type: FrameError, Reason: string(reason), Message: reason.message()})
}

func decodeClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("invalid client frame: %w", err)
	}
	if frame.Type == "" {
		return ClientFrame{}, fmt.Errorf("client frame has no type")
	}
	return frame, nil
}
