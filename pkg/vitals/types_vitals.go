package vitals

import (
	"time"
)

// UserID identifies an account. It is produced only by an Authenticator
// (for viewers) or a DeviceBinding lookup (for telemetry), never by clients.
type UserID string

// DeviceID identifies a biometric sensor device.
type DeviceID string

// TelemetryEvent is a single biometric reading, owned by the user the
// device is bound to at ingestion time.
type TelemetryEvent struct {
	DeviceID  DeviceID  `json:"device_id"`
	UserID    UserID    `json:"user_id"`
	HeartRate float64   `json:"heart_rate"`
	SpO2      float64   `json:"spo2"`
	Timestamp time.Time `json:"timestamp"`
}

// MeasurementQuery bounds a historical measurement lookup.
// Zero times leave that side of the window open.
type MeasurementQuery struct {
	Start time.Time
	End   time.Time
	Limit int
}

// Message is a single raw payload delivered by an ingestion source.
// Ack and Nack may be nil for sources without redelivery.
type Message struct {
	ID          string
	Payload     []byte
	Attributes  map[string]string
	PublishTime time.Time
	Ack         func()
	Nack        func()
}

// AckIfPresent acknowledges the message when the source supports it.
func (m Message) AckIfPresent() {
	if m.Ack != nil {
		m.Ack()
	}
}

// NackIfPresent negatively acknowledges the message when the source supports it.
func (m Message) NackIfPresent() {
	if m.Nack != nil {
		m.Nack()
	}
}
