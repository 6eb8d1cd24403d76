package vitals

import (
	"context"
)

// Authenticator turns an opaque bearer token into a verified UserID.
// It returns ErrInvalidToken, ErrExpiredToken or ErrAuthUnavailable.
type Authenticator interface {
	Verify(ctx context.Context, token string) (UserID, error)
}

// DeviceBinding resolves the owner of a device. It returns ErrDeviceNotBound
// when no user is bound; any other error is a transient lookup failure.
type DeviceBinding interface {
	Lookup(ctx context.Context, deviceID DeviceID) (UserID, error)
}

// MetricsSink receives counter increments. Implementations must never block
// the caller for long and must never fail it.
type MetricsSink interface {
	Increment(counter string, labels map[string]string)
}

// Recorder receives a copy of every routed telemetry event.
type Recorder interface {
	Record(ctx context.Context, event TelemetryEvent) error
}

// LatestStore keeps the most recent reading per user.
type LatestStore interface {
	Recorder
	// Latest returns ErrNoReading when the user has never produced a reading.
	Latest(ctx context.Context, userID UserID) (TelemetryEvent, error)
}

// MeasurementStore keeps the reading history per user.
type MeasurementStore interface {
	Recorder
	// Measurements returns readings newest first.
	Measurements(ctx context.Context, userID UserID, query MeasurementQuery) ([]TelemetryEvent, error)
}

// IngestionProducer publishes a raw telemetry payload into the ingestion pipeline.
type IngestionProducer interface {
	Publish(ctx context.Context, payload []byte) error
}

// MessageConsumer is an ingestion source. Messages is closed once the
// consumer has stopped and Done is closed after that.
type MessageConsumer interface {
	Messages() <-chan Message
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}
