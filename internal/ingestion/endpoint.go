package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// EventRouter delivers an owned event to its user's live sessions.
type EventRouter interface {
	Route(event vitals.TelemetryEvent) (int, error)
}

// Endpoint resolves ownership of parsed telemetry and routes it. Its Transform
// and Process methods are the stages of the ingestion StreamingService.
type Endpoint struct {
	binding  vitals.DeviceBinding
	router   EventRouter
	recorder vitals.Recorder
	metrics  vitals.MetricsSink
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEndpoint creates an Endpoint. recorder may be nil.
func NewEndpoint(
	binding vitals.DeviceBinding,
	router EventRouter,
	recorder vitals.Recorder,
	sink vitals.MetricsSink,
	logger zerolog.Logger,
) (*Endpoint, error) {
	if binding == nil {
		return nil, fmt.Errorf("device binding cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Endpoint{
		binding:  binding,
		router:   router,
		recorder: recorder,
		metrics:  sink,
		now:      time.Now,
		logger:   logger.With().Str("component", "IngestionEndpoint").Logger(),
	}, nil
}

// Transform parses a raw message. Rejections are counted here.
func (e *Endpoint) Transform(ctx context.Context, msg *vitals.Message) (*vitals.TelemetryEvent, bool, error) {
	event, skip, err := TelemetryTransformer(e.now)(ctx, msg)
	if err != nil {
		e.reject(err, msg.ID)
	}
	return event, skip, err
}

// Process binds the event to its owner, routes it and records it.
// An unbound device yields a ValidationError; any other error is transient.
func (e *Endpoint) Process(ctx context.Context, msg vitals.Message, event *vitals.TelemetryEvent) error {
	userID, err := e.binding.Lookup(ctx, event.DeviceID)
	switch {
	case errors.Is(err, vitals.ErrDeviceNotBound):
		vErr := &vitals.ValidationError{Reason: vitals.ReasonUnboundDevice, Err: err}
		e.reject(vErr, msg.ID)
		return vErr
	case err != nil:
		e.metrics.Increment(metrics.IngestRejected, map[string]string{metrics.ReasonLabel: vitals.ReasonBindingError})
		e.logger.Warn().Err(err).Str("device", string(event.DeviceID)).Msg("Binding lookup failed.")
		return fmt.Errorf("failed to resolve binding for device %s: %w", event.DeviceID, err)
	case userID == "":
		vErr := &vitals.ValidationError{Reason: vitals.ReasonUnboundDevice, Err: vitals.ErrDeviceNotBound}
		e.reject(vErr, msg.ID)
		return vErr
	}

	owned := *event
	owned.UserID = userID
	e.metrics.Increment(metrics.IngestAccepted, nil)

	if _, err := e.router.Route(owned); err != nil {
		e.logger.Error().Err(err).Str("device", string(owned.DeviceID)).Msg("Routing failed.")
	}

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, owned); err != nil {
			e.metrics.Increment(metrics.RecorderFailed, nil)
			e.logger.Warn().Err(err).Str("user", string(owned.UserID)).Msg("Failed to record telemetry.")
		}
	}
	return nil
}

// Ingest runs both stages for a single payload outside the worker pool.
func (e *Endpoint) Ingest(ctx context.Context, msg vitals.Message) error {
	event, skip, err := e.Transform(ctx, &msg)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	return e.Process(ctx, msg, event)
}

func (e *Endpoint) reject(err error, msgID string) {
	reason, ok := vitals.RejectionReason(err)
	if !ok {
		reason = vitals.ReasonMalformed
	}
	e.metrics.Increment(metrics.IngestRejected, map[string]string{metrics.ReasonLabel: reason})
	e.logger.Debug().Err(err).Str("msg_id", msgID).Str("reason", reason).Msg("Rejected telemetry.")
}

// DeviceShard is the StreamingService shard key: all events of one device
// go to the same worker.
func DeviceShard(event *vitals.TelemetryEvent) string {
	return string(event.DeviceID)
}
