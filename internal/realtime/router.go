package realtime

import (
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// Router fans an owned telemetry event out to the owner's live sessions.
type Router struct {
	registry *SessionRegistry
	metrics  vitals.MetricsSink
	strict   bool
	logger   zerolog.Logger
}

// NewRouter creates a Router over registry. A nil sink discards metrics.
func NewRouter(registry *SessionRegistry, sink vitals.MetricsSink, strict bool, logger zerolog.Logger) *Router {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Router{
		registry: registry,
		metrics:  sink,
		strict:   strict,
		logger:   logger.With().Str("component", "Router").Logger(),
	}
}

// Route enqueues event on every session of event.UserID and returns how many
// accepted it. Having no session is not an error; the event is dropped.
// It never blocks on a slow session.
func (r *Router) Route(event vitals.TelemetryEvent) (int, error) {
	if event.UserID == "" {
		r.metrics.Increment(metrics.RouteInvariant, nil)
		if r.strict {
			panic("realtime: routed telemetry event without user id")
		}
		r.logger.Error().Str("device", string(event.DeviceID)).Msg("Dropping telemetry event with no owner.")
		return 0, vitals.ErrMissingUserID
	}

	sessions := r.registry.SessionsFor(event.UserID)
	if len(sessions) == 0 {
		r.metrics.Increment(metrics.RouteNoViewer, nil)
		return 0, nil
	}

	delivered := 0
	for _, s := range sessions {
		switch s.Enqueue(event) {
		case Enqueued:
			delivered++
		case EnqueuedWithEviction:
			delivered++
			r.metrics.Increment(metrics.QueueEvicted, nil)
		case Rejected:
			// Session is closing; its registry entry is about to go.
		}
	}
	if delivered > 0 {
		r.metrics.Increment(metrics.RouteDelivered, nil)
	} else {
		r.metrics.Increment(metrics.RouteNoViewer, nil)
	}
	return delivered, nil
}
