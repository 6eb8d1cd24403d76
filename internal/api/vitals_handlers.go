// Package api defines the REST handlers of the vitals service: the HTTP
// telemetry intake and the latest-reading and measurement history queries.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/internal/ingestion"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/response"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

const (
	defaultMeasurementLimit = 100
	maxMeasurementLimit     = 1000
	maxTelemetryBytes       = 64 << 10
)

// Reading is the REST representation of a telemetry event.
type Reading struct {
	DeviceID  string  `json:"device_id"`
	HeartRate float64 `json:"heart_rate"`
	SpO2      float64 `json:"spo2"`
	Timestamp string  `json:"timestamp"`
}

// MeasurementList is the body of a measurement history response.
type MeasurementList struct {
	Measurements []Reading `json:"measurements"`
	Count        int       `json:"count"`
}

// API holds the dependencies for the stateless HTTP handlers. Either store
// may be nil, in which case its query answers 501.
type API struct {
	producer     vitals.IngestionProducer
	binding      vitals.DeviceBinding
	latest       vitals.LatestStore
	measurements vitals.MeasurementStore
	logger       zerolog.Logger
	now          func() time.Time
}

// NewAPI creates a new, stateless API handler.
func NewAPI(
	producer vitals.IngestionProducer,
	binding vitals.DeviceBinding,
	latest vitals.LatestStore,
	measurements vitals.MeasurementStore,
	logger zerolog.Logger,
) *API {
	return &API{
		producer:     producer,
		binding:      binding,
		latest:       latest,
		measurements: measurements,
		logger:       logger,
		now:          time.Now,
	}
}

// TelemetryHandler accepts a device payload and publishes it to the ingestion
// pipeline. Payloads that could never be routed are rejected up front, as are
// payloads for a device that is not bound to the caller.
func (a *API) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn().Msg("TelemetryHandler: No user ID in context")
		response.WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	log := a.logger.With().Str("user", string(userID)).Logger()

	if a.producer == nil || a.binding == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "http ingestion is disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		log.Warn().Err(err).Msg("Failed to read request body")
		response.WriteJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := ingestion.ParseTelemetry(body, "", a.now())
	if err != nil {
		reason, _ := vitals.RejectionReason(err)
		log.Debug().Err(err).Str("reason", reason).Msg("Rejected telemetry payload")
		response.WriteJSONError(w, http.StatusBadRequest, "invalid telemetry: "+reason)
		return
	}

	owner, err := a.binding.Lookup(r.Context(), event.DeviceID)
	if errors.Is(err, vitals.ErrDeviceNotBound) || (err == nil && owner != userID) {
		log.Warn().Str("device", string(event.DeviceID)).Msg("Rejected telemetry for a device not bound to the caller")
		response.WriteJSONError(w, http.StatusForbidden, "device not bound to caller")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("device", string(event.DeviceID)).Msg("Failed to resolve device binding")
		response.WriteJSONError(w, http.StatusServiceUnavailable, "device binding unavailable")
		return
	}

	if err := a.producer.Publish(r.Context(), body); err != nil {
		log.Error().Err(err).Msg("Failed to publish telemetry to ingestion topic")
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to accept telemetry")
		return
	}

	log.Debug().Msg("Telemetry accepted for ingestion")
	response.WriteJSON(w, http.StatusAccepted, nil)
}

// LatestHandler returns the most recent reading of the authenticated user.
func (a *API) LatestHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn().Msg("LatestHandler: No user ID in context")
		response.WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	if a.latest == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "latest readings are not recorded")
		return
	}

	event, err := a.latest.Latest(r.Context(), userID)
	if errors.Is(err, vitals.ErrNoReading) {
		response.WriteJSONError(w, http.StatusNotFound, "no reading recorded")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("user", string(userID)).Msg("Failed to load latest reading")
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to load latest reading")
		return
	}
	response.WriteJSON(w, http.StatusOK, toReading(event))
}

// MeasurementsHandler returns the reading history of the authenticated user,
// newest first. start_date and end_date take RFC 3339 times or YYYY-MM-DD
// dates; end_date is exclusive.
func (a *API) MeasurementsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn().Msg("MeasurementsHandler: No user ID in context")
		response.WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return
	}
	if a.measurements == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "measurement history is not recorded")
		return
	}

	query, msg := parseMeasurementQuery(r)
	if msg != "" {
		response.WriteJSONError(w, http.StatusBadRequest, msg)
		return
	}

	events, err := a.measurements.Measurements(r.Context(), userID, query)
	if err != nil {
		a.logger.Error().Err(err).Str("user", string(userID)).Msg("Failed to load measurements")
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to load measurements")
		return
	}

	list := MeasurementList{Measurements: make([]Reading, 0, len(events)), Count: len(events)}
	for _, e := range events {
		list.Measurements = append(list.Measurements, toReading(e))
	}
	a.logger.Debug().Str("user", string(userID)).Int("count", list.Count).Msg("Served measurements")
	response.WriteJSON(w, http.StatusOK, list)
}

func parseMeasurementQuery(r *http.Request) (vitals.MeasurementQuery, string) {
	q := r.URL.Query()
	query := vitals.MeasurementQuery{Limit: defaultMeasurementLimit}

	if limitStr := q.Get("limit"); limitStr != "" {
		val, err := strconv.Atoi(limitStr)
		if err != nil || val < 1 {
			return query, "invalid 'limit' parameter, must be a positive integer"
		}
		query.Limit = min(val, maxMeasurementLimit)
	}

	var err error
	if query.Start, err = parseDate(q.Get("start_date")); err != nil {
		return query, "invalid 'start_date' parameter"
	}
	if query.End, err = parseDate(q.Get("end_date")); err != nil {
		return query, "invalid 'end_date' parameter"
	}
	if !query.Start.IsZero() && !query.End.IsZero() && !query.Start.Before(query.End) {
		return query, "'start_date' must be before 'end_date'"
	}
	return query, ""
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, value)
}

func toReading(e vitals.TelemetryEvent) Reading {
	return Reading{
		DeviceID:  string(e.DeviceID),
		HeartRate: e.HeartRate,
		SpO2:      e.SpO2,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
