package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/response"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

const (
	// One reading per second for a whole day.
	maxDailyReadings = 24 * 60 * 60

	heartRateLow  = 60
	heartRateHigh = 100
	spo2Low       = 95

	statusNormal = "normal"
	statusLow    = "low"
	statusHigh   = "high"
)

// Stats aggregates one measurement over a day. Measurements counts the
// readings that carried it.
type Stats struct {
	Avg          float64 `json:"avg"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Measurements int     `json:"measurements"`
}

// HeartRateStats adds the resting rate: the mean of the lowest tenth of the
// day's heart-rate readings.
type HeartRateStats struct {
	Stats
	RestingHR float64 `json:"resting_hr"`
}

// DailySummary is the body of a summary response. A measurement with no
// readings that day is omitted.
type DailySummary struct {
	UserID    string          `json:"user_id"`
	Date      string          `json:"date"`
	HeartRate *HeartRateStats `json:"heart_rate,omitempty"`
	SpO2      *Stats          `json:"spo2,omitempty"`
}

// StatusValue is a measurement classified against its normal range.
type StatusValue struct {
	Value  float64 `json:"value"`
	Status string  `json:"status"`
}

type HealthDataPoint struct {
	DeviceID  string       `json:"device_id"`
	Timestamp string       `json:"timestamp"`
	HeartRate *StatusValue `json:"heart_rate,omitempty"`
	SpO2      *StatusValue `json:"spo2,omitempty"`
}

// HealthRecord is every reading of one day, newest first.
type HealthRecord struct {
	UserID string            `json:"user_id"`
	Date   string            `json:"date"`
	Data   []HealthDataPoint `json:"data"`
}

// SummaryHandler returns the caller's heart-rate and SpO2 statistics for
// ?date=YYYY-MM-DD (UTC), defaulting to today.
func (a *API) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, day, events, ok := a.loadDay(w, r, "SummaryHandler")
	if !ok {
		return
	}
	response.WriteJSON(w, http.StatusOK, summarize(userID, day, events))
}

// HealthRecordHandler returns the caller's readings for ?date=YYYY-MM-DD
// (UTC), each classified as low, normal or high.
func (a *API) HealthRecordHandler(w http.ResponseWriter, r *http.Request) {
	userID, day, events, ok := a.loadDay(w, r, "HealthRecordHandler")
	if !ok {
		return
	}

	record := HealthRecord{
		UserID: string(userID),
		Date:   day.Format(time.DateOnly),
		Data:   make([]HealthDataPoint, 0, len(events)),
	}
	for _, e := range events {
		point := HealthDataPoint{
			DeviceID:  string(e.DeviceID),
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if e.HeartRate > 0 {
			point.HeartRate = &StatusValue{Value: e.HeartRate, Status: classify(e.HeartRate, heartRateLow, heartRateHigh)}
		}
		if e.SpO2 > 0 {
			point.SpO2 = &StatusValue{Value: e.SpO2, Status: classify(e.SpO2, spo2Low, 0)}
		}
		record.Data = append(record.Data, point)
	}
	response.WriteJSON(w, http.StatusOK, record)
}

// loadDay authenticates the caller and loads their readings for the requested
// day. It writes the error response itself and reports false on failure.
func (a *API) loadDay(w http.ResponseWriter, r *http.Request, handler string) (vitals.UserID, time.Time, []vitals.TelemetryEvent, bool) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		a.logger.Warn().Str("handler", handler).Msg("No user ID in context")
		response.WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
		return "", time.Time{}, nil, false
	}
	if a.measurements == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "measurement history is not recorded")
		return "", time.Time{}, nil, false
	}

	day := a.now().UTC().Truncate(24 * time.Hour)
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse(time.DateOnly, dateStr)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid 'date' parameter, expected YYYY-MM-DD")
			return "", time.Time{}, nil, false
		}
		day = parsed
	}

	events, err := a.measurements.Measurements(r.Context(), userID, vitals.MeasurementQuery{
		Start: day,
		End:   day.AddDate(0, 0, 1),
		Limit: maxDailyReadings,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("user", string(userID)).Str("handler", handler).Msg("Failed to load measurements for day")
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to load measurements")
		return "", time.Time{}, nil, false
	}
	return userID, day, events, true
}

// summarize ignores zero values, which stand for a measurement the device did
// not send.
func summarize(userID vitals.UserID, day time.Time, events []vitals.TelemetryEvent) DailySummary {
	summary := DailySummary{UserID: string(userID), Date: day.Format(time.DateOnly)}

	var heartRates, spo2 []float64
	for _, e := range events {
		if e.HeartRate > 0 {
			heartRates = append(heartRates, e.HeartRate)
		}
		if e.SpO2 > 0 {
			spo2 = append(spo2, e.SpO2)
		}
	}

	if len(heartRates) > 0 {
		slices.Sort(heartRates)
		lowest := heartRates[:max(1, len(heartRates)/10)]
		summary.HeartRate = &HeartRateStats{Stats: stats(heartRates), RestingHR: mean(lowest)}
	}
	if len(spo2) > 0 {
		slices.Sort(spo2)
		s := stats(spo2)
		summary.SpO2 = &s
	}
	return summary
}

// stats expects sorted, non-empty values.
func stats(sorted []float64) Stats {
	return Stats{
		Avg:          mean(sorted),
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Measurements: len(sorted),
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// classify treats a zero high bound as no upper limit.
func classify(value, low, high float64) string {
	switch {
	case value < low:
		return statusLow
	case high > 0 && value > high:
		return statusHigh
	default:
		return statusNormal
	}
}
