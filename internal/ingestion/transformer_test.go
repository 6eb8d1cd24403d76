package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

var ingestTime = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func TestParseTelemetry_Accepted(t *testing.T) {
	testCases := []struct {
		name     string
		payload  string
		fallback string
		want     vitals.TelemetryEvent
	}{
		{
			name:    "canonical fields",
			payload: `{"device_id":"band-1","heart_rate":72,"spo2":98,"timestamp":"2024-05-01T12:00:00Z"}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-1", HeartRate: 72, SpO2: 98, Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		},
		{
			name:    "short aliases with unix millis",
			payload: `{"deviceId":"band-2","hr":64.5,"SpO2":95,"ts":1714564800000}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-2", HeartRate: 64.5, SpO2: 95, Timestamp: time.UnixMilli(1714564800000).UTC()},
		},
		{
			name:    "nested value objects with unix seconds",
			payload: `{"device":"band-3","heart_rate":{"value":80,"status":"normal"},"spo2":{"value":97},"time":1714564800}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-3", HeartRate: 80, SpO2: 97, Timestamp: time.Unix(1714564800, 0).UTC()},
		},
		{
			name:    "absent fields default",
			payload: `{"device_id":"band-4"}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-4", Timestamp: ingestTime},
		},
		{
			name:    "null fields read as absent",
			payload: `{"device_id":"band-5","heart_rate":null,"hr":70,"spo2":null}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-5", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:    "unparseable timestamp uses ingestion time",
			payload: `{"device_id":"band-6","hr":70,"timestamp":"yesterday"}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-6", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:    "timestamp past year 9999 uses ingestion time",
			payload: `{"device_id":"band-6","hr":70,"ts":1e300}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-6", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:    "last representable millisecond is kept",
			payload: `{"device_id":"band-6","hr":70,"ts":253402300799999}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-6", HeartRate: 70, Timestamp: time.UnixMilli(253402300799999).UTC()},
		},
		{
			name:    "user id in payload is ignored",
			payload: `{"device_id":"band-7","user_id":"mallory","hr":70}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-7", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:     "device from fallback",
			payload:  `{"hr":70}`,
			fallback: "band-8",
			want:     vitals.TelemetryEvent{DeviceID: "band-8", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:    "numeric device id",
			payload: `{"device_id":1234,"hr":70}`,
			want:    vitals.TelemetryEvent{DeviceID: "1234", HeartRate: 70, Timestamp: ingestTime},
		},
		{
			name:    "boundary values",
			payload: `{"device_id":"band-9","hr":300,"spo2":100}`,
			want:    vitals.TelemetryEvent{DeviceID: "band-9", HeartRate: 300, SpO2: 100, Timestamp: ingestTime},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTelemetry([]byte(tc.payload), tc.fallback, ingestTime)
			require.NoError(t, err)
			assert.Equal(t, tc.want.DeviceID, got.DeviceID)
			assert.Equal(t, tc.want.HeartRate, got.HeartRate)
			assert.Equal(t, tc.want.SpO2, got.SpO2)
			assert.True(t, tc.want.Timestamp.Equal(got.Timestamp), "timestamp: want %s, got %s", tc.want.Timestamp, got.Timestamp)
			assert.Empty(t, got.UserID)
		})
	}
}

func TestParseTelemetry_Rejected(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		reason  string
	}{
		{"not json", `hello`, vitals.ReasonMalformed},
		{"truncated json", `{"device_id":"band-1"`, vitals.ReasonMalformed},
		{"array", `[{"device_id":"band-1"}]`, vitals.ReasonMalformed},
		{"empty", ``, vitals.ReasonMalformed},
		{"string heart rate", `{"device_id":"band-1","heart_rate":"not-a-number"}`, vitals.ReasonMalformed},
		{"object without value", `{"device_id":"band-1","spo2":{"status":"ok"}}`, vitals.ReasonMalformed},
		{"missing device", `{"heart_rate":72}`, vitals.ReasonMissingDevice},
		{"blank device", `{"device_id":"  ","heart_rate":72}`, vitals.ReasonMissingDevice},
		{"negative heart rate", `{"device_id":"band-1","heart_rate":-1}`, vitals.ReasonOutOfRange},
		{"heart rate too high", `{"device_id":"band-1","heart_rate":301}`, vitals.ReasonOutOfRange},
		{"spo2 too high", `{"device_id":"band-1","spo2":100.5}`, vitals.ReasonOutOfRange},
		{"negative spo2", `{"device_id":"band-1","spo2":{"value":-3}}`, vitals.ReasonOutOfRange},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTelemetry([]byte(tc.payload), "", ingestTime)
			require.Error(t, err)
			reason, ok := vitals.RejectionReason(err)
			require.True(t, ok, "expected a ValidationError, got %v", err)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestTelemetryTransformer_UsesDeviceAttribute(t *testing.T) {
	transform := TelemetryTransformer(func() time.Time { return ingestTime })
	msg := &vitals.Message{
		ID:         "m1",
		Payload:    []byte(`{"hr":88}`),
		Attributes: map[string]string{DeviceAttribute: "band-topic"},
	}

	event, skip, err := transform(t.Context(), msg)
	require.NoError(t, err)
	require.False(t, skip)
	assert.Equal(t, vitals.DeviceID("band-topic"), event.DeviceID)
	assert.Equal(t, float64(88), event.HeartRate)
}
