// Package ingestion turns raw device payloads into owned telemetry events and
// hands them to the router.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// Accepted field names, first match wins.
var (
	deviceKeys    = []string{"device_id", "deviceId", "device"}
	heartRateKeys = []string{"heart_rate", "hr", "heartRate"}
	spo2Keys      = []string{"spo2", "SpO2", "oxygen"}
	timestampKeys = []string{"timestamp", "ts", "time"}
)

const (
	maxHeartRate = 300
	maxSpO2      = 100

	// Numeric timestamps above this are taken as unix milliseconds.
	unixMillisThreshold = 1e12
	// 9999-12-31T23:59:59.999Z in unix milliseconds. Anything later is unusable.
	maxUnixMillis = 253402300799999
)

// DeviceAttribute is the message attribute consulted when the payload has no device id.
const DeviceAttribute = "device_id"

var errNotObject = errors.New("payload is not a JSON object")

// ParseTelemetry validates payload and converts it to an event with no owner.
// fallbackDevice is used when the payload names no device. now stamps readings
// with a missing or unusable timestamp.
//
// Any user_id field in the payload is ignored; ownership comes from the device binding.
func ParseTelemetry(payload []byte, fallbackDevice string, now time.Time) (vitals.TelemetryEvent, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return vitals.TelemetryEvent{}, &vitals.ValidationError{Reason: vitals.ReasonMalformed, Err: err}
	}

	deviceID, err := parseDeviceID(fields, fallbackDevice)
	if err != nil {
		return vitals.TelemetryEvent{}, err
	}

	heartRate, err := parseMeasurement(fields, heartRateKeys, maxHeartRate)
	if err != nil {
		return vitals.TelemetryEvent{}, fmt.Errorf("heart rate: %w", err)
	}
	spo2, err := parseMeasurement(fields, spo2Keys, maxSpO2)
	if err != nil {
		return vitals.TelemetryEvent{}, fmt.Errorf("spo2: %w", err)
	}

	return vitals.TelemetryEvent{
		DeviceID:  deviceID,
		HeartRate: heartRate,
		SpO2:      spo2,
		Timestamp: parseTimestamp(fields, now),
	}, nil
}

// TelemetryTransformer adapts ParseTelemetry to the StreamingService
// Transformer stage. Invalid payloads are skipped with their ValidationError.
func TelemetryTransformer(now func() time.Time) Transformer[vitals.TelemetryEvent] {
	return func(_ context.Context, msg *vitals.Message) (*vitals.TelemetryEvent, bool, error) {
		event, err := ParseTelemetry(msg.Payload, msg.Attributes[DeviceAttribute], now())
		if err != nil {
			return nil, true, err
		}
		return &event, false, nil
	}
}

func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// lookup returns the first present, non-null field among keys.
func lookup(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		return raw, true
	}
	return nil, false
}

func parseDeviceID(fields map[string]json.RawMessage, fallback string) (vitals.DeviceID, error) {
	raw, ok := lookup(fields, deviceKeys)
	if !ok {
		if fallback = strings.TrimSpace(fallback); fallback != "" {
			return vitals.DeviceID(fallback), nil
		}
		return "", &vitals.ValidationError{Reason: vitals.ReasonMissingDevice}
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		// Some firmware sends numeric ids.
		var n json.Number
		if numErr := json.Unmarshal(raw, &n); numErr != nil {
			return "", &vitals.ValidationError{Reason: vitals.ReasonMalformed, Err: fmt.Errorf("device id: %w", err)}
		}
		id = n.String()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &vitals.ValidationError{Reason: vitals.ReasonMissingDevice}
	}
	return vitals.DeviceID(id), nil
}

// parseMeasurement reads a number or a {"value": number} object. An absent
// field reads as zero.
func parseMeasurement(fields map[string]json.RawMessage, keys []string, max float64) (float64, error) {
	raw, ok := lookup(fields, keys)
	if !ok {
		return 0, nil
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		var nested struct {
			Value *float64 `json:"value"`
		}
		if nestedErr := json.Unmarshal(raw, &nested); nestedErr != nil || nested.Value == nil {
			return 0, &vitals.ValidationError{Reason: vitals.ReasonMalformed, Err: err}
		}
		value = *nested.Value
	}

	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > max {
		return 0, &vitals.ValidationError{
			Reason: vitals.ReasonOutOfRange,
			Err:    fmt.Errorf("%v outside 0..%v", value, max),
		}
	}
	return value, nil
}

func parseTimestamp(fields map[string]json.RawMessage, now time.Time) time.Time {
	raw, ok := lookup(fields, timestampKeys)
	if !ok {
		return now.UTC()
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text)); err == nil {
			return ts.UTC()
		}
		return now.UTC()
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 || n > maxUnixMillis || math.IsInf(n, 0) {
		return now.UTC()
	}
	if n >= unixMillisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
