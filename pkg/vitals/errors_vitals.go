package vitals

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken means the token is malformed, unsigned or fails a claim check.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the token was valid but is past its expiry.
	ErrExpiredToken = errors.New("expired token")
	// ErrAuthUnavailable means the identity provider could not be reached.
	ErrAuthUnavailable = errors.New("authentication unavailable")
	// ErrDeviceNotBound means the device is not paired with any user.
	ErrDeviceNotBound = errors.New("device not bound")
	// ErrMissingUserID is returned for an event that reached routing without an owner.
	ErrMissingUserID = errors.New("telemetry event has no user id")
	// ErrNoReading means the user has no stored reading yet.
	ErrNoReading = errors.New("no reading")
)

// Rejection reasons reported for invalid telemetry payloads.
const (
	ReasonMalformed     = "malformed"
	ReasonOutOfRange    = "out_of_range"
	ReasonMissingDevice = "missing_device"
	ReasonUnboundDevice = "unbound_device"
	ReasonBindingError  = "binding_error"
)

// ValidationError is returned when a payload cannot become a TelemetryEvent.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("telemetry rejected: %s", e.Reason)
	}
	return fmt.Sprintf("telemetry rejected: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RejectionReason returns the validation reason carried by err, if any.
func RejectionReason(err error) (string, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason, true
	}
	return "", false
}
