package store

import (
	"context"
	"errors"
	"reflect"

	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// MultiRecorder fans a reading out to several recorders. Every recorder is
// attempted; the failures are joined.
type MultiRecorder []vitals.Recorder

// NewMultiRecorder drops nil recorders and de-duplicates recorders that are
// the same value, so one store serving two roles records each reading once.
func NewMultiRecorder(recorders ...vitals.Recorder) MultiRecorder {
	out := make(MultiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r == nil || contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m MultiRecorder) Record(ctx context.Context, event vitals.TelemetryEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func contains(recorders MultiRecorder, r vitals.Recorder) bool {
	if !reflect.TypeOf(r).Comparable() {
		return false
	}
	for _, existing := range recorders {
		if existing == r {
			return true
		}
	}
	return false
}
