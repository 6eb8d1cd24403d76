package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/store"
	"github.com/tinywideclouds/go-vitals-service/internal/test/fakes"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

type failingRecorder struct {
	err   error
	calls int
}

func (f *failingRecorder) Record(context.Context, vitals.TelemetryEvent) error {
	f.calls++
	return f.err
}

func TestMultiRecorder(t *testing.T) {
	ctx := context.Background()
	event := vitals.TelemetryEvent{DeviceID: "dev-1", UserID: "user-1", HeartRate: 60, SpO2: 97, Timestamp: time.Now()}

	t.Run("shared stores record once", func(t *testing.T) {
		mem := fakes.NewMemoryStore()
		rec := store.NewMultiRecorder(mem, nil, mem)
		require.Len(t, rec, 1)

		require.NoError(t, rec.Record(ctx, event))
		got, err := mem.Measurements(ctx, "user-1", vitals.MeasurementQuery{})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("non-comparable recorders are kept", func(t *testing.T) {
		calls := 0
		fn := recordFunc(func(context.Context, vitals.TelemetryEvent) error { calls++; return nil })
		rec := store.NewMultiRecorder(fn, fn)
		require.Len(t, rec, 2)

		require.NoError(t, rec.Record(ctx, event))
		assert.Equal(t, 2, calls)
	})

	t.Run("every recorder runs and failures are joined", func(t *testing.T) {
		errA, errB := errors.New("a"), errors.New("b")
		a, b := &failingRecorder{err: errA}, &failingRecorder{err: errB}
		mem := fakes.NewMemoryStore()

		err := store.NewMultiRecorder(a, mem, b).Record(ctx, event)
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errB)
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 1, b.calls)

		_, err = mem.Latest(ctx, "user-1")
		assert.NoError(t, err)
	})
}

type recordFunc func(context.Context, vitals.TelemetryEvent) error

func (f recordFunc) Record(ctx context.Context, event vitals.TelemetryEvent) error {
	return f(ctx, event)
}
