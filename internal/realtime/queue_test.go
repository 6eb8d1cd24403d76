package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

func testEvent(device string, hr float64) vitals.TelemetryEvent {
	return vitals.TelemetryEvent{
		DeviceID:  vitals.DeviceID(device),
		UserID:    "user-a",
		HeartRate: hr,
		SpO2:      97,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOutboundQueue_FIFO(t *testing.T) {
	q := newOutboundQueue(4)
	for i := 0; i < 3; i++ {
		accepted, evicted := q.push(testEvent("d1", float64(60+i)))
		require.True(t, accepted)
		require.False(t, evicted)
	}

	for i := 0; i < 3; i++ {
		ev, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, float64(60+i), ev.HeartRate)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestOutboundQueue_EvictsOldest(t *testing.T) {
	q := newOutboundQueue(3)
	var evictions int
	for i := 0; i < 10; i++ {
		_, evicted := q.push(testEvent("d1", float64(i)))
		if evicted {
			evictions++
		}
	}
	assert.Equal(t, 7, evictions)
	assert.Equal(t, 3, q.len())

	var got []float64
	for {
		ev, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, ev.HeartRate)
	}
	assert.Equal(t, []float64{7, 8, 9}, got, "only the newest events should survive")
}

func TestOutboundQueue_WrapAround(t *testing.T) {
	q := newOutboundQueue(3)
	for round := 0; round < 5; round++ {
		for i := 0; i < 2; i++ {
			q.push(testEvent(fmt.Sprintf("d%d", round), float64(round*10+i)))
		}
		for i := 0; i < 2; i++ {
			ev, ok := q.pop()
			require.True(t, ok)
			assert.Equal(t, float64(round*10+i), ev.HeartRate)
		}
	}
}

func TestOutboundQueue_CloseRejectsAndDrops(t *testing.T) {
	q := newOutboundQueue(4)
	q.push(testEvent("d1", 60))
	q.push(testEvent("d1", 61))

	assert.Equal(t, 2, q.close())
	assert.Equal(t, 0, q.len())

	accepted, _ := q.push(testEvent("d1", 62))
	assert.False(t, accepted)
}

func TestOutboundQueue_ReadySignal(t *testing.T) {
	q := newOutboundQueue(4)
	q.push(testEvent("d1", 60))
	q.push(testEvent("d1", 61))

	select {
	case <-q.ready():
	default:
		t.Fatal("expected a ready signal after push")
	}
	select {
	case <-q.ready():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestOutboundQueue_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueCapacity, newOutboundQueue(0).capacity())
}
