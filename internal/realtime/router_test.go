package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

func TestRouter_NoViewerIsSilentDrop(t *testing.T) {
	sink := metrics.NewMemorySink()
	router := NewRouter(NewSessionRegistry(), sink, false, zerolog.Nop())

	delivered, err := router.Route(testEvent("d1", 72))
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, int64(1), sink.Count(metrics.RouteNoViewer))
}

func TestRouter_FansOutToEverySession(t *testing.T) {
	registry := NewSessionRegistry()
	sink := metrics.NewMemorySink()
	router := NewRouter(registry, sink, false, zerolog.Nop())

	a1 := authenticatedSession(t, "user-a", 4)
	a2 := authenticatedSession(t, "user-a", 4)
	b1 := authenticatedSession(t, "user-b", 4)
	registry.Register(a1)
	registry.Register(a2)
	registry.Register(b1)

	delivered, err := router.Route(testEvent("d1", 72))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, a1.Pending())
	assert.Equal(t, 1, a2.Pending())
	assert.Equal(t, 0, b1.Pending(), "events must never reach another user's session")
	assert.Equal(t, int64(1), sink.Count(metrics.RouteDelivered))
}

func TestRouter_SlowSessionDoesNotAffectOthers(t *testing.T) {
	registry := NewSessionRegistry()
	sink := metrics.NewMemorySink()
	router := NewRouter(registry, sink, false, zerolog.Nop())

	slow := authenticatedSession(t, "user-a", 2)
	fast := authenticatedSession(t, "user-a", 16)
	registry.Register(slow)
	registry.Register(fast)

	for i := 0; i < 10; i++ {
		delivered, err := router.Route(testEvent("d1", float64(i)))
		require.NoError(t, err)
		assert.Equal(t, 2, delivered)
	}

	assert.Equal(t, 2, slow.Pending())
	assert.Equal(t, 10, fast.Pending())
	assert.Equal(t, int64(8), sink.Count(metrics.QueueEvicted))

	ev, ok := slow.queue.pop()
	require.True(t, ok)
	assert.Equal(t, float64(8), ev.HeartRate, "the slow session should keep only the newest readings")
}

func TestRouter_ClosedSessionNotCounted(t *testing.T) {
	registry := NewSessionRegistry()
	router := NewRouter(registry, metrics.Nop{}, false, zerolog.Nop())

	s := authenticatedSession(t, "user-a", 4)
	registry.Register(s)
	s.Close(CloseClientGone)

	delivered, err := router.Route(testEvent("d1", 72))
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestRouter_MissingUserID(t *testing.T) {
	event := testEvent("d1", 72)
	event.UserID = ""

	t.Run("lenient", func(t *testing.T) {
		sink := metrics.NewMemorySink()
		router := NewRouter(NewSessionRegistry(), sink, false, zerolog.Nop())

		_, err := router.Route(event)
		assert.ErrorIs(t, err, vitals.ErrMissingUserID)
		assert.Equal(t, int64(1), sink.Count(metrics.RouteInvariant))
	})

	t.Run("strict", func(t *testing.T) {
		router := NewRouter(NewSessionRegistry(), nil, true, zerolog.Nop())
		assert.Panics(t, func() { _, _ = router.Route(event) })
	})
}
