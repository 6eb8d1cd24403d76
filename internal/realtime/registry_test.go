package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// authenticatedSession builds a session with no dispatcher, bound to userID.
func authenticatedSession(t *testing.T, userID vitals.UserID, capacity int) *Session {
	t.Helper()
	s := newSession(newFakeConn(), Config{QueueCapacity: capacity}.withDefaults(), metrics.Nop{}, zerolog.Nop(), nil)
	if !s.markAuthenticated(userID) {
		t.Errorf("session for %s failed to authenticate", userID)
	}
	return s
}

func TestSessionRegistry_RegisterUnregister(t *testing.T) {
	r := NewSessionRegistry()
	a1 := authenticatedSession(t, "user-a", 4)
	a2 := authenticatedSession(t, "user-a", 4)
	b1 := authenticatedSession(t, "user-b", 4)

	r.Register(a1)
	r.Register(a2)
	r.Register(b1)
	r.Register(a1)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.Users())
	assert.ElementsMatch(t, []*Session{a1, a2}, r.SessionsFor("user-a"))

	r.Unregister(a1)
	r.Unregister(a1)
	assert.Equal(t, []*Session{a2}, r.SessionsFor("user-a"))

	r.Unregister(a2)
	assert.Empty(t, r.SessionsFor("user-a"))
	assert.Equal(t, 1, r.Users(), "a user with no sessions should not be tracked")
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_IgnoresUnauthenticated(t *testing.T) {
	r := NewSessionRegistry()
	s := newSession(newFakeConn(), Config{}.withDefaults(), metrics.Nop{}, zerolog.Nop(), nil)

	r.Register(s)
	r.Unregister(s)
	assert.Equal(t, 0, r.Len())
}

func TestSessionRegistry_SnapshotIsolation(t *testing.T) {
	r := NewSessionRegistry()
	a1 := authenticatedSession(t, "user-a", 4)
	r.Register(a1)

	snapshot := r.SessionsFor("user-a")
	r.Unregister(a1)
	r.Register(authenticatedSession(t, "user-a", 4))

	require.Len(t, snapshot, 1)
	assert.Equal(t, a1.ID(), snapshot[0].ID())
}

func TestSessionRegistry_ConcurrentAccess(t *testing.T) {
	r := NewSessionRegistry()
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			userID := vitals.UserID(fmt.Sprintf("user-%d", w%4))
			for i := 0; i < perWorker; i++ {
				s := authenticatedSession(t, userID, 1)
				r.Register(s)
				_ = r.SessionsFor(userID)
				r.Unregister(s)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Users())
}
