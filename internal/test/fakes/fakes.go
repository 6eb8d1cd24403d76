// Package fakes provides in-memory test doubles (fakes) for the service's
// dependencies. These are used by the local run mode and in integration tests.
package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// --- Identity ---

// StaticAuthenticator accepts a fixed set of tokens.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]vitals.UserID
	err    error
	delay  time.Duration
}

func NewStaticAuthenticator(tokens map[string]vitals.UserID) *StaticAuthenticator {
	copied := make(map[string]vitals.UserID, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &StaticAuthenticator{tokens: copied}
}

func (a *StaticAuthenticator) AddToken(token string, userID vitals.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = userID
}

// FailWith makes every subsequent Verify return err. Nil restores normal behaviour.
func (a *StaticAuthenticator) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// SetDelay makes Verify wait before answering.
func (a *StaticAuthenticator) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

func (a *StaticAuthenticator) Verify(ctx context.Context, token string) (vitals.UserID, error) {
	a.mu.RLock()
	delay, failure := a.delay, a.err
	userID, ok := a.tokens[token]
	a.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", vitals.ErrAuthUnavailable, ctx.Err())
		}
	}
	if failure != nil {
		return "", failure
	}
	if !ok {
		return "", vitals.ErrInvalidToken
	}
	return userID, nil
}

// --- Ownership ---

// StaticBinding is a mutable device to user map.
type StaticBinding struct {
	mu       sync.RWMutex
	bindings map[vitals.DeviceID]vitals.UserID
	err      error
}

func NewStaticBinding() *StaticBinding {
	return &StaticBinding{bindings: make(map[vitals.DeviceID]vitals.UserID)}
}

func (b *StaticBinding) Bind(deviceID vitals.DeviceID, userID vitals.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[deviceID] = userID
}

func (b *StaticBinding) Unbind(deviceID vitals.DeviceID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, deviceID)
}

// FailWith makes every subsequent Lookup return err. Nil restores normal behaviour.
func (b *StaticBinding) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *StaticBinding) Lookup(_ context.Context, deviceID vitals.DeviceID) (vitals.UserID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.err != nil {
		return "", b.err
	}
	userID, ok := b.bindings[deviceID]
	if !ok {
		return "", vitals.ErrDeviceNotBound
	}
	return userID, nil
}

// --- Storage ---

// MemoryStore keeps every recorded reading. It satisfies both
// vitals.LatestStore and vitals.MeasurementStore.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[vitals.UserID][]vitals.TelemetryEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[vitals.UserID][]vitals.TelemetryEvent)}
}

func (s *MemoryStore) Record(_ context.Context, event vitals.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[event.UserID] = append(s.byUser[event.UserID], event)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, userID vitals.UserID) (vitals.TelemetryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byUser[userID]
	if len(events) == 0 {
		return vitals.TelemetryEvent{}, vitals.ErrNoReading
	}
	latest := events[0]
	for _, e := range events[1:] {
		if !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}
	return latest, nil
}

func (s *MemoryStore) Measurements(_ context.Context, userID vitals.UserID, query vitals.MeasurementQuery) ([]vitals.TelemetryEvent, error) {
	s.mu.RLock()
	events := make([]vitals.TelemetryEvent, 0, len(s.byUser[userID]))
	for _, e := range s.byUser[userID] {
		if !query.Start.IsZero() && e.Timestamp.Before(query.Start) {
			continue
		}
		if !query.End.IsZero() && !e.Timestamp.Before(query.End) {
			continue
		}
		events = append(events, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if query.Limit > 0 && len(events) > query.Limit {
		events = events[:query.Limit]
	}
	return events, nil
}
