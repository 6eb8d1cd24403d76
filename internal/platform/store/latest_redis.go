// Package store persists routed readings for the HTTP query surface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisLatestStore keeps the most recent reading per user as a JSON string
// under `latest:{user}`. Later writes win.
type RedisLatestStore struct {
	client redisClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLatestStore is the constructor for the RedisLatestStore. A zero ttl
// keeps readings until overwritten.
func NewRedisLatestStore(client redisClient, ttl time.Duration, logger zerolog.Logger) (*RedisLatestStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisLatestStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "RedisLatestStore").Logger(),
	}, nil
}

func (s *RedisLatestStore) Record(ctx context.Context, event vitals.TelemetryEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal latest reading: %w", err)
	}
	key := latestKey(event.UserID)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to store latest reading.")
		return fmt.Errorf("failed to set latest reading: %w", err)
	}
	return nil
}

func (s *RedisLatestStore) Latest(ctx context.Context, userID vitals.UserID) (vitals.TelemetryEvent, error) {
	payload, err := s.client.Get(ctx, latestKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return vitals.TelemetryEvent{}, vitals.ErrNoReading
	}
	if err != nil {
		return vitals.TelemetryEvent{}, fmt.Errorf("failed to get latest reading: %w", err)
	}

	var event vitals.TelemetryEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return vitals.TelemetryEvent{}, fmt.Errorf("failed to unmarshal latest reading: %w", err)
	}
	return event, nil
}

func latestKey(userID vitals.UserID) string {
	return fmt.Sprintf("latest:%s", userID)
}
