package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// DefaultCacheTTL bounds how long a rebinding can go unnoticed.
const DefaultCacheTTL = 30 * time.Second

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedBinding is a read-through Redis cache in front of another
// DeviceBinding. Only positive results are cached, so a newly paired device
// is routed on its next reading. Redis failures fall through to the source.
type CachedBinding struct {
	next   vitals.DeviceBinding
	client redisClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedBinding(next vitals.DeviceBinding, client redisClient, ttl time.Duration, logger zerolog.Logger) (*CachedBinding, error) {
	if next == nil {
		return nil, fmt.Errorf("source binding cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedBinding{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "CachedBinding").Logger(),
	}, nil
}

func (c *CachedBinding) Lookup(ctx context.Context, deviceID vitals.DeviceID) (vitals.UserID, error) {
	key := bindingKey(deviceID)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && cached != "":
		return vitals.UserID(cached), nil
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("Binding cache read failed, using source.")
	}

	userID, err := c.next.Lookup(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, key, string(userID), c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Binding cache write failed.")
	}
	return userID, nil
}

func bindingKey(deviceID vitals.DeviceID) string {
	return fmt.Sprintf("binding:%s", deviceID)
}
