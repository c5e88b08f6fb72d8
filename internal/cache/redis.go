package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a detection cache shared across alert-engine replicas
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis cache; keys are namespaced under "alert:cache:"
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		prefix: "alert:cache:",
	}
}

// Get returns the value stored under key
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cache key: %w", err)
	}
	return v, true, nil
}

// Set stores value under key for ttl
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}
