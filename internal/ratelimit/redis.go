package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow counts deliveries per user in a Redis sorted set scored by delivery time
type RedisWindow struct {
	client *redis.Client
	window time.Duration
}

// NewRedisWindow creates a sliding window limiter shared across replicas
func NewRedisWindow(client *redis.Client, window time.Duration) *RedisWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisWindow{client: client, window: window}
}

func (r *RedisWindow) key(userID string) string {
	return fmt.Sprintf("alert:ratelimit:%s", userID)
}

// Allow reports whether the user has fewer than limit deliveries in the window ending at now.
// A limit of zero or less disables limiting.
func (r *RedisWindow) Allow(ctx context.Context, userID string, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	count, err := r.Count(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return count < limit, nil
}

// Record counts one delivery for the user at now
func (r *RedisWindow) Record(ctx context.Context, userID string, now time.Time) error {
	key := r.key(userID)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Count trims entries outside the window and returns the remaining count
func (r *RedisWindow) Count(ctx context.Context, userID string, now time.Time) (int, error) {
	key := r.key(userID)
	cutoff := strconv.FormatInt(now.Add(-r.window).UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return int(card.Val()), nil
}
