package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "alert:dedup:"

// Redis deduplicates triggers across replicas using SET NX with the window as TTL
type Redis struct {
	client *redis.Client
	window time.Duration
}

// NewRedis creates a Redis-backed deduplicator
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, window: window}
}

// Reserve atomically claims the trigger's signature for the window
func (r *Redis) Reserve(ctx context.Context, trigger models.AlertTrigger) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.generateDedupKey(trigger), trigger.TriggerID, r.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	return ok, nil
}

// Release removes the claim if it is still held by this trigger
func (r *Redis) Release(ctx context.Context, trigger models.AlertTrigger) error {
	key := r.generateDedupKey(trigger)

	owner, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dedup key: %w", err)
	}
	if owner != trigger.TriggerID {
		return nil
	}
	return r.client.Del(ctx, key).Err()
}

// Purge is a no-op; Redis expires keys on its own
func (r *Redis) Purge(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Size counts live dedup keys
func (r *Redis) Size(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan dedup keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// generateDedupKey creates a key for a trigger signature.
// Format: alert:dedup:{rule_id}:{hash of prop_id and type}
func (r *Redis) generateDedupKey(trigger models.AlertTrigger) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", trigger.PropID, trigger.TriggerType)))
	return fmt.Sprintf("%s%s:%x", redisKeyPrefix, trigger.RuleID, hash[:8])
}
