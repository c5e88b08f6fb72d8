package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dedup"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC)

func trigger(id, ruleID, propID string, at time.Time) models.AlertTrigger {
	return models.AlertTrigger{
		TriggerID:   id,
		RuleID:      ruleID,
		PropID:      propID,
		TriggerType: models.RuleTypeEVThreshold,
		TriggeredAt: at,
	}
}

func TestMemory_SuppressesWithinWindow(t *testing.T) {
	d := dedup.NewMemory(15 * time.Minute)
	ctx := context.Background()

	ok, err := d.Reserve(ctx, trigger("t1", "r1", "p1", base))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Reserve(ctx, trigger("t2", "r1", "p1", base.Add(14*time.Minute)))
	assert.False(t, ok, "same signature inside window is a duplicate")

	ok, _ = d.Reserve(ctx, trigger("t3", "r1", "p2", base.Add(time.Minute)))
	assert.True(t, ok, "different prop is a different signature")

	ok, _ = d.Reserve(ctx, trigger("t4", "r1", "p1", base.Add(15*time.Minute)))
	assert.True(t, ok, "window elapsed")
}

func TestMemory_SameTriggerTwiceIsDuplicate(t *testing.T) {
	d := dedup.NewMemory(15 * time.Minute)
	ctx := context.Background()
	tr := trigger("t1", "r1", "p1", base)

	ok, _ := d.Reserve(ctx, tr)
	assert.True(t, ok)
	ok, _ = d.Reserve(ctx, tr)
	assert.False(t, ok)
}

func TestMemory_ReleaseAndPurge(t *testing.T) {
	d := dedup.NewMemory(15 * time.Minute)
	ctx := context.Background()
	tr := trigger("t1", "r1", "p1", base)

	_, _ = d.Reserve(ctx, tr)
	require.NoError(t, d.Release(ctx, tr))

	ok, _ := d.Reserve(ctx, tr)
	assert.True(t, ok, "released signature can be reserved again")

	_, _ = d.Reserve(ctx, trigger("t2", "r2", "p1", base.Add(10*time.Minute)))

	size, _ := d.Size(ctx)
	assert.Equal(t, 2, size)

	removed, err := d.Purge(ctx, base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	size, _ = d.Size(ctx)
	assert.Equal(t, 1, size)
}

func TestRedis_ReserveRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := dedup.NewRedis(client, 15*time.Minute)
	ctx := context.Background()

	ok, err := d.Reserve(ctx, trigger("t1", "r1", "p1", base))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Reserve(ctx, trigger("t2", "r1", "p1", base.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok)

	// Release by a non-owner keeps the claim
	require.NoError(t, d.Release(ctx, trigger("t2", "r1", "p1", base)))
	size, err := d.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	require.NoError(t, d.Release(ctx, trigger("t1", "r1", "p1", base)))
	size, _ = d.Size(ctx)
	assert.Equal(t, 0, size)
}

func TestRedis_WindowExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := dedup.NewRedis(client, 15*time.Minute)
	ctx := context.Background()

	ok, _ := d.Reserve(ctx, trigger("t1", "r1", "p1", base))
	require.True(t, ok)

	mr.FastForward(15*time.Minute + time.Second)

	ok, err := d.Reserve(ctx, trigger("t2", "r1", "p1", base.Add(16*time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)
}
