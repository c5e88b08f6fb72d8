package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/cache"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	var c contracts.DetectionCache = cache.NewMemory(time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "edge_detected:r1:p1:dk")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "edge_detected:r1:p1:dk", "x", time.Hour))

	v, ok, err := c.Get(ctx, "edge_detected:r1:p1:dk")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestMemory_Expires(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_SetGetExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var c contracts.DetectionCache = cache.NewRedis(client)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", 6*time.Hour))
	assert.True(t, mr.Exists("alert:cache:k"))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	mr.FastForward(6*time.Hour + time.Second)

	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Error(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := cache.NewRedis(client)
	mr.SetError("LOADING")

	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}
