package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process detection cache backed by go-cache
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an in-memory cache that sweeps expired keys every cleanupInterval
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{
		items: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Get returns the value stored under key
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

// Set stores value under key for ttl
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.items.Set(key, value, ttl)
	return nil
}

// Len returns the number of stored keys, including expired keys not yet swept
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
