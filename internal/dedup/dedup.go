package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// DefaultWindow is how long an identical trigger signature is suppressed
const DefaultWindow = 15 * time.Minute

// Memory deduplicates triggers by (rule_id, prop_id, trigger_type) within a window
type Memory struct {
	window time.Duration
	seen   map[string]time.Time // signature -> triggered_at of the accepted trigger
	mu     sync.Mutex
}

// NewMemory creates an in-process deduplicator
func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Reserve records the trigger's signature and returns true if no identical
// signature was accepted within the window before it
func (m *Memory) Reserve(ctx context.Context, trigger models.AlertTrigger) (bool, error) {
	sig := trigger.Signature()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.seen[sig]; ok && trigger.TriggeredAt.Sub(last) < m.window {
		return false, nil
	}

	m.seen[sig] = trigger.TriggeredAt
	return true, nil
}

// Release forgets a reservation so the signature may fire again
func (m *Memory) Release(ctx context.Context, trigger models.AlertTrigger) error {
	sig := trigger.Signature()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.seen[sig]; ok && last.Equal(trigger.TriggeredAt) {
		delete(m.seen, sig)
	}
	return nil
}

// Purge drops entries older than the window and returns how many were removed
func (m *Memory) Purge(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for sig, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, sig)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of tracked signatures
func (m *Memory) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}
