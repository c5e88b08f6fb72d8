package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the trailing window deliveries are counted over
const DefaultWindow = time.Hour

// Window counts deliveries per user over a trailing window in process memory
type Window struct {
	window     time.Duration
	deliveries map[string][]time.Time
	mu         sync.Mutex
}

// NewWindow creates an in-memory sliding window limiter
func NewWindow(window time.Duration) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Window{
		window:     window,
		deliveries: make(map[string][]time.Time),
	}
}

// Allow reports whether the user has fewer than limit deliveries in the window ending at now.
// A limit of zero or less disables limiting.
func (w *Window) Allow(ctx context.Context, userID string, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.prune(userID, now)) < limit, nil
}

// Record counts one delivery for the user at now
func (w *Window) Record(ctx context.Context, userID string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.deliveries[userID] = append(w.prune(userID, now), now)
	return nil
}

// Count returns the user's deliveries in the window ending at now
func (w *Window) Count(ctx context.Context, userID string, now time.Time) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prune(userID, now)), nil
}

// prune drops timestamps outside the window; callers hold mu
func (w *Window) prune(userID string, now time.Time) []time.Time {
	times := w.deliveries[userID]
	cutoff := now.Add(-w.window)

	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(w.deliveries, userID)
		return nil
	}
	w.deliveries[userID] = kept
	return kept
}
