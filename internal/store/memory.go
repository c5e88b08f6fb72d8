package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// Memory implements every store interface in process memory.
// It backs the service when no database is configured.
type Memory struct {
	mu            sync.RWMutex
	rules         map[string]models.Rule
	preferences   map[string]models.UserDeliveryPreferences
	notifications []models.InAppNotification
	attempts      []models.DeliveryAttempt
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		rules:       make(map[string]models.Rule),
		preferences: make(map[string]models.UserDeliveryPreferences),
	}
}

// ListActiveRules returns active rules, oldest first
func (m *Memory) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]models.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.IsActive {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].RuleID < rules[j].RuleID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// SaveRule inserts or updates a rule
func (m *Memory) SaveRule(ctx context.Context, r models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.RuleID] = r
	return nil
}

// DeleteRule removes a rule
func (m *Memory) DeleteRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, ruleID)
	return nil
}

// UpdateLastTriggered records when a rule last fired
func (m *Memory) UpdateLastTriggered(ctx context.Context, ruleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rules[ruleID]; ok {
		r.LastTriggered = &at
		m.rules[ruleID] = r
	}
	return nil
}

// GetPreferences returns nil when the user has no stored preferences
func (m *Memory) GetPreferences(ctx context.Context, userID string) (*models.UserDeliveryPreferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefs, ok := m.preferences[userID]
	if !ok {
		return nil, nil
	}
	return &prefs, nil
}

// SavePreferences inserts or replaces a user's preferences
func (m *Memory) SavePreferences(ctx context.Context, prefs models.UserDeliveryPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[prefs.UserID] = prefs
	return nil
}

// SaveNotification stores an in-app notification
func (m *Memory) SaveNotification(ctx context.Context, n models.InAppNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

// ListNotifications returns the user's notifications, newest first
func (m *Memory) ListNotifications(ctx context.Context, userID string, limit int) ([]models.InAppNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.InAppNotification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID != userID {
			continue
		}
		out = append(out, m.notifications[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordAttempt appends a delivery attempt to the log
func (m *Memory) RecordAttempt(ctx context.Context, a models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

// ListAttempts returns the attempts for a trigger in attempt order
func (m *Memory) ListAttempts(ctx context.Context, triggerID string) ([]models.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DeliveryAttempt
	for _, a := range m.attempts {
		if a.AlertEventID == triggerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// PurgeAttempts deletes attempts older than before
func (m *Memory) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.attempts[:0]
	var removed int64
	for _, a := range m.attempts {
		if a.AttemptedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}
