package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/google/uuid"
)

// SyncRules reloads active rules from the store.
// A known rule keeps its newer last_triggered; rules absent from the store are dropped.
func (e *Engine) SyncRules(ctx context.Context) error {
	if e.store == nil {
		e.mu.Lock()
		e.loaded = true
		e.mu.Unlock()
		return nil
	}

	rules, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}

	next := make(map[string]models.Rule, len(rules))

	e.mu.Lock()
	for _, r := range rules {
		if cur, ok := e.rules[r.RuleID]; ok && cur.LastTriggered != nil {
			if r.LastTriggered == nil || cur.LastTriggered.After(*r.LastTriggered) {
				r.LastTriggered = cur.LastTriggered
			}
		}
		next[r.RuleID] = r
	}
	e.rules = next
	e.loaded = true
	e.mu.Unlock()

	e.log.Info().Int("rules", len(next)).Msg("synced active rules")
	return nil
}

// CreateRule validates, persists and activates a rule.
// Missing ids and creation times are filled in.
func (e *Engine) CreateRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = e.now().UTC()
	}
	if rule.Priority == "" {
		rule.Priority = models.SeverityMedium
	}
	if err := rule.Validate(); err != nil {
		return models.Rule{}, err
	}

	if err := e.saveRule(ctx, rule); err != nil {
		return models.Rule{}, err
	}
	return rule, nil
}

// UpdateRule replaces an existing rule, keeping its id, creation time and cooldown state
func (e *Engine) UpdateRule(ctx context.Context, ruleID string, rule models.Rule) (models.Rule, error) {
	cur, err := e.GetRule(ruleID)
	if err != nil {
		return models.Rule{}, err
	}

	rule.RuleID = cur.RuleID
	rule.CreatedAt = cur.CreatedAt
	if rule.LastTriggered == nil {
		rule.LastTriggered = cur.LastTriggered
	}
	if rule.Priority == "" {
		rule.Priority = cur.Priority
	}
	if err := rule.Validate(); err != nil {
		return models.Rule{}, err
	}

	if err := e.saveRule(ctx, rule); err != nil {
		return models.Rule{}, err
	}
	return rule, nil
}

func (e *Engine) saveRule(ctx context.Context, rule models.Rule) error {
	if e.store != nil {
		if err := e.store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("save rule: %w", err)
		}
	}

	e.mu.Lock()
	e.rules[rule.RuleID] = rule
	e.mu.Unlock()
	return nil
}

// DeleteRule removes a rule
func (e *Engine) DeleteRule(ctx context.Context, ruleID string) error {
	if _, err := e.GetRule(ruleID); err != nil {
		return err
	}

	if e.store != nil {
		if err := e.store.DeleteRule(ctx, ruleID); err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
	}

	e.mu.Lock()
	delete(e.rules, ruleID)
	e.mu.Unlock()
	return nil
}

// GetRule returns a rule by id
func (e *Engine) GetRule(ruleID string) (models.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rules[ruleID]
	if !ok {
		return models.Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return r, nil
}

// ListRules returns the engine's rules, optionally for one user, oldest first
func (e *Engine) ListRules(userID string) []models.Rule {
	e.mu.RLock()
	rules := make([]models.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if userID == "" || r.UserID == userID {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].RuleID < rules[j].RuleID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules
}
