package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/google/uuid"
)

const (
	// DefaultTriggerLimit is the listing size when none is requested
	DefaultTriggerLimit = 50
	// MaxTriggerLimit caps the listing size
	MaxTriggerLimit = 200
)

// ListTriggers returns ledger entries most recent first.
// An empty userID lists every user's triggers.
func (e *Engine) ListTriggers(userID string, limit int) []models.AlertTrigger {
	if limit <= 0 {
		limit = DefaultTriggerLimit
	}
	if limit > MaxTriggerLimit {
		limit = MaxTriggerLimit
	}

	e.mu.RLock()
	out := make([]models.AlertTrigger, 0, len(e.triggered))
	for _, t := range e.triggered {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggerID < out[j].TriggerID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetTrigger returns a ledger entry by id
func (e *Engine) GetTrigger(triggerID string) (models.AlertTrigger, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.triggered[triggerID]
	if !ok {
		return models.AlertTrigger{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, triggerID)
	}
	return t, nil
}

// TestResult is the outcome of a dry-run rule evaluation
type TestResult struct {
	Rule         models.Rule           `json:"rule"`
	PropCount    int                   `json:"props_evaluated"`
	TriggerCount int                   `json:"triggers_generated"`
	Triggers     []models.AlertTrigger `json:"triggers"`
}

// DryRunConditions returns the conditions used when a test request omits them
func DryRunConditions(t models.RuleType) (models.Conditions, error) {
	c, err := models.DefaultConditions(t)
	if err != nil {
		return nil, err
	}
	if edge, ok := c.(models.EdgeEmergenceConditions); ok {
		edge.MinEdgePercentage = 8.0
		return edge, nil
	}
	return c, nil
}

// TestRule evaluates a rule once against live props, ignoring cooldown.
// Triggers are returned, never dispatched, and the rule is not stored.
// Edge detections made by the test are not remembered.
func (e *Engine) TestRule(ctx context.Context, rule models.Rule) (TestResult, error) {
	if rule.RuleID == "" {
		rule.RuleID = "test_" + uuid.New().String()
	}
	if rule.UserID == "" {
		rule.UserID = "test"
	}
	if rule.Conditions == nil && rule.RuleType.Valid() {
		c, err := DryRunConditions(rule.RuleType)
		if err != nil {
			return TestResult{}, err
		}
		rule.Conditions = c
	}
	rule.IsActive = true
	rule.CooldownMinutes = 0
	rule.LastTriggered = nil
	if rule.Priority == "" {
		rule.Priority = models.SeverityMedium
	}
	if err := rule.Validate(); err != nil {
		return TestResult{}, err
	}

	props, err := e.props.FetchProps(ctx)
	if err != nil {
		return TestResult{}, fmt.Errorf("fetch props: %w", err)
	}

	triggers, err := e.evaluator.Isolated().EvaluateRule(ctx, rule, props, e.now())
	if err != nil {
		return TestResult{}, err
	}
	if triggers == nil {
		triggers = []models.AlertTrigger{}
	}

	return TestResult{
		Rule:         rule,
		PropCount:    len(props),
		TriggerCount: len(triggers),
		Triggers:     triggers,
	}, nil
}
