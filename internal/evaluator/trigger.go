package evaluator

import (
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// triggerSpec carries the per-type fields of a new trigger
type triggerSpec struct {
	propID   string
	prop     *models.PropRecord
	severity models.Severity
	title    string
	message  string
	data     map[string]interface{}
	ttl      time.Duration
}

func newTrigger(rule models.Rule, ts triggerSpec, now time.Time) models.AlertTrigger {
	expires := now.Add(ts.ttl)

	var prop *models.PropRecord
	if ts.prop != nil {
		p := *ts.prop
		prop = &p
	}

	return models.AlertTrigger{
		TriggerID:   models.NewTriggerID(rule.RuleID, ts.propID, rule.RuleType, now),
		RuleID:      rule.RuleID,
		UserID:      rule.UserID,
		PropID:      ts.propID,
		Prop:        prop,
		TriggerType: rule.RuleType,
		Severity:    ts.severity,
		Title:       ts.title,
		Message:     ts.message,
		Data:        ts.data,
		TriggeredAt: now,
		ExpiresAt:   &expires,
	}
}

// describeProp renders "Player Market" for messages
func describeProp(p models.PropRecord) string {
	return fmt.Sprintf("%s %s", p.PlayerName, p.Market)
}

func conditionsAs[T models.Conditions](rule models.Rule) (T, error) {
	c, ok := rule.Conditions.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: rule %s has %T conditions", models.ErrInvalidRule, rule.RuleID, rule.Conditions)
	}
	return c, nil
}
