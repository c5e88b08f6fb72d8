package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// AlertTrigger is one firing of a rule against current prop data
type AlertTrigger struct {
	TriggerID   string                 `json:"trigger_id"`
	RuleID      string                 `json:"rule_id"`
	UserID      string                 `json:"user_id"`
	PropID      string                 `json:"prop_id"`
	Prop        *PropRecord            `json:"prop,omitempty"`
	TriggerType RuleType               `json:"trigger_type"`
	Severity    Severity               `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data"`
	TriggeredAt time.Time              `json:"triggered_at"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
}

// NewTriggerID derives a stable trigger id from its rule, prop, type and timestamp
func NewTriggerID(ruleID, propID string, triggerType RuleType, at time.Time) string {
	raw := fmt.Sprintf("%s:%s:%s:%d", ruleID, propID, triggerType, at.UnixNano())
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", hash[:16])
}

// Signature is the deduplication key of the trigger
func (t AlertTrigger) Signature() string {
	return fmt.Sprintf("%s:%s:%s", t.RuleID, t.PropID, t.TriggerType)
}

// Expired reports whether the trigger is past its expiry at now
func (t AlertTrigger) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
