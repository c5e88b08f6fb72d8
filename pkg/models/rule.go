package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RuleType identifies the evaluation logic a rule subscribes to
type RuleType string

const (
	RuleTypeEVThreshold    RuleType = "EV_THRESHOLD"
	RuleTypeLineMovement   RuleType = "LINE_MOVEMENT"
	RuleTypeEdgeEmergence  RuleType = "EDGE_EMERGENCE"
	RuleTypeSteamDetection RuleType = "STEAM_DETECTION"
	RuleTypeArbitrage      RuleType = "ARBITRAGE_OPPORTUNITY"
)

// RuleTypes lists every supported rule type in display order
var RuleTypes = []RuleType{
	RuleTypeEVThreshold,
	RuleTypeLineMovement,
	RuleTypeEdgeEmergence,
	RuleTypeSteamDetection,
	RuleTypeArbitrage,
}

var ruleTypeDescriptions = map[RuleType]string{
	RuleTypeEVThreshold:    "Alert when a prop's expected value and model confidence clear the configured minimums",
	RuleTypeLineMovement:   "Alert when a line moves at least the threshold over the 1h, 6h or 24h window",
	RuleTypeEdgeEmergence:  "Alert once when a new edge appears on a prop at a sportsbook",
	RuleTypeSteamDetection: "Alert on synchronized line movement across multiple sportsbooks",
	RuleTypeArbitrage:      "Alert when the best over and under prices across books guarantee a profit",
}

// Description returns a human readable summary of the rule type
func (t RuleType) Description() string {
	return ruleTypeDescriptions[t]
}

// Valid reports whether t is a supported rule type
func (t RuleType) Valid() bool {
	_, ok := ruleTypeDescriptions[t]
	return ok
}

var (
	// ErrInvalidRule is returned when a rule fails validation
	ErrInvalidRule = errors.New("invalid rule")
	// ErrUnknownRuleType is returned for rule types the engine cannot evaluate
	ErrUnknownRuleType = errors.New("unknown rule type")
)

// Rule is a user's subscription to a condition type
type Rule struct {
	RuleID          string     `json:"rule_id"`
	UserID          string     `json:"user_id"`
	RuleType        RuleType   `json:"rule_type"`
	IsActive        bool       `json:"is_active"`
	Conditions      Conditions `json:"conditions"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	Priority        Severity   `json:"priority"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`
}

// Eligible reports whether the rule may be evaluated at now.
// A rule is eligible when active and its cooldown has elapsed since it last fired.
func (r Rule) Eligible(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.LastTriggered == nil {
		return true
	}
	return now.Sub(*r.LastTriggered) >= time.Duration(r.CooldownMinutes)*time.Minute
}

// Validate checks the rule's identity fields and conditions
func (r Rule) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRule)
	}
	if !r.RuleType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownRuleType, r.RuleType)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown_minutes must be >= 0", ErrInvalidRule)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRule, r.Priority)
	}
	if r.Conditions == nil {
		return fmt.Errorf("%w: conditions are required", ErrInvalidRule)
	}
	if r.Conditions.RuleType() != r.RuleType {
		return fmt.Errorf("%w: conditions for %s attached to %s rule", ErrInvalidRule, r.Conditions.RuleType(), r.RuleType)
	}
	if err := r.Conditions.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// UnmarshalJSON decodes conditions into the typed struct matching rule_type
func (r *Rule) UnmarshalJSON(data []byte) error {
	type ruleAlias Rule
	aux := struct {
		*ruleAlias
		Conditions json.RawMessage `json:"conditions"`
	}{ruleAlias: (*ruleAlias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if r.RuleType == "" {
		r.Conditions = nil
		return nil
	}

	conditions, err := DecodeConditions(r.RuleType, aux.Conditions)
	if err != nil {
		return err
	}
	r.Conditions = conditions
	return nil
}
