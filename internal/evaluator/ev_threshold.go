package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// EVThreshold fires for every prop whose EV and confidence clear the rule's minimums
type EVThreshold struct{}

// NewEVThreshold creates an EV_THRESHOLD evaluator
func NewEVThreshold() *EVThreshold {
	return &EVThreshold{}
}

// Type returns EV_THRESHOLD
func (e *EVThreshold) Type() models.RuleType {
	return models.RuleTypeEVThreshold
}

// Evaluate returns one trigger per qualifying prop
func (e *EVThreshold) Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	cond, err := conditionsAs[models.EVThresholdConditions](rule)
	if err != nil {
		return nil, err
	}

	var triggers []models.AlertTrigger
	for i := range props {
		p := props[i]
		if p.EVValue == nil || p.ConfidenceScore == nil {
			continue
		}

		ev, conf := *p.EVValue, *p.ConfidenceScore
		if ev < cond.MinEVPercentage || conf < cond.MinConfidence {
			continue
		}

		triggers = append(triggers, newTrigger(rule, triggerSpec{
			propID:   p.PropID,
			prop:     &p,
			severity: EVSeverity(ev),
			title:    fmt.Sprintf("High EV Opportunity: %.1f%%", ev),
			message:  fmt.Sprintf("High EV opportunity: %.1f%% edge on %s at %s", ev, describeProp(p), p.Sportsbook),
			data: map[string]interface{}{
				"ev_percentage":    ev,
				"confidence_score": conf,
				"threshold":        cond.MinEVPercentage,
				"min_confidence":   cond.MinConfidence,
				"sportsbook":       p.Sportsbook,
				"line":             p.Line,
			},
			ttl: EVExpiry,
		}, now))
	}

	return triggers, nil
}
