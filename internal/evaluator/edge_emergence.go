package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// DefaultEdgeWindow is how long a detected edge suppresses re-firing
const DefaultEdgeWindow = 6 * time.Hour

// EdgeEmergence fires once per prop and sportsbook when an edge first appears
type EdgeEmergence struct {
	cache  contracts.DetectionCache
	window time.Duration
}

// NewEdgeEmergence creates an EDGE_EMERGENCE evaluator
func NewEdgeEmergence(cache contracts.DetectionCache, window time.Duration) *EdgeEmergence {
	if window <= 0 {
		window = DefaultEdgeWindow
	}
	return &EdgeEmergence{cache: cache, window: window}
}

// WithCache returns a copy of the evaluator that records detections in cache
func (e *EdgeEmergence) WithCache(cache contracts.DetectionCache) contracts.RuleTypeEvaluator {
	return &EdgeEmergence{cache: cache, window: e.window}
}

// Type returns EDGE_EMERGENCE
func (e *EdgeEmergence) Type() models.RuleType {
	return models.RuleTypeEdgeEmergence
}

// EdgeDetectionKey is the cache key marking an edge as recently detected for a rule
func EdgeDetectionKey(ruleID, propID, sportsbook string) string {
	return fmt.Sprintf("edge_detected:%s:%s:%s", ruleID, propID, sportsbook)
}

// Evaluate fires for qualifying props not already detected within the window, then marks them
func (e *EdgeEmergence) Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	cond, err := conditionsAs[models.EdgeEmergenceConditions](rule)
	if err != nil {
		return nil, err
	}
	if e.cache == nil {
		return nil, fmt.Errorf("no detection cache configured")
	}

	window := e.window
	if cond.DetectionWindowHours > 0 {
		window = time.Duration(cond.DetectionWindowHours) * time.Hour
	}

	var triggers []models.AlertTrigger
	for i := range props {
		p := props[i]
		if p.EdgePercentage == nil || p.ConfidenceScore == nil {
			continue
		}

		edge, conf := *p.EdgePercentage, *p.ConfidenceScore
		if edge < cond.MinEdgePercentage || conf < cond.MinConfidence {
			continue
		}

		key := EdgeDetectionKey(rule.RuleID, p.PropID, p.Sportsbook)
		_, seen, err := e.cache.Get(ctx, key)
		if err != nil {
			return triggers, fmt.Errorf("check edge detection %s: %w", key, err)
		}
		if seen {
			continue
		}

		if err := e.cache.Set(ctx, key, now.UTC().Format(time.RFC3339), window); err != nil {
			return triggers, fmt.Errorf("mark edge detection %s: %w", key, err)
		}

		triggers = append(triggers, newTrigger(rule, triggerSpec{
			propID:   p.PropID,
			prop:     &p,
			severity: EdgeSeverity(edge),
			title:    fmt.Sprintf("High Edge Opportunity: %.1f%%", edge),
			message:  fmt.Sprintf("New edge of %.1f%% on %s at %s", edge, describeProp(p), p.Sportsbook),
			data: map[string]interface{}{
				"edge_percentage":  edge,
				"confidence_score": conf,
				"threshold":        cond.MinEdgePercentage,
				"projection":       p.Projection,
				"line":             p.Line,
				"sportsbook":       p.Sportsbook,
			},
			ttl: EdgeExpiry,
		}, now))
	}

	return triggers, nil
}
