package evaluator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/rs/zerolog"
)

// MovementWindows are the lookback windows, in hours, checked for every prop
var MovementWindows = []int{1, 6, 24}

// LineMovement fires when a prop's largest windowed line movement reaches the threshold
type LineMovement struct {
	analyzer contracts.MovementAnalyzer
	log      zerolog.Logger
}

// NewLineMovement creates a LINE_MOVEMENT evaluator
func NewLineMovement(analyzer contracts.MovementAnalyzer) *LineMovement {
	return &LineMovement{
		analyzer: analyzer,
		log:      logger.WithComponent("line_movement"),
	}
}

// Type returns LINE_MOVEMENT
func (l *LineMovement) Type() models.RuleType {
	return models.RuleTypeLineMovement
}

// Evaluate analyzes each prop over every window and fires on the largest absolute movement
func (l *LineMovement) Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	cond, err := conditionsAs[models.LineMovementConditions](rule)
	if err != nil {
		return nil, err
	}
	if l.analyzer == nil {
		return nil, fmt.Errorf("no movement analyzer configured")
	}

	windows := windowsFor(cond)

	var triggers []models.AlertTrigger
	for i := range props {
		if err := ctx.Err(); err != nil {
			return triggers, err
		}

		p := props[i]
		movements := make(map[string]float64, len(windows))
		var (
			maxAbs    float64
			signed    float64
			maxWindow int
		)

		for _, hours := range windows {
			analysis, err := l.analyzer.AnalyzeMovement(ctx, p.PropID, p.Sportsbook, hours)
			if err != nil {
				l.log.Warn().Err(err).
					Str("prop_id", p.PropID).
					Str("sportsbook", p.Sportsbook).
					Int("hours_back", hours).
					Msg("movement analysis failed")
				continue
			}
			if analysis == nil {
				continue
			}

			movements[fmt.Sprintf("%dh", hours)] = analysis.LineMovement
			if abs := math.Abs(analysis.LineMovement); abs > maxAbs {
				maxAbs = abs
				signed = analysis.LineMovement
				maxWindow = hours
			}
		}

		if len(movements) == 0 || maxAbs < cond.MovementThreshold {
			continue
		}

		direction := "up"
		if signed < 0 {
			direction = "down"
		}

		triggers = append(triggers, newTrigger(rule, triggerSpec{
			propID:   p.PropID,
			prop:     &p,
			severity: MovementSeverity(maxAbs),
			title:    fmt.Sprintf("Significant Line Movement: %+.1f", signed),
			message:  fmt.Sprintf("Line moved %s %.1f in %dh for %s at %s", direction, maxAbs, maxWindow, describeProp(p), p.Sportsbook),
			data: map[string]interface{}{
				"movements":    movements,
				"max_movement": maxAbs,
				"direction":    direction,
				"window_hours": maxWindow,
				"threshold":    cond.MovementThreshold,
				"sportsbook":   p.Sportsbook,
			},
			ttl: LineMovementExpiry,
		}, now))
	}

	return triggers, nil
}

// windowsFor returns the standard windows plus the rule's own window when it is not already covered
func windowsFor(cond models.LineMovementConditions) []int {
	windows := append([]int(nil), MovementWindows...)
	if cond.TimeWindowHours <= 0 {
		return windows
	}
	for _, w := range windows {
		if w == cond.TimeWindowHours {
			return windows
		}
	}
	return append(windows, cond.TimeWindowHours)
}
