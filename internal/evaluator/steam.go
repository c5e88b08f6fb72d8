package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// SteamDetection fires when synchronized movement is reported for a prop listed at two or more books
type SteamDetection struct {
	detector contracts.SteamDetector
}

// NewSteamDetection creates a STEAM_DETECTION evaluator
func NewSteamDetection(detector contracts.SteamDetector) *SteamDetection {
	return &SteamDetection{detector: detector}
}

// Type returns STEAM_DETECTION
func (s *SteamDetection) Type() models.RuleType {
	return models.RuleTypeSteamDetection
}

// Evaluate groups props by prop_id and asks the detector about each multi-book group
func (s *SteamDetection) Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	if _, err := conditionsAs[models.SteamDetectionConditions](rule); err != nil {
		return nil, err
	}
	if s.detector == nil {
		return nil, fmt.Errorf("no steam detector configured")
	}

	var triggers []models.AlertTrigger
	for _, group := range groupBy(props, func(p models.PropRecord) string { return p.PropID }) {
		if distinctBooks(group) < 2 {
			continue
		}

		propID := group[0].PropID
		result, err := s.detector.DetectSteam(ctx, propID)
		if err != nil {
			return triggers, fmt.Errorf("detect steam for %s: %w", propID, err)
		}
		if result == nil {
			continue
		}

		p := group[0]
		triggers = append(triggers, newTrigger(rule, triggerSpec{
			propID:   propID,
			prop:     &p,
			severity: models.SeverityHigh,
			title:    fmt.Sprintf("Steam Move: %s", describeProp(p)),
			message: fmt.Sprintf("Steam detected on %s: %d books moving %s (%s)",
				describeProp(p), len(result.BooksMoving), result.Direction, strings.Join(result.BooksMoving, ", ")),
			data: map[string]interface{}{
				"books_moving":   result.BooksMoving,
				"direction":      result.Direction,
				"avg_movement":   result.AvgMovement,
				"window_minutes": result.WindowMinutes,
				"books_listed":   distinctBooks(group),
			},
			ttl: SteamExpiry,
		}, now))
	}

	return triggers, nil
}

// groupBy groups props by key, preserving first-seen order of keys
func groupBy(props []models.PropRecord, key func(models.PropRecord) string) [][]models.PropRecord {
	index := make(map[string]int)
	var groups [][]models.PropRecord
	for _, p := range props {
		k := key(p)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}
	return groups
}

func distinctBooks(group []models.PropRecord) int {
	books := make(map[string]struct{}, len(group))
	for _, p := range group {
		books[p.Sportsbook] = struct{}{}
	}
	return len(books)
}
