package evaluator

import (
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// Trigger lifetimes per rule type
const (
	EVExpiry           = 2 * time.Hour
	LineMovementExpiry = 1 * time.Hour
	EdgeExpiry         = 3 * time.Hour
	SteamExpiry        = 30 * time.Minute
	ArbitrageExpiry    = 15 * time.Minute
)

// EVSeverity grades an expected value percentage: critical ≥15, high ≥10, medium ≥5
func EVSeverity(ev float64) models.Severity {
	switch {
	case ev >= 15:
		return models.SeverityCritical
	case ev >= 10:
		return models.SeverityHigh
	case ev >= 5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// MovementSeverity grades an absolute line movement: high ≥3.0, medium ≥1.5
func MovementSeverity(movement float64) models.Severity {
	switch {
	case movement >= 3.0:
		return models.SeverityHigh
	case movement >= 1.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// EdgeSeverity grades an edge percentage: critical ≥20, high ≥15, medium ≥10
func EdgeSeverity(edge float64) models.Severity {
	switch {
	case edge >= 20:
		return models.SeverityCritical
	case edge >= 15:
		return models.SeverityHigh
	case edge >= 10:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// ArbitrageSeverity grades a guaranteed profit margin: critical ≥5, high ≥3, medium ≥1.5
func ArbitrageSeverity(margin float64) models.Severity {
	switch {
	case margin >= 5:
		return models.SeverityCritical
	case margin >= 3:
		return models.SeverityHigh
	case margin >= 1.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
