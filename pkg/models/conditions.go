package models

import (
	"encoding/json"
	"fmt"
)

// Conditions holds the typed thresholds of one rule type
type Conditions interface {
	RuleType() RuleType
	Validate() error
}

// EVThresholdConditions fires on props whose EV and confidence clear the minimums
type EVThresholdConditions struct {
	MinEVPercentage float64 `json:"min_ev_percentage"`
	MinConfidence   float64 `json:"min_confidence"`
}

func (EVThresholdConditions) RuleType() RuleType { return RuleTypeEVThreshold }

func (c EVThresholdConditions) Validate() error {
	if c.MinEVPercentage < 0 {
		return fmt.Errorf("min_ev_percentage must be >= 0")
	}
	return validateConfidence(c.MinConfidence)
}

// LineMovementConditions fires when the largest windowed movement reaches the threshold
type LineMovementConditions struct {
	MovementThreshold float64 `json:"movement_threshold"`
	TimeWindowHours   int     `json:"time_window_hours"`
}

func (LineMovementConditions) RuleType() RuleType { return RuleTypeLineMovement }

func (c LineMovementConditions) Validate() error {
	if c.MovementThreshold <= 0 {
		return fmt.Errorf("movement_threshold must be > 0")
	}
	if c.TimeWindowHours < 0 {
		return fmt.Errorf("time_window_hours must be >= 0")
	}
	return nil
}

// EdgeEmergenceConditions fires once per prop and book when a new edge appears
type EdgeEmergenceConditions struct {
	MinEdgePercentage    float64 `json:"min_edge_percentage"`
	MinConfidence        float64 `json:"min_confidence"`
	DetectionWindowHours int     `json:"detection_window_hours"`
}

func (EdgeEmergenceConditions) RuleType() RuleType { return RuleTypeEdgeEmergence }

func (c EdgeEmergenceConditions) Validate() error {
	if c.MinEdgePercentage < 0 {
		return fmt.Errorf("min_edge_percentage must be >= 0")
	}
	if c.DetectionWindowHours < 0 {
		return fmt.Errorf("detection_window_hours must be >= 0")
	}
	return validateConfidence(c.MinConfidence)
}

// SteamDetectionConditions has no tunables; detection is delegated to the steam detector
type SteamDetectionConditions struct{}

func (SteamDetectionConditions) RuleType() RuleType { return RuleTypeSteamDetection }

func (SteamDetectionConditions) Validate() error { return nil }

// ArbitrageConditions fires when the guaranteed margin reaches the minimum profit
type ArbitrageConditions struct {
	MinProfitPercentage float64 `json:"min_profit_percentage"`
}

func (ArbitrageConditions) RuleType() RuleType { return RuleTypeArbitrage }

func (c ArbitrageConditions) Validate() error {
	if c.MinProfitPercentage < 0 {
		return fmt.Errorf("min_profit_percentage must be >= 0")
	}
	return nil
}

func validateConfidence(v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("min_confidence must be within 0-100")
	}
	return nil
}

// DefaultConditions returns the default thresholds for a rule type
func DefaultConditions(t RuleType) (Conditions, error) {
	switch t {
	case RuleTypeEVThreshold:
		return EVThresholdConditions{MinEVPercentage: 5.0, MinConfidence: 70.0}, nil
	case RuleTypeLineMovement:
		return LineMovementConditions{MovementThreshold: 1.0, TimeWindowHours: 4}, nil
	case RuleTypeEdgeEmergence:
		return EdgeEmergenceConditions{MinEdgePercentage: 10.0, MinConfidence: 80.0, DetectionWindowHours: 6}, nil
	case RuleTypeSteamDetection:
		return SteamDetectionConditions{}, nil
	case RuleTypeArbitrage:
		return ArbitrageConditions{MinProfitPercentage: 1.0}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleType, t)
	}
}

// DecodeConditions decodes raw JSON over the type's defaults, so omitted fields keep their default value
func DecodeConditions(t RuleType, raw json.RawMessage) (Conditions, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleType, t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultConditions(t)
	}

	def, err := DefaultConditions(t)
	if err != nil {
		return nil, err
	}

	var c Conditions
	switch v := def.(type) {
	case EVThresholdConditions:
		err = json.Unmarshal(raw, &v)
		c = v
	case LineMovementConditions:
		err = json.Unmarshal(raw, &v)
		c = v
	case EdgeEmergenceConditions:
		err = json.Unmarshal(raw, &v)
		c = v
	case SteamDetectionConditions:
		err = json.Unmarshal(raw, &v)
		c = v
	case ArbitrageConditions:
		err = json.Unmarshal(raw, &v)
		c = v
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s conditions: %v", ErrInvalidRule, t, err)
	}
	return c, nil
}
