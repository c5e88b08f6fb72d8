package oddsmath

import (
	"fmt"
	"math"
)

// AmericanToDecimal converts American odds to decimal odds
// American +150 → Decimal 2.50
// American -150 → Decimal 1.67
func AmericanToDecimal(american int) (float64, error) {
	if american == 0 {
		return 0, fmt.Errorf("invalid American odds: cannot be 0")
	}

	if american > 0 {
		return (float64(american) / 100.0) + 1.0, nil
	}

	return (100.0 / float64(-american)) + 1.0, nil
}

// DecimalToAmerican converts decimal odds to American odds
func DecimalToAmerican(decimal float64) (int, error) {
	if decimal < 1.0 {
		return 0, fmt.Errorf("invalid decimal odds: must be >= 1.0")
	}

	if decimal >= 2.0 {
		return int(math.Round((decimal - 1.0) * 100.0)), nil
	}

	return int(math.Round(-100.0 / (decimal - 1.0))), nil
}

// AmericanToProbability converts American odds to an implied probability
// +110 → 100/210 = 0.476
// -105 → 105/205 = 0.512
func AmericanToProbability(american int) (float64, error) {
	if american == 0 {
		return 0, fmt.Errorf("invalid American odds: cannot be 0")
	}

	if american > 0 {
		return 100.0 / (float64(american) + 100.0), nil
	}

	abs := float64(-american)
	return abs / (abs + 100.0), nil
}

// FormatAmerican formats American odds with an explicit sign for positive prices
func FormatAmerican(american int) string {
	if american > 0 {
		return fmt.Sprintf("+%d", american)
	}
	return fmt.Sprintf("%d", american)
}
