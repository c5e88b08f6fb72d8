package oddsmath

import "fmt"

// Arbitrage describes a two-way market priced so that backing both sides guarantees a return
type Arbitrage struct {
	OverProbability  float64
	UnderProbability float64
	TotalProbability float64
	ProfitMargin     float64 // percent, (1 - total) * 100
}

// TwoWayArbitrage evaluates the best over and under prices of a market.
// ok is false when the implied probabilities sum to 1.0 or more.
func TwoWayArbitrage(overOdds, underOdds int) (Arbitrage, bool, error) {
	overProb, err := AmericanToProbability(overOdds)
	if err != nil {
		return Arbitrage{}, false, fmt.Errorf("over odds: %w", err)
	}
	underProb, err := AmericanToProbability(underOdds)
	if err != nil {
		return Arbitrage{}, false, fmt.Errorf("under odds: %w", err)
	}

	total := overProb + underProb
	arb := Arbitrage{
		OverProbability:  overProb,
		UnderProbability: underProb,
		TotalProbability: total,
	}
	if total >= 1.0 {
		return arb, false, nil
	}

	arb.ProfitMargin = (1.0 - total) * 100.0
	return arb, true, nil
}
