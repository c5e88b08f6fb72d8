package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/oddsmath"
)

// Arbitrage fires when the best over and under prices for a player market sum below 100% implied
type Arbitrage struct{}

// NewArbitrage creates an ARBITRAGE_OPPORTUNITY evaluator
func NewArbitrage() *Arbitrage {
	return &Arbitrage{}
}

// Type returns ARBITRAGE_OPPORTUNITY
func (a *Arbitrage) Type() models.RuleType {
	return models.RuleTypeArbitrage
}

// bestPrice is the most generous price seen for one side of a market
type bestPrice struct {
	odds        int
	probability float64
	book        string
	found       bool
}

func (b *bestPrice) offer(odds *int, book string) {
	if odds == nil || *odds == 0 {
		return
	}
	prob, err := oddsmath.AmericanToProbability(*odds)
	if err != nil {
		return
	}
	if !b.found || prob < b.probability {
		*b = bestPrice{odds: *odds, probability: prob, book: book, found: true}
	}
}

// Evaluate groups props by player and market and checks the best prices of each group
func (a *Arbitrage) Evaluate(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	cond, err := conditionsAs[models.ArbitrageConditions](rule)
	if err != nil {
		return nil, err
	}

	var triggers []models.AlertTrigger
	for _, group := range groupBy(props, models.PropRecord.MarketKey) {
		if len(group) < 2 {
			continue
		}

		var over, under bestPrice
		for _, p := range group {
			over.offer(p.OverOdds, p.Sportsbook)
			under.offer(p.UnderOdds, p.Sportsbook)
		}
		if !over.found || !under.found {
			continue
		}

		arb, ok, err := oddsmath.TwoWayArbitrage(over.odds, under.odds)
		if err != nil || !ok {
			continue
		}
		if arb.ProfitMargin < cond.MinProfitPercentage {
			continue
		}

		p := group[0]
		marketKey := p.MarketKey()
		triggers = append(triggers, newTrigger(rule, triggerSpec{
			propID:   marketKey,
			severity: ArbitrageSeverity(arb.ProfitMargin),
			title:    fmt.Sprintf("Arbitrage Opportunity: %.2f%%", arb.ProfitMargin),
			message: fmt.Sprintf("Arbitrage on %s: over %s at %s, under %s at %s for %.2f%% profit",
				describeProp(p), oddsmath.FormatAmerican(over.odds), over.book,
				oddsmath.FormatAmerican(under.odds), under.book, arb.ProfitMargin),
			data: map[string]interface{}{
				"profit_margin":             arb.ProfitMargin,
				"total_implied_probability": arb.TotalProbability,
				"over_book":                 over.book,
				"over_odds":                 over.odds,
				"over_probability":          arb.OverProbability,
				"under_book":                under.book,
				"under_odds":                under.odds,
				"under_probability":         arb.UnderProbability,
				"threshold":                 cond.MinProfitPercentage,
				"books_compared":            len(group),
			},
			ttl: ArbitrageExpiry,
		}, now))
	}

	return triggers, nil
}
