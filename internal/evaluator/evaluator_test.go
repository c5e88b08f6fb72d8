package evaluator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/cache"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/evaluator"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func intp(v int) *int { return &v }

func prop(id, book string) models.PropRecord {
	return models.PropRecord{
		PropID:      id,
		PlayerName:  "LeBron James",
		Sport:       "basketball_nba",
		Market:      "Points",
		Line:        f64(25.5),
		Sportsbook:  book,
		LastUpdated: now,
	}
}

func rule(id string, t models.RuleType, c models.Conditions) models.Rule {
	return models.Rule{
		RuleID:     id,
		UserID:     "user-1",
		RuleType:   t,
		IsActive:   true,
		Conditions: c,
		Priority:   models.SeverityMedium,
		CreatedAt:  now.Add(-time.Hour),
	}
}

// fakeMovement returns fixed movements per window
type fakeMovement struct {
	byWindow map[int]float64
	err      error
}

func (f *fakeMovement) AnalyzeMovement(ctx context.Context, propID, book string, hours int) (*models.MovementAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.byWindow[hours]
	if !ok {
		return nil, nil
	}
	return &models.MovementAnalysis{PropID: propID, Sportsbook: book, HoursBack: hours, LineMovement: m}, nil
}

// fakeSteam reports steam for the listed prop ids
type fakeSteam struct {
	steamy map[string]bool
	calls  []string
}

func (f *fakeSteam) DetectSteam(ctx context.Context, propID string) (*models.SteamResult, error) {
	f.calls = append(f.calls, propID)
	if !f.steamy[propID] {
		return nil, nil
	}
	return &models.SteamResult{PropID: propID, Direction: "up", BooksMoving: []string{"dk", "fd"}, AvgMovement: 1.0, WindowMinutes: 30}, nil
}

func TestEVThreshold_Scenario(t *testing.T) {
	ev := evaluator.NewEVThreshold()
	r := rule("r-ev", models.RuleTypeEVThreshold, models.EVThresholdConditions{MinEVPercentage: 8.0, MinConfidence: 85.0})

	p := prop("p1", "draftkings")
	p.EVValue = f64(8.3)
	p.ConfidenceScore = f64(87.2)

	triggers, err := ev.Evaluate(context.Background(), r, []models.PropRecord{p}, now)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	tr := triggers[0]
	assert.Equal(t, models.SeverityMedium, tr.Severity)
	assert.Equal(t, "r-ev", tr.RuleID)
	assert.Equal(t, "user-1", tr.UserID)
	assert.Equal(t, "p1", tr.PropID)
	assert.Equal(t, models.RuleTypeEVThreshold, tr.TriggerType)
	assert.Equal(t, 8.3, tr.Data["ev_percentage"])
	require.NotNil(t, tr.ExpiresAt)
	assert.Equal(t, now.Add(2*time.Hour), *tr.ExpiresAt)
	assert.NotEmpty(t, tr.TriggerID)

	p.EVValue = f64(7.9)
	triggers, err = ev.Evaluate(context.Background(), r, []models.PropRecord{p}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestEVThreshold_SkipsMissingValuesAndLowConfidence(t *testing.T) {
	ev := evaluator.NewEVThreshold()
	r := rule("r-ev", models.RuleTypeEVThreshold, models.EVThresholdConditions{MinEVPercentage: 5, MinConfidence: 70})

	missing := prop("p1", "dk")
	lowConf := prop("p2", "dk")
	lowConf.EVValue = f64(12)
	lowConf.ConfidenceScore = f64(60)

	triggers, err := ev.Evaluate(context.Background(), r, []models.PropRecord{missing, lowConf}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestEVSeverity_Monotonic(t *testing.T) {
	values := []float64{16, 11, 6, 1}
	want := []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow}

	for idx, v := range values {
		assert.Equal(t, want[idx], evaluator.EVSeverity(v), "ev=%v", v)
		if idx > 0 {
			assert.GreaterOrEqual(t, evaluator.EVSeverity(values[idx-1]).Rank(), evaluator.EVSeverity(v).Rank())
		}
	}
}

func TestSeverityThresholds(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) models.Severity
		in   float64
		want models.Severity
	}{
		{"movement high", evaluator.MovementSeverity, 3.0, models.SeverityHigh},
		{"movement medium", evaluator.MovementSeverity, 1.5, models.SeverityMedium},
		{"movement low", evaluator.MovementSeverity, 1.49, models.SeverityLow},
		{"edge critical", evaluator.EdgeSeverity, 20, models.SeverityCritical},
		{"edge high", evaluator.EdgeSeverity, 15, models.SeverityHigh},
		{"edge medium", evaluator.EdgeSeverity, 10, models.SeverityMedium},
		{"edge low", evaluator.EdgeSeverity, 9.9, models.SeverityLow},
		{"arb critical", evaluator.ArbitrageSeverity, 5, models.SeverityCritical},
		{"arb high", evaluator.ArbitrageSeverity, 3, models.SeverityHigh},
		{"arb medium", evaluator.ArbitrageSeverity, 1.5, models.SeverityMedium},
		{"arb low", evaluator.ArbitrageSeverity, 1.2, models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func TestLineMovement_FiresOnLargestWindow(t *testing.T) {
	analyzer := &fakeMovement{byWindow: map[int]float64{1: 0.5, 6: -2.0, 24: 1.0}}
	lm := evaluator.NewLineMovement(analyzer)
	r := rule("r-lm", models.RuleTypeLineMovement, models.LineMovementConditions{MovementThreshold: 1.5})

	triggers, err := lm.Evaluate(context.Background(), r, []models.PropRecord{prop("p1", "dk")}, now)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	tr := triggers[0]
	assert.Equal(t, models.SeverityMedium, tr.Severity)
	assert.Equal(t, 2.0, tr.Data["max_movement"])
	assert.Equal(t, "down", tr.Data["direction"])
	assert.Equal(t, 6, tr.Data["window_hours"])
	assert.Equal(t, now.Add(time.Hour), *tr.ExpiresAt)
}

func TestLineMovement_BelowThreshold(t *testing.T) {
	analyzer := &fakeMovement{byWindow: map[int]float64{1: 0.5, 6: 0.9, 24: -0.99}}
	lm := evaluator.NewLineMovement(analyzer)
	r := rule("r-lm", models.RuleTypeLineMovement, models.LineMovementConditions{MovementThreshold: 1.0})

	triggers, err := lm.Evaluate(context.Background(), r, []models.PropRecord{prop("p1", "dk")}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestLineMovement_AnalyzerErrorsSkipProp(t *testing.T) {
	lm := evaluator.NewLineMovement(&fakeMovement{err: errors.New("history unavailable")})
	r := rule("r-lm", models.RuleTypeLineMovement, models.LineMovementConditions{MovementThreshold: 1.0})

	triggers, err := lm.Evaluate(context.Background(), r, []models.PropRecord{prop("p1", "dk")}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestEdgeEmergence_FiresOncePerWindow(t *testing.T) {
	ee := evaluator.NewEdgeEmergence(cache.NewMemory(time.Minute), 6*time.Hour)
	r := rule("r-edge", models.RuleTypeEdgeEmergence, models.EdgeEmergenceConditions{MinEdgePercentage: 10, MinConfidence: 80})

	p := prop("p1", "fanduel")
	p.EdgePercentage = f64(16)
	p.ConfidenceScore = f64(90)
	props := []models.PropRecord{p}

	first, err := ee.Evaluate(context.Background(), r, props, now)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.SeverityHigh, first[0].Severity)
	assert.Equal(t, now.Add(3*time.Hour), *first[0].ExpiresAt)

	second, err := ee.Evaluate(context.Background(), r, props, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second)

	// Same prop at another book is a distinct pair
	other := p
	other.Sportsbook = "draftkings"
	third, err := ee.Evaluate(context.Background(), r, []models.PropRecord{p, other}, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "draftkings", third[0].Prop.Sportsbook)
}

func TestSteamDetection_RequiresTwoBooks(t *testing.T) {
	detector := &fakeSteam{steamy: map[string]bool{"p1": true, "p2": true}}
	sd := evaluator.NewSteamDetection(detector)
	r := rule("r-steam", models.RuleTypeSteamDetection, models.SteamDetectionConditions{})

	props := []models.PropRecord{
		prop("p1", "dk"),
		prop("p1", "fd"),
		prop("p2", "dk"), // single book, never asked
	}

	triggers, err := sd.Evaluate(context.Background(), r, props, now)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, []string{"p1"}, detector.calls)
	assert.Equal(t, models.SeverityHigh, triggers[0].Severity)
	assert.Equal(t, now.Add(30*time.Minute), *triggers[0].ExpiresAt)
}

func TestArbitrage_ProfitMargin(t *testing.T) {
	arb := evaluator.NewArbitrage()
	r := rule("r-arb", models.RuleTypeArbitrage, models.ArbitrageConditions{MinProfitPercentage: 1.0})

	a := prop("p1", "draftkings")
	a.OverOdds, a.UnderOdds = intp(110), intp(-130)
	b := prop("p1-fd", "fanduel")
	b.OverOdds, b.UnderOdds = intp(-120), intp(-105)

	triggers, err := arb.Evaluate(context.Background(), r, []models.PropRecord{a, b}, now)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	tr := triggers[0]
	sum := 100.0/210.0 + 105.0/205.0
	require.Less(t, sum, 1.0)
	assert.InDelta(t, sum, tr.Data["total_implied_probability"], 1e-9)
	assert.InDelta(t, (1-sum)*100, tr.Data["profit_margin"], 1e-9)
	assert.Equal(t, "draftkings", tr.Data["over_book"])
	assert.Equal(t, "fanduel", tr.Data["under_book"])
	assert.Equal(t, "LeBron James:Points", tr.PropID)
	assert.Equal(t, models.SeverityLow, tr.Severity)
	assert.Equal(t, now.Add(15*time.Minute), *tr.ExpiresAt)
}

func TestArbitrage_NoArbOrBelowMinimum(t *testing.T) {
	arb := evaluator.NewArbitrage()

	a := prop("p1", "dk")
	a.OverOdds, a.UnderOdds = intp(-110), intp(-110)
	b := prop("p1", "fd")
	b.OverOdds, b.UnderOdds = intp(-115), intp(-105)

	r := rule("r-arb", models.RuleTypeArbitrage, models.ArbitrageConditions{MinProfitPercentage: 0})
	triggers, err := arb.Evaluate(context.Background(), r, []models.PropRecord{a, b}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	// +110 / -105 is an arb of ~1.17%, below a 2% minimum
	a.OverOdds = intp(110)
	r = rule("r-arb", models.RuleTypeArbitrage, models.ArbitrageConditions{MinProfitPercentage: 2.0})
	triggers, err = arb.Evaluate(context.Background(), r, []models.PropRecord{a, b}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestArbitrage_SinglePropGroupIgnored(t *testing.T) {
	arb := evaluator.NewArbitrage()
	r := rule("r-arb", models.RuleTypeArbitrage, models.ArbitrageConditions{MinProfitPercentage: 0})

	a := prop("p1", "dk")
	a.OverOdds, a.UnderOdds = intp(150), intp(150)

	triggers, err := arb.Evaluate(context.Background(), r, []models.PropRecord{a}, now)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

// panicking panics for one rule id and errors for another
type panicking struct{}

func (panicking) Type() models.RuleType { return models.RuleTypeSteamDetection }

func (panicking) Evaluate(ctx context.Context, r models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	switch r.RuleID {
	case "boom":
		panic("evaluator exploded")
	case "fail":
		return nil, errors.New("upstream down")
	}
	return []models.AlertTrigger{{RuleID: r.RuleID, TriggerType: r.RuleType, Severity: models.SeverityHigh}}, nil
}

func TestEvaluateRules_IsolatesFailures(t *testing.T) {
	e := evaluator.New(4, panicking{})

	rules := []models.Rule{
		rule("ok-1", models.RuleTypeSteamDetection, models.SteamDetectionConditions{}),
		rule("boom", models.RuleTypeSteamDetection, models.SteamDetectionConditions{}),
		rule("fail", models.RuleTypeSteamDetection, models.SteamDetectionConditions{}),
		rule("unknown", models.RuleTypeEVThreshold, models.EVThresholdConditions{}),
		rule("ok-2", models.RuleTypeSteamDetection, models.SteamDetectionConditions{}),
	}

	results := e.EvaluateRules(context.Background(), rules, nil, now)
	require.Len(t, results, len(rules))

	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Triggers, 1)
	assert.Error(t, results[1].Err)
	assert.Empty(t, results[1].Triggers)
	assert.Error(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, models.ErrUnknownRuleType)
	assert.NoError(t, results[4].Err)
	assert.Len(t, results[4].Triggers, 1)
}

// gauge tracks concurrent evaluations
type gauge struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   atomic.Int32
}

func (g *gauge) Type() models.RuleType { return models.RuleTypeArbitrage }

func (g *gauge) Evaluate(ctx context.Context, r models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.current--
	g.mu.Unlock()
	return nil, nil
}

func TestEvaluateRules_RespectsConcurrencyLimit(t *testing.T) {
	g := &gauge{}
	e := evaluator.New(3, g)

	var rules []models.Rule
	for n := 0; n < 12; n++ {
		rules = append(rules, rule(fmt.Sprintf("r-%d", n), models.RuleTypeArbitrage, models.ArbitrageConditions{}))
	}

	e.EvaluateRules(context.Background(), rules, nil, now)

	assert.Equal(t, int32(12), g.calls.Load())
	assert.LessOrEqual(t, g.peak, 3)
	assert.Equal(t, 3, e.MaxConcurrent())
}

func TestNewDefault_SupportsBuiltInTypes(t *testing.T) {
	e := evaluator.NewDefault(0, evaluator.Dependencies{})
	for _, rt := range models.RuleTypes {
		assert.True(t, e.Supports(rt), string(rt))
	}
	assert.Equal(t, evaluator.DefaultMaxConcurrent, e.MaxConcurrent())
}
