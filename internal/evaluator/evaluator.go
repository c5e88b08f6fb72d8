package evaluator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/cache"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrent bounds the number of rules evaluated at once
const DefaultMaxConcurrent = 10

// Result is the outcome of evaluating one rule
type Result struct {
	Rule     models.Rule
	Triggers []models.AlertTrigger
	Err      error
}

// Evaluator routes rules to their type-specific evaluators and fans out across rules
type Evaluator struct {
	evaluators    map[models.RuleType]contracts.RuleTypeEvaluator
	maxConcurrent int
	log           zerolog.Logger
}

// New creates an evaluator with the given type evaluators
func New(maxConcurrent int, evaluators ...contracts.RuleTypeEvaluator) *Evaluator {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}

	e := &Evaluator{
		evaluators:    make(map[models.RuleType]contracts.RuleTypeEvaluator, len(evaluators)),
		maxConcurrent: maxConcurrent,
		log:           logger.WithComponent("evaluator"),
	}
	for _, ev := range evaluators {
		e.evaluators[ev.Type()] = ev
	}
	return e
}

// Dependencies are the collaborators needed by the built-in rule types
type Dependencies struct {
	Movement   contracts.MovementAnalyzer
	Steam      contracts.SteamDetector
	Cache      contracts.DetectionCache
	EdgeWindow time.Duration
}

// NewDefault creates an evaluator wired with every built-in rule type
func NewDefault(maxConcurrent int, deps Dependencies) *Evaluator {
	return New(maxConcurrent,
		NewEVThreshold(),
		NewLineMovement(deps.Movement),
		NewEdgeEmergence(deps.Cache, deps.EdgeWindow),
		NewSteamDetection(deps.Steam),
		NewArbitrage(),
	)
}

// cacheScoped is implemented by evaluators that keep detection state between passes
type cacheScoped interface {
	WithCache(cache contracts.DetectionCache) contracts.RuleTypeEvaluator
}

// Isolated returns a copy whose stateful evaluators record detections in a
// private in-memory cache, so a dry run leaves shared detection state untouched
func (e *Evaluator) Isolated() *Evaluator {
	scratch := cache.NewMemory(0)

	c := &Evaluator{
		evaluators:    make(map[models.RuleType]contracts.RuleTypeEvaluator, len(e.evaluators)),
		maxConcurrent: e.maxConcurrent,
		log:           e.log,
	}
	for t, ev := range e.evaluators {
		if scoped, ok := ev.(cacheScoped); ok {
			ev = scoped.WithCache(scratch)
		}
		c.evaluators[t] = ev
	}
	return c
}

// Supports reports whether a rule type has a registered evaluator
func (e *Evaluator) Supports(t models.RuleType) bool {
	_, ok := e.evaluators[t]
	return ok
}

// MaxConcurrent returns the fan-out limit
func (e *Evaluator) MaxConcurrent() int {
	return e.maxConcurrent
}

// EvaluateRules evaluates every rule concurrently against one prop snapshot.
// Results are returned in rule order; a failing rule never affects the others.
func (e *Evaluator) EvaluateRules(ctx context.Context, rules []models.Rule, props []models.PropRecord, now time.Time) []Result {
	results := make([]Result, len(rules))

	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)

	for i := range rules {
		g.Go(func() error {
			results[i] = e.evaluateOne(ctx, rules[i], props, now)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// EvaluateRule evaluates a single rule, ignoring cooldown
func (e *Evaluator) EvaluateRule(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) ([]models.AlertTrigger, error) {
	res := e.evaluateOne(ctx, rule, props, now)
	return res.Triggers, res.Err
}

func (e *Evaluator) evaluateOne(ctx context.Context, rule models.Rule, props []models.PropRecord, now time.Time) (res Result) {
	res.Rule = rule

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("evaluator").Inc()
			e.log.Error().
				Str("rule_id", rule.RuleID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic during rule evaluation")
			res.Triggers = nil
			res.Err = fmt.Errorf("rule %s panicked: %v", rule.RuleID, r)
		}
		status := "ok"
		if res.Err != nil {
			status = "error"
		}
		metrics.RulesEvaluated.WithLabelValues(string(rule.RuleType), status).Inc()
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	ev, ok := e.evaluators[rule.RuleType]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", models.ErrUnknownRuleType, rule.RuleType)
		return res
	}

	triggers, err := ev.Evaluate(ctx, rule, props, now)
	if err != nil {
		res.Err = fmt.Errorf("evaluate rule %s (%s): %w", rule.RuleID, rule.RuleType, err)
		return res
	}

	for _, t := range triggers {
		metrics.TriggersTotal.WithLabelValues(string(t.TriggerType), string(t.Severity)).Inc()
	}
	res.Triggers = triggers
	return res
}
