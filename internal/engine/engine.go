package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/evaluator"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/rs/zerolog"
)

var (
	// ErrRuleNotFound is returned for unknown rule ids
	ErrRuleNotFound = errors.New("rule not found")
	// ErrTriggerNotFound is returned for unknown trigger ids
	ErrTriggerNotFound = errors.New("trigger not found")
)

// Deduplicator suppresses triggers whose signature was accepted recently
type Deduplicator interface {
	Reserve(ctx context.Context, trigger models.AlertTrigger) (bool, error)
	Release(ctx context.Context, trigger models.AlertTrigger) error
	Purge(ctx context.Context, now time.Time) (int, error)
	Size(ctx context.Context) (int, error)
}

// Dispatcher accepts triggers for delivery
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger models.AlertTrigger) (bool, error)
}

// Config holds engine settings reported on the status endpoint
type Config struct {
	EvaluationInterval time.Duration
	// LedgerRetention bounds how long triggers without an expiry stay in the ledger
	LedgerRetention time.Duration
}

// Dependencies are the engine's collaborators
type Dependencies struct {
	Props      contracts.PropDataSource
	Rules      contracts.RuleStore
	Evaluator  *evaluator.Evaluator
	Dedup      Deduplicator
	Dispatcher Dispatcher
}

// Stats are cumulative evaluation counters
type Stats struct {
	EvaluationsTotal     int64      `json:"evaluations_total"`
	AlertsTriggered      int64      `json:"alerts_triggered"`
	AlertsDeduplicated   int64      `json:"alerts_deduplicated"`
	RulesEvaluated       int64      `json:"rules_evaluated"`
	LastEvaluationTime   *time.Time `json:"last_evaluation_time"`
	EvaluationDurationMS int64      `json:"evaluation_duration_ms"`
	EvaluationErrors     int64      `json:"evaluation_errors"`
	AlertsRejected       int64      `json:"alerts_rejected"`
}

// Engine owns the active rule set and the triggered-alerts ledger and runs evaluation passes
type Engine struct {
	cfg        Config
	props      contracts.PropDataSource
	store      contracts.RuleStore
	evaluator  *evaluator.Evaluator
	dedup      Deduplicator
	dispatcher Dispatcher
	now        func() time.Time
	log        zerolog.Logger

	// evalMu serialises evaluation passes
	evalMu sync.Mutex

	mu        sync.RWMutex
	rules     map[string]models.Rule
	triggered map[string]models.AlertTrigger
	loaded    bool
	stats     Stats
}

// New creates an engine
func New(cfg Config, deps Dependencies) *Engine {
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = 30 * time.Second
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = 24 * time.Hour
	}

	return &Engine{
		cfg:        cfg,
		props:      deps.Props,
		store:      deps.Rules,
		evaluator:  deps.Evaluator,
		dedup:      deps.Dedup,
		dispatcher: deps.Dispatcher,
		now:        time.Now,
		log:        logger.WithComponent("engine"),
		rules:      make(map[string]models.Rule),
		triggered:  make(map[string]models.AlertTrigger),
	}
}

// WithClock replaces the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// EvaluationReport summarises one evaluation pass
type EvaluationReport struct {
	RulesEvaluated int `json:"rules_evaluated"`
	RuleErrors     int `json:"rule_errors"`
	Triggers       int `json:"triggers"`
	Dispatched     int `json:"dispatched"`
	Deduplicated   int `json:"deduplicated"`
	Rejected       int `json:"rejected"`
}

// EvaluateAllRules runs one evaluation pass over every eligible rule
func (e *Engine) EvaluateAllRules(ctx context.Context) (EvaluationReport, error) {
	return e.evaluate(ctx, "")
}

// EvaluateUserRules runs one evaluation pass restricted to a user's rules
func (e *Engine) EvaluateUserRules(ctx context.Context, userID string) (EvaluationReport, error) {
	return e.evaluate(ctx, userID)
}

func (e *Engine) evaluate(ctx context.Context, userID string) (EvaluationReport, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	var report EvaluationReport
	began := time.Now()
	start := e.now()

	if !e.isLoaded() {
		if err := e.SyncRules(ctx); err != nil {
			return report, err
		}
	}

	props, err := e.props.FetchProps(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch props: %w", err)
	}

	defer func() {
		elapsed := time.Since(began)
		metrics.EvaluationsTotal.Inc()
		metrics.EvaluationDuration.Observe(elapsed.Seconds())

		e.mu.Lock()
		e.stats.EvaluationsTotal++
		e.stats.RulesEvaluated += int64(report.RulesEvaluated)
		e.stats.EvaluationErrors += int64(report.RuleErrors)
		e.stats.LastEvaluationTime = &start
		e.stats.EvaluationDurationMS = elapsed.Milliseconds()
		e.mu.Unlock()
	}()

	if len(props) == 0 {
		e.log.Debug().Msg("no prop data available for evaluation")
		return report, nil
	}

	rules := e.eligibleRules(start, userID)
	if len(rules) == 0 {
		return report, nil
	}

	results := e.evaluator.EvaluateRules(ctx, rules, props, start)
	report.RulesEvaluated = len(results)

	for _, res := range results {
		if res.Err != nil {
			report.RuleErrors++
			e.log.Error().Err(res.Err).Str("rule_id", res.Rule.RuleID).Msg("rule evaluation failed")
			continue
		}
		if len(res.Triggers) == 0 {
			continue
		}

		e.markTriggered(ctx, res.Rule.RuleID, start)
		report.Triggers += len(res.Triggers)

		dispatched, deduplicated, rejected := e.ProcessTriggers(ctx, res.Triggers)
		report.Dispatched += dispatched
		report.Deduplicated += deduplicated
		report.Rejected += rejected
	}

	e.log.Debug().
		Int("rules", report.RulesEvaluated).
		Int("triggers", report.Triggers).
		Int("dispatched", report.Dispatched).
		Int("deduplicated", report.Deduplicated).
		Msg("evaluation pass complete")

	return report, nil
}

// ProcessTriggers filters duplicates and hands the rest to the dispatcher.
// A trigger the dispatcher does not accept releases its dedup reservation.
func (e *Engine) ProcessTriggers(ctx context.Context, triggers []models.AlertTrigger) (dispatched, deduplicated, rejected int) {
	for _, t := range triggers {
		fresh, err := e.dedup.Reserve(ctx, t)
		if err != nil {
			e.log.Error().Err(err).Str("trigger_id", t.TriggerID).Msg("dedup check failed")
			rejected++
			continue
		}
		if !fresh {
			deduplicated++
			metrics.TriggersDeduplicated.Inc()
			continue
		}

		accepted, err := e.dispatcher.Dispatch(ctx, t)
		if err != nil {
			e.log.Error().Err(err).Str("trigger_id", t.TriggerID).Msg("dispatch failed")
		}
		if !accepted {
			rejected++
			if err := e.dedup.Release(ctx, t); err != nil {
				e.log.Warn().Err(err).Str("trigger_id", t.TriggerID).Msg("failed to release dedup reservation")
			}
			continue
		}

		dispatched++
		e.mu.Lock()
		e.triggered[t.TriggerID] = t
		e.mu.Unlock()

		e.log.Info().
			Str("trigger_id", t.TriggerID).
			Str("rule_id", t.RuleID).
			Str("user_id", t.UserID).
			Str("severity", string(t.Severity)).
			Msg(t.Title)
	}

	e.mu.Lock()
	e.stats.AlertsTriggered += int64(dispatched)
	e.stats.AlertsDeduplicated += int64(deduplicated)
	e.stats.AlertsRejected += int64(rejected)
	e.mu.Unlock()

	return dispatched, deduplicated, rejected
}

func (e *Engine) eligibleRules(now time.Time, userID string) []models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]models.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if userID != "" && r.UserID != userID {
			continue
		}
		if r.Eligible(now) {
			rules = append(rules, r)
		}
	}
	return rules
}

// markTriggered starts the rule's cooldown at the evaluation timestamp
func (e *Engine) markTriggered(ctx context.Context, ruleID string, at time.Time) {
	e.mu.Lock()
	r, ok := e.rules[ruleID]
	if ok {
		r.LastTriggered = &at
		e.rules[ruleID] = r
	}
	e.mu.Unlock()

	if !ok || e.store == nil {
		return
	}
	if err := e.store.UpdateLastTriggered(ctx, ruleID, at); err != nil {
		e.log.Warn().Err(err).Str("rule_id", ruleID).Msg("failed to persist last_triggered")
	}
}

// CleanupExpired drops expired triggers from the ledger and purges stale dedup entries
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	now := e.now()
	cutoff := now.Add(-e.cfg.LedgerRetention)

	e.mu.Lock()
	removed := 0
	for id, t := range e.triggered {
		if t.Expired(now) || (t.ExpiresAt == nil && t.TriggeredAt.Before(cutoff)) {
			delete(e.triggered, id)
			removed++
		}
	}
	e.mu.Unlock()

	purged, err := e.dedup.Purge(ctx, now)
	if err != nil {
		return removed, fmt.Errorf("purge dedup entries: %w", err)
	}

	if removed > 0 || purged > 0 {
		e.log.Info().Int("triggers", removed).Int("dedup_entries", purged).Msg("cleaned up expired data")
	}
	return removed, nil
}

// Stats returns a snapshot of the counters
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// ActiveRuleCount returns the number of rules held by the engine
func (e *Engine) ActiveRuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// TriggeredCount returns the size of the triggered-alerts ledger
func (e *Engine) TriggeredCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.triggered)
}

// DedupSize returns the number of live dedup entries
func (e *Engine) DedupSize(ctx context.Context) (int, error) {
	return e.dedup.Size(ctx)
}

// EvaluationInterval returns the configured tick interval
func (e *Engine) EvaluationInterval() time.Duration {
	return e.cfg.EvaluationInterval
}

// MaxConcurrent returns the evaluator fan-out limit
func (e *Engine) MaxConcurrent() int {
	return e.evaluator.MaxConcurrent()
}

func (e *Engine) isLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}
