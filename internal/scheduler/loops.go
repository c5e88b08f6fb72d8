package scheduler

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
)

// evaluationLoop evaluates immediately, then once per interval.
// Failures back off; reaching the consecutive error limit halts the scheduler.
func (s *Scheduler) evaluationLoop(ctx context.Context) error {
	for {
		delay := s.cfg.EvaluationInterval

		report, err := s.engine.EvaluateAllRules(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			n := s.recordFailure(err)
			if n >= s.cfg.MaxConsecutiveErrors {
				s.log.Error().
					Err(err).
					Int("consecutive_errors", n).
					Msg("evaluation loop halted")
				return ErrHalted
			}

			s.log.Warn().
				Err(err).
				Int("consecutive_errors", n).
				Dur("backoff", s.cfg.ErrorBackoff).
				Msg("evaluation failed, backing off")
			delay = s.cfg.ErrorBackoff
		} else {
			s.recordSuccess()
			if report.Triggers > 0 {
				s.log.Info().
					Int("rules", report.RulesEvaluated).
					Int("dispatched", report.Dispatched).
					Int("deduplicated", report.Deduplicated).
					Msg("evaluation produced alerts")
			}
		}

		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (s *Scheduler) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveErrors++
	s.lastError = err.Error()
	metrics.ConsecutiveErrors.Set(float64(s.consecutiveErrors))
	return s.consecutiveErrors
}

func (s *Scheduler) recordSuccess() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveErrors = 0
	s.lastEvaluation = &now
	metrics.ConsecutiveErrors.Set(0)
}

// maintenanceLoop releases deferred alerts every tick and runs rule sync and
// ledger cleanup on their own intervals
func (s *Scheduler) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

func (s *Scheduler) maintain(ctx context.Context) {
	if released := s.dispatcher.ReleaseDeferred(ctx); released > 0 {
		s.log.Info().Int("released", released).Msg("released deferred alerts")
	}

	now := s.now()

	s.mu.Lock()
	syncDue := now.Sub(s.lastSync) >= s.cfg.RuleSyncInterval
	cleanupDue := now.Sub(s.lastCleanup) >= s.cfg.CleanupInterval
	s.mu.Unlock()

	if syncDue {
		if err := s.engine.SyncRules(ctx); err != nil {
			s.log.Error().Err(err).Msg("rule sync failed")
		} else {
			s.mu.Lock()
			s.lastSync = now
			s.mu.Unlock()
		}
	}

	if cleanupDue {
		if _, err := s.engine.CleanupExpired(ctx); err != nil {
			s.log.Error().Err(err).Msg("cleanup failed")
		}
		s.mu.Lock()
		s.lastCleanup = now
		s.mu.Unlock()
	}
}

// healthMonitor reports queue depths and warns about backlogs and a stalled evaluation loop
func (s *Scheduler) healthMonitor(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Scheduler) checkHealth() {
	for ch, depth := range s.dispatcher.QueueDepths() {
		metrics.QueueDepth.WithLabelValues(string(ch)).Set(float64(depth))
		if depth > s.cfg.QueueDepthWarn {
			s.log.Warn().
				Str("channel", string(ch)).
				Int("depth", depth).
				Int("threshold", s.cfg.QueueDepthWarn).
				Msg("delivery queue backlog")
		}
	}
	metrics.DeferredAlerts.Set(float64(s.dispatcher.DeferredCount()))

	now := s.now()

	s.mu.Lock()
	last, started := s.lastEvaluation, s.startedAt
	s.mu.Unlock()

	since := started
	if last != nil {
		since = last
	}
	if since == nil {
		return
	}

	// one error backoff may separate passes
	limit := 3*s.cfg.EvaluationInterval + s.cfg.ErrorBackoff
	if now.Sub(*since) > limit {
		s.log.Warn().
			Time("last_evaluation", *since).
			Dur("limit", limit).
			Msg("evaluation loop has not completed a pass recently")
	}
}

// sleep waits for d or ctx cancellation and reports whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
