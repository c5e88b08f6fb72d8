package dispatcher

import (
	"context"
	"sort"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
)

// CleanupResult summarises one cleanup pass
type CleanupResult struct {
	Purged  int
	Retried int
}

type retryCandidate struct {
	index   int
	channel models.Channel
	item    delivery
}

func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := d.Cleanup(ctx)
			if res.Purged > 0 || res.Retried > 0 {
				d.log.Info().Int("purged", res.Purged).Int("retried", res.Retried).Msg("delivery cleanup")
			}
		}
	}
}

// Cleanup purges attempts older than the retention window and re-queues
// failed attempts that are under the attempt limit and older than the retry delay.
// Each failed attempt is re-queued at most once.
func (d *Dispatcher) Cleanup(ctx context.Context) CleanupResult {
	d.cleanupMu.Lock()
	defer d.cleanupMu.Unlock()

	now := d.now()
	cutoff := now.Add(-d.cfg.Retention)
	var res CleanupResult

	d.mu.Lock()
	kept := d.ledger[:0]
	for _, e := range d.ledger {
		if e.attempt.AttemptedAt.Before(cutoff) {
			res.Purged++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(d.ledger); i++ {
		d.ledger[i] = ledgerEntry{}
	}
	d.ledger = kept

	for k, c := range d.counters {
		if c.last.Before(cutoff) {
			delete(d.counters, k)
		}
	}

	var candidates []retryCandidate
	for i := range d.ledger {
		e := &d.ledger[i]
		if e.retried || e.attempt.Status != models.DeliveryFailed {
			continue
		}
		if e.attempt.AttemptNumber >= d.cfg.MaxAttempts || now.Sub(e.attempt.AttemptedAt) < d.cfg.RetryDelay {
			continue
		}
		e.retried = true
		if _, ok := d.senders[e.attempt.Channel]; !ok || e.item.trigger.Expired(now) {
			continue
		}
		candidates = append(candidates, retryCandidate{index: i, channel: e.attempt.Channel, item: e.item})
	}
	d.mu.Unlock()

	for _, c := range candidates {
		if !d.enqueue(c.channel, c.item) {
			d.mu.Lock()
			d.ledger[c.index].retried = false
			d.mu.Unlock()
			continue
		}
		res.Retried++
		metrics.DeliveryRetries.WithLabelValues(string(c.channel)).Inc()
	}

	if res.Retried > 0 {
		d.mu.Lock()
		d.stats.Retried += int64(res.Retried)
		d.mu.Unlock()
	}

	if d.attemptLog != nil {
		if n, err := d.attemptLog.PurgeAttempts(ctx, cutoff); err != nil {
			d.log.Error().Err(err).Msg("failed to purge delivery attempt log")
		} else if n > 0 {
			d.log.Debug().Int64("purged", n).Msg("purged delivery attempt log")
		}
	}

	return res
}

// ReleaseDeferred routes deferred alerts whose user is no longer in quiet hours
// and is under the hourly rate limit. Expired alerts are dropped.
// It returns the number of alerts queued.
func (d *Dispatcher) ReleaseDeferred(ctx context.Context) int {
	now := d.now()

	d.mu.Lock()
	pending := make([]models.AlertTrigger, 0, len(d.deferred))
	for _, t := range d.deferred {
		pending = append(pending, t)
	}
	d.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].TriggeredAt.Before(pending[j].TriggeredAt)
	})

	released := 0
	for _, t := range pending {
		if t.Expired(now) {
			d.removeDeferred(t.TriggerID)
			d.count(func(s *Stats) { s.Expired++ }, "expired")
			continue
		}

		prefs, err := d.Preferences(ctx, t.UserID)
		if err != nil {
			d.log.Warn().Err(err).Str("trigger_id", t.TriggerID).Msg("cannot release deferred alert")
			continue
		}
		if prefs.InQuietHours(now.In(d.cfg.Location).Hour()) {
			continue
		}

		// stays deferred until the trailing hour has room
		allowed, err := d.limiter.Allow(ctx, t.UserID, prefs.RateLimitPerHour, now)
		if err != nil {
			d.log.Warn().Err(err).Str("trigger_id", t.TriggerID).Msg("rate limit check failed, alert stays deferred")
			continue
		}
		if !allowed {
			continue
		}

		d.removeDeferred(t.TriggerID)
		if d.route(ctx, t, *prefs, now) {
			released++
		}
	}

	metrics.DeferredAlerts.Set(float64(d.DeferredCount()))
	return released
}

func (d *Dispatcher) removeDeferred(triggerID string) {
	d.mu.Lock()
	delete(d.deferred, triggerID)
	d.mu.Unlock()
}
