package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"golang.org/x/sync/errgroup"
)

type attemptKey struct {
	triggerID string
	channel   models.Channel
}

type attemptCounter struct {
	n    int
	last time.Time
}

type ledgerEntry struct {
	attempt models.DeliveryAttempt
	item    delivery
	retried bool
}

// Run starts one worker per configured channel plus the cleanup worker.
// It blocks until ctx is cancelled and every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for ch := range d.senders {
		g.Go(func() error {
			d.worker(ctx, ch)
			return nil
		})
	}
	g.Go(func() error {
		d.cleanupLoop(ctx)
		return nil
	})

	d.log.Info().Int("channels", len(d.senders)).Msg("dispatcher started")
	err := g.Wait()
	d.log.Info().Msg("dispatcher stopped")
	return err
}

// worker drains one channel queue in FIFO order
func (d *Dispatcher) worker(ctx context.Context, ch models.Channel) {
	q := d.queues[ch]
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q:
			metrics.QueueDepth.WithLabelValues(string(ch)).Set(float64(len(q)))
			d.deliver(ctx, ch, item)
		}
	}
}

// deliver makes one attempt and records it in the ledger
func (d *Dispatcher) deliver(ctx context.Context, ch models.Channel, item delivery) {
	now := d.now()
	if item.trigger.Expired(now) {
		d.log.Debug().Str("trigger_id", item.trigger.TriggerID).Str("channel", string(ch)).Msg("trigger expired before delivery")
		return
	}

	attempt := models.DeliveryAttempt{
		AlertEventID:  item.trigger.TriggerID,
		UserID:        item.trigger.UserID,
		Channel:       ch,
		AttemptNumber: d.nextAttempt(attemptKey{item.trigger.TriggerID, ch}, now),
		AttemptedAt:   now,
		Status:        models.DeliveryPending,
	}

	start := time.Now()
	err := d.send(ctx, ch, item)
	metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

	if err != nil {
		msg := err.Error()
		attempt.Status = models.DeliveryFailed
		attempt.ErrorMessage = &msg
		d.log.Warn().
			Err(err).
			Str("trigger_id", item.trigger.TriggerID).
			Str("channel", string(ch)).
			Int("attempt", attempt.AttemptNumber).
			Msg("delivery failed")
	} else {
		delivered := d.now()
		attempt.Status = models.DeliverySent
		attempt.DeliveredAt = &delivered
	}
	metrics.DeliveriesTotal.WithLabelValues(string(ch), string(attempt.Status)).Inc()

	d.mu.Lock()
	d.ledger = append(d.ledger, ledgerEntry{attempt: attempt, item: item})
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Delivered++
	}
	d.mu.Unlock()

	if d.attemptLog != nil {
		if err := d.attemptLog.RecordAttempt(ctx, attempt); err != nil {
			d.log.Error().Err(err).Str("trigger_id", attempt.AlertEventID).Msg("failed to persist delivery attempt")
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, ch models.Channel, item delivery) (err error) {
	sender, ok := d.senders[ch]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoSender, ch)
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("dispatcher").Inc()
			d.log.Error().
				Str("channel", string(ch)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic in sender")
			err = fmt.Errorf("sender %s panicked: %v", ch, r)
		}
	}()

	return sender.Send(ctx, item.trigger, item.prefs)
}

// nextAttempt returns the 1-based attempt number for a trigger on a channel
func (d *Dispatcher) nextAttempt(k attemptKey, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.counters[k]
	if !ok {
		c = &attemptCounter{}
		d.counters[k] = c
	}
	c.n++
	c.last = now
	return c.n
}

// ListAttempts returns the delivery attempts for a trigger.
// The persistent log is used when configured.
func (d *Dispatcher) ListAttempts(ctx context.Context, triggerID string) ([]models.DeliveryAttempt, error) {
	if d.attemptLog != nil {
		return d.attemptLog.ListAttempts(ctx, triggerID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.DeliveryAttempt
	for _, e := range d.ledger {
		if e.attempt.AlertEventID == triggerID {
			out = append(out, e.attempt)
		}
	}
	return out, nil
}
