package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// ErrNoSender is recorded when a channel is enabled but has no sender configured
var ErrNoSender = errors.New("no sender for channel")

// RateLimiter counts deliveries per user over a trailing window
type RateLimiter interface {
	Allow(ctx context.Context, userID string, limit int, now time.Time) (bool, error)
	Record(ctx context.Context, userID string, now time.Time) error
}

// Config controls queueing, retention and retries
type Config struct {
	QueueSize       int
	Retention       time.Duration
	RetryDelay      time.Duration
	MaxAttempts     int
	CleanupInterval time.Duration
	PrefsTTL        time.Duration
	Location        *time.Location
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:       1000,
		Retention:       7 * 24 * time.Hour,
		RetryDelay:      15 * time.Minute,
		MaxAttempts:     3,
		CleanupInterval: 5 * time.Minute,
		PrefsTTL:        5 * time.Minute,
		Location:        time.UTC,
	}
}

type delivery struct {
	trigger models.AlertTrigger
	prefs   models.UserDeliveryPreferences
}

// Dispatcher fans triggers out to per-channel delivery queues
type Dispatcher struct {
	cfg        Config
	prefsStore contracts.PreferenceStore
	prefs      *gocache.Cache
	limiter    RateLimiter
	attemptLog contracts.AttemptLog
	senders    map[models.Channel]contracts.Sender
	queues     map[models.Channel]chan delivery
	now        func() time.Time
	log        zerolog.Logger

	cleanupMu sync.Mutex

	mu       sync.Mutex
	deferred map[string]models.AlertTrigger
	counters map[attemptKey]*attemptCounter
	ledger   []ledgerEntry
	stats    Stats
}

// Stats are cumulative dispatch counters
type Stats struct {
	Accepted    int64 `json:"accepted"`
	Deferred    int64 `json:"deferred"`
	RateLimited int64 `json:"rate_limited"`
	NoChannel   int64 `json:"no_channel"`
	Expired     int64 `json:"expired"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
	DroppedFull int64 `json:"dropped_queue_full"`
}

// New creates a dispatcher. attemptLog may be nil.
func New(cfg Config, prefsStore contracts.PreferenceStore, limiter RateLimiter, attemptLog contracts.AttemptLog, senders ...contracts.Sender) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.PrefsTTL <= 0 {
		cfg.PrefsTTL = def.PrefsTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	d := &Dispatcher{
		cfg:        cfg,
		prefsStore: prefsStore,
		prefs:      gocache.New(cfg.PrefsTTL, 2*cfg.PrefsTTL),
		limiter:    limiter,
		attemptLog: attemptLog,
		senders:    make(map[models.Channel]contracts.Sender),
		queues:     make(map[models.Channel]chan delivery),
		now:        time.Now,
		log:        logger.WithComponent("dispatcher"),
		deferred:   make(map[string]models.AlertTrigger),
		counters:   make(map[attemptKey]*attemptCounter),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
		d.queues[s.Channel()] = make(chan delivery, cfg.QueueSize)
	}
	return d
}

// WithClock replaces the time source
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch applies the user's preferences and queues the trigger on every eligible channel.
// It returns true when the trigger was queued on at least one channel or deferred for quiet hours.
// Rate limiting and thresholds are flow control and return false with a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger models.AlertTrigger) (bool, error) {
	now := d.now()

	if trigger.Expired(now) {
		d.count(func(s *Stats) { s.Expired++ }, "expired")
		return false, nil
	}

	prefs, err := d.Preferences(ctx, trigger.UserID)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return false, err
	}

	allowed, err := d.limiter.Allow(ctx, trigger.UserID, prefs.RateLimitPerHour, now)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("rate limit check for user %s: %w", trigger.UserID, err)
	}
	if !allowed {
		d.count(func(s *Stats) { s.RateLimited++ }, "rate_limited")
		d.log.Info().
			Str("user_id", trigger.UserID).
			Str("trigger_id", trigger.TriggerID).
			Int("limit", prefs.RateLimitPerHour).
			Msg("rate limit reached, alert rejected")
		return false, nil
	}

	if prefs.InQuietHours(now.In(d.cfg.Location).Hour()) {
		d.mu.Lock()
		d.deferred[trigger.TriggerID] = trigger
		n := len(d.deferred)
		d.mu.Unlock()

		metrics.DeferredAlerts.Set(float64(n))
		d.count(func(s *Stats) { s.Deferred++ }, "deferred")
		d.log.Debug().
			Str("user_id", trigger.UserID).
			Str("trigger_id", trigger.TriggerID).
			Msg("quiet hours active, alert deferred")
		return true, nil
	}

	return d.route(ctx, trigger, *prefs, now), nil
}

// route enqueues on every enabled channel the severity qualifies for
func (d *Dispatcher) route(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences, now time.Time) bool {
	queued := 0
	for _, ch := range prefs.EnabledChannels {
		if !trigger.Severity.AtLeast(prefs.Threshold(ch)) {
			continue
		}
		if d.enqueue(ch, delivery{trigger: trigger, prefs: prefs}) {
			queued++
		}
	}

	if queued == 0 {
		d.count(func(s *Stats) { s.NoChannel++ }, "below_threshold")
		return false
	}

	if err := d.limiter.Record(ctx, trigger.UserID, now); err != nil {
		d.log.Warn().Err(err).Str("user_id", trigger.UserID).Msg("failed to record delivery for rate limiting")
	}
	d.count(func(s *Stats) { s.Accepted++ }, "queued")
	return true
}

func (d *Dispatcher) enqueue(ch models.Channel, item delivery) bool {
	q, ok := d.queues[ch]
	if !ok {
		d.log.Warn().
			Err(ErrNoSender).
			Str("channel", string(ch)).
			Str("trigger_id", item.trigger.TriggerID).
			Msg("channel enabled but not configured")
		return false
	}

	select {
	case q <- item:
		metrics.QueueDepth.WithLabelValues(string(ch)).Set(float64(len(q)))
		return true
	default:
		d.count(func(s *Stats) { s.DroppedFull++ }, "queue_full")
		d.log.Warn().
			Str("channel", string(ch)).
			Str("trigger_id", item.trigger.TriggerID).
			Msg("delivery queue full, dropping")
		return false
	}
}

// Preferences returns the user's delivery preferences, falling back to the defaults
func (d *Dispatcher) Preferences(ctx context.Context, userID string) (*models.UserDeliveryPreferences, error) {
	if cached, ok := d.prefs.Get(userID); ok {
		prefs := cached.(models.UserDeliveryPreferences)
		return &prefs, nil
	}

	var prefs *models.UserDeliveryPreferences
	if d.prefsStore != nil {
		p, err := d.prefsStore.GetPreferences(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load preferences for user %s: %w", userID, err)
		}
		prefs = p
	}
	if prefs == nil {
		def := models.DefaultPreferences(userID)
		prefs = &def
	}

	d.prefs.SetDefault(userID, *prefs)
	return prefs, nil
}

// Invalidate drops a user's cached preferences
func (d *Dispatcher) Invalidate(userID string) {
	d.prefs.Delete(userID)
}

// QueueDepths returns the number of pending deliveries per channel
func (d *Dispatcher) QueueDepths() map[models.Channel]int {
	depths := make(map[models.Channel]int, len(d.queues))
	for ch, q := range d.queues {
		depths[ch] = len(q)
	}
	return depths
}

// DeferredCount returns the number of alerts held for quiet hours
func (d *Dispatcher) DeferredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deferred)
}

// Stats returns a snapshot of the dispatch counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) count(fn func(*Stats), outcome string) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
	metrics.DispatchTotal.WithLabelValues(outcome).Inc()
}
