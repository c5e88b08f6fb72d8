package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/ratelimit"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/store"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSender struct {
	channel  models.Channel
	mu       sync.Mutex
	received []string
	failures int
}

func (s *recordingSender) Channel() models.Channel { return s.channel }

func (s *recordingSender) Send(ctx context.Context, trigger models.AlertTrigger, prefs models.UserDeliveryPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, trigger.TriggerID)
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp: connection refused")
	}
	return nil
}

func (s *recordingSender) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Time) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (brokenLimiter) Record(context.Context, string, time.Time) error { return nil }

func noon() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func trigger(id string, sev models.Severity, at time.Time) models.AlertTrigger {
	return models.AlertTrigger{
		TriggerID:   id,
		RuleID:      "rule-1",
		UserID:      "u1",
		PropID:      "prop-" + id,
		TriggerType: models.RuleTypeEVThreshold,
		Severity:    sev,
		Title:       "High EV Opportunity",
		TriggeredAt: at,
	}
}

func newDispatcher(t *testing.T, clk *clock, prefs *models.UserDeliveryPreferences, senders ...*recordingSender) (*Dispatcher, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	if prefs != nil {
		require.NoError(t, mem.SavePreferences(context.Background(), *prefs))
	}

	cfg := DefaultConfig()
	cfg.QueueSize = 16
	cfg.CleanupInterval = time.Hour

	d := New(cfg, mem, ratelimit.NewWindow(time.Hour), mem)
	for _, s := range senders {
		d.senders[s.channel] = s
		d.queues[s.channel] = make(chan delivery, cfg.QueueSize)
	}
	return d.WithClock(clk.Now), mem
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatch_RateLimit(t *testing.T) {
	clk := noon()
	prefs := models.DefaultPreferences("u1")
	prefs.RateLimitPerHour = 3
	d, _ := newDispatcher(t, clk, &prefs, &recordingSender{channel: models.ChannelInApp})

	for i := 1; i <= 3; i++ {
		ok, err := d.Dispatch(context.Background(), trigger(fmt.Sprintf("t%d", i), models.SeverityMedium, clk.Now()))
		require.NoError(t, err)
		assert.True(t, ok, "dispatch %d", i)
		clk.Advance(time.Minute)
	}

	ok, err := d.Dispatch(context.Background(), trigger("t4", models.SeverityMedium, clk.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), d.Stats().RateLimited)

	clk.Advance(time.Hour)
	ok, err = d.Dispatch(context.Background(), trigger("t5", models.SeverityMedium, clk.Now()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatch_LimiterErrorRejects(t *testing.T) {
	clk := noon()
	d, _ := newDispatcher(t, clk, nil, &recordingSender{channel: models.ChannelInApp})
	d.limiter = brokenLimiter{}

	ok, err := d.Dispatch(context.Background(), trigger("t1", models.SeverityHigh, clk.Now()))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestDispatch_SeverityThresholds(t *testing.T) {
	clk := noon()
	prefs := models.DefaultPreferences("u1")
	prefs.EnabledChannels = models.Channels

	inApp := &recordingSender{channel: models.ChannelInApp}
	email := &recordingSender{channel: models.ChannelEmail}
	webhook := &recordingSender{channel: models.ChannelWebhook}
	d, _ := newDispatcher(t, clk, &prefs, inApp, email, webhook)

	ok, err := d.Dispatch(context.Background(), trigger("med", models.SeverityMedium, clk.Now()))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Dispatch(context.Background(), trigger("low", models.SeverityLow, clk.Now()))
	require.NoError(t, err)
	assert.True(t, ok)

	depths := d.QueueDepths()
	assert.Equal(t, 2, depths[models.ChannelInApp])
	assert.Equal(t, 1, depths[models.ChannelEmail])
	assert.Equal(t, 0, depths[models.ChannelWebhook])
}

func TestDispatch_NoQualifyingChannel(t *testing.T) {
	clk := noon()
	prefs := models.DefaultPreferences("u1")
	prefs.EnabledChannels = []models.Channel{models.ChannelWebhook}
	d, _ := newDispatcher(t, clk, &prefs, &recordingSender{channel: models.ChannelWebhook})

	ok, err := d.Dispatch(context.Background(), trigger("t1", models.SeverityMedium, clk.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), d.Stats().NoChannel)
}

func TestDispatch_ExpiredTrigger(t *testing.T) {
	clk := noon()
	d, _ := newDispatcher(t, clk, nil, &recordingSender{channel: models.ChannelInApp})

	tr := trigger("t1", models.SeverityHigh, clk.Now().Add(-time.Hour))
	expired := clk.Now().Add(-time.Minute)
	tr.ExpiresAt = &expired

	ok, err := d.Dispatch(context.Background(), tr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatch_QuietHoursDeferAndRelease(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)}
	start, end := 23, 7
	prefs := models.DefaultPreferences("u1")
	prefs.QuietHoursStart = &start
	prefs.QuietHoursEnd = &end
	d, _ := newDispatcher(t, clk, &prefs, &recordingSender{channel: models.ChannelInApp})

	ok, err := d.Dispatch(context.Background(), trigger("keep", models.SeverityHigh, clk.Now()))
	require.NoError(t, err)
	assert.True(t, ok)

	short := trigger("short", models.SeverityHigh, clk.Now())
	exp := clk.Now().Add(time.Hour)
	short.ExpiresAt = &exp
	ok, err = d.Dispatch(context.Background(), short)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, d.DeferredCount())
	assert.Equal(t, 0, d.QueueDepths()[models.ChannelInApp])

	clk.Advance(3 * time.Hour)
	assert.Equal(t, 0, d.ReleaseDeferred(context.Background()))
	assert.Equal(t, 1, d.DeferredCount())

	clk.Advance(3 * time.Hour)
	assert.Equal(t, 1, d.ReleaseDeferred(context.Background()))
	assert.Equal(t, 0, d.DeferredCount())
	assert.Equal(t, 1, d.QueueDepths()[models.ChannelInApp])
}

func TestReleaseDeferred_RespectsRateLimit(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)}
	start, end := 23, 7
	prefs := models.DefaultPreferences("u1")
	prefs.QuietHoursStart = &start
	prefs.QuietHoursEnd = &end
	prefs.RateLimitPerHour = 3
	d, _ := newDispatcher(t, clk, &prefs, &recordingSender{channel: models.ChannelInApp})

	for i := 0; i < 10; i++ {
		ok, err := d.Dispatch(context.Background(), trigger(fmt.Sprintf("night-%d", i), models.SeverityHigh, clk.Now()))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 10, d.DeferredCount())

	clk.Advance(5 * time.Hour)
	assert.Equal(t, 3, d.ReleaseDeferred(context.Background()))
	assert.Equal(t, 7, d.DeferredCount())
	assert.Equal(t, 3, d.QueueDepths()[models.ChannelInApp])

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 0, d.ReleaseDeferred(context.Background()))
	assert.Equal(t, 7, d.DeferredCount())

	clk.Advance(time.Hour)
	assert.Equal(t, 3, d.ReleaseDeferred(context.Background()))
	assert.Equal(t, 4, d.DeferredCount())
	assert.Equal(t, 6, d.QueueDepths()[models.ChannelInApp])
}

func TestWorker_FIFOAndAttempts(t *testing.T) {
	clk := noon()
	inApp := &recordingSender{channel: models.ChannelInApp}
	d, mem := newDispatcher(t, clk, nil, inApp)

	var want []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		want = append(want, id)
		ok, err := d.Dispatch(context.Background(), trigger(id, models.SeverityHigh, clk.Now()))
		require.NoError(t, err)
		require.True(t, ok)
	}

	runDispatcher(t, d)
	require.Eventually(t, func() bool { return len(inApp.Received()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, inApp.Received())

	attempts, err := mem.ListAttempts(context.Background(), "t3")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.DeliverySent, attempts[0].Status)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.NotNil(t, attempts[0].DeliveredAt)
}

func TestCleanup_RetriesFailedDeliveries(t *testing.T) {
	clk := noon()
	email := &recordingSender{channel: models.ChannelEmail, failures: 10}
	prefs := models.DefaultPreferences("u1")
	prefs.EnabledChannels = []models.Channel{models.ChannelEmail}
	d, _ := newDispatcher(t, clk, &prefs, email)
	runDispatcher(t, d)

	ok, err := d.Dispatch(context.Background(), trigger("t1", models.SeverityHigh, clk.Now()))
	require.NoError(t, err)
	require.True(t, ok)

	attemptsFor := func() []models.DeliveryAttempt {
		a, err := d.ListAttempts(context.Background(), "t1")
		require.NoError(t, err)
		return a
	}
	require.Eventually(t, func() bool { return len(attemptsFor()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.DeliveryFailed, attemptsFor()[0].Status)
	require.NotNil(t, attemptsFor()[0].ErrorMessage)

	assert.Equal(t, 0, d.Cleanup(context.Background()).Retried, "retry delay not elapsed")

	clk.Advance(16 * time.Minute)
	assert.Equal(t, 1, d.Cleanup(context.Background()).Retried)
	require.Eventually(t, func() bool { return len(attemptsFor()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, attemptsFor()[1].AttemptNumber)
	assert.Equal(t, 0, d.Cleanup(context.Background()).Retried, "same failure is not re-queued twice")

	clk.Advance(16 * time.Minute)
	assert.Equal(t, 1, d.Cleanup(context.Background()).Retried)
	require.Eventually(t, func() bool { return len(attemptsFor()) == 3 }, 2*time.Second, 10*time.Millisecond)

	clk.Advance(16 * time.Minute)
	assert.Equal(t, 0, d.Cleanup(context.Background()).Retried, "attempt limit reached")
	assert.Len(t, email.Received(), 3)
}

func TestCleanup_PurgesOldAttempts(t *testing.T) {
	clk := noon()
	inApp := &recordingSender{channel: models.ChannelInApp}
	d, mem := newDispatcher(t, clk, nil, inApp)
	runDispatcher(t, d)

	_, err := d.Dispatch(context.Background(), trigger("t1", models.SeverityHigh, clk.Now()))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(inApp.Received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	clk.Advance(8 * 24 * time.Hour)
	res := d.Cleanup(context.Background())
	assert.Equal(t, 1, res.Purged)

	attempts, err := mem.ListAttempts(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestPreferences_CachedUntilInvalidated(t *testing.T) {
	clk := noon()
	d, mem := newDispatcher(t, clk, nil)

	prefs, err := d.Preferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRateLimitPerHour, prefs.RateLimitPerHour)

	updated := models.DefaultPreferences("u1")
	updated.RateLimitPerHour = 2
	require.NoError(t, mem.SavePreferences(context.Background(), updated))

	prefs, _ = d.Preferences(context.Background(), "u1")
	assert.Equal(t, models.DefaultRateLimitPerHour, prefs.RateLimitPerHour)

	d.Invalidate("u1")
	prefs, _ = d.Preferences(context.Background(), "u1")
	assert.Equal(t, 2, prefs.RateLimitPerHour)
}
