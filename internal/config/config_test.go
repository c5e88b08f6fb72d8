package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/config"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "redis://localhost:6380", cfg.Redis.URL)
	assert.Empty(t, cfg.Database.DSN)

	assert.Equal(t, 30*time.Second, cfg.Evaluation.Interval)
	assert.Equal(t, 10, cfg.Evaluation.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Evaluation.DedupWindow)
	assert.Equal(t, 6*time.Hour, cfg.Evaluation.EdgeDetectionWindow)

	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RuleSyncInterval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.CleanupInterval)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.HealthCheckInterval)
	assert.Equal(t, 5, cfg.Scheduler.MaxConsecutiveErrors)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ErrorBackoff)

	assert.Equal(t, 7*24*time.Hour, cfg.Dispatch.Retention)
	assert.Equal(t, 15*time.Minute, cfg.Dispatch.RetryDelay)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.CleanupInterval)

	assert.Equal(t, "opportunities.detected", cfg.Stream.OpportunitiesStream)
	assert.Equal(t, "alerts.triggered", cfg.Stream.TriggeredStream)
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxDataAge)
	assert.Equal(t, time.UTC, cfg.QuietHoursLocation())
}

func TestLoadFrom_CustomValues(t *testing.T) {
	cfg, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"ALERT_ENGINE_ADDR":                ":9191",
		"ALERT_CORS_ORIGIN":                "http://a.test,http://b.test",
		"ALERT_EVALUATION_INTERVAL":        "5s",
		"ALERT_MAX_CONCURRENT_EVALUATIONS": "4",
		"ALERT_DEDUP_BACKEND":              "redis",
		"ALERT_QUIET_HOURS_TZ":             "America/New_York",
		"DATABASE_DSN":                     "postgres://localhost/alerts",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Evaluation.Interval)
	assert.Equal(t, 4, cfg.Evaluation.MaxConcurrent)
	assert.Equal(t, "redis", cfg.Evaluation.DedupBackend)
	assert.Equal(t, "America/New_York", cfg.QuietHoursLocation().String())
	assert.Equal(t, "postgres://localhost/alerts", cfg.Database.DSN)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero concurrency", map[string]string{"ALERT_MAX_CONCURRENT_EVALUATIONS": "0"}},
		{"unknown dedup backend", map[string]string{"ALERT_DEDUP_BACKEND": "etcd"}},
		{"unknown rate limit backend", map[string]string{"ALERT_RATE_LIMIT_BACKEND": "disk"}},
		{"bad timezone", map[string]string{"ALERT_QUIET_HOURS_TZ": "Mars/Olympus"}},
		{"bad duration", map[string]string{"ALERT_EVALUATION_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			assert.Error(t, err)
		})
	}
}
