package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr        string   `env:"ALERT_ENGINE_ADDR,default=:8090"`
	CORSOrigins []string `env:"ALERT_CORS_ORIGIN,default=http://localhost:3000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL string `env:"REDIS_URL,default=redis://localhost:6380"`
}

// DatabaseConfig holds Postgres configuration. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN string `env:"DATABASE_DSN"`
}

// EvaluationConfig controls the rule evaluation loop
type EvaluationConfig struct {
	Interval            time.Duration `env:"ALERT_EVALUATION_INTERVAL,default=30s"`
	MaxConcurrent       int           `env:"ALERT_MAX_CONCURRENT_EVALUATIONS,default=10"`
	DedupWindow         time.Duration `env:"ALERT_DEDUP_WINDOW,default=15m"`
	DedupBackend        string        `env:"ALERT_DEDUP_BACKEND,default=memory"`
	EdgeDetectionWindow time.Duration `env:"ALERT_EDGE_DETECTION_WINDOW,default=6h"`
	PropsKey            string        `env:"ALERT_PROPS_KEY,default=props:current"`
}

// SchedulerConfig controls loop timing and the error policy
type SchedulerConfig struct {
	RuleSyncInterval     time.Duration `env:"ALERT_RULE_SYNC_INTERVAL,default=5m"`
	CleanupInterval      time.Duration `env:"ALERT_CLEANUP_INTERVAL,default=10m"`
	MaintenanceInterval  time.Duration `env:"ALERT_MAINTENANCE_INTERVAL,default=1m"`
	HealthCheckInterval  time.Duration `env:"ALERT_HEALTH_INTERVAL,default=60s"`
	QueueDepthWarn       int           `env:"ALERT_QUEUE_DEPTH_WARN,default=500"`
	MaxConsecutiveErrors int           `env:"ALERT_MAX_CONSECUTIVE_ERRORS,default=5"`
	ErrorBackoff         time.Duration `env:"ALERT_ERROR_BACKOFF,default=30s"`
}

// DispatchConfig controls delivery queues, retries and senders
type DispatchConfig struct {
	QueueSize            int           `env:"ALERT_DELIVERY_QUEUE_SIZE,default=1000"`
	Retention            time.Duration `env:"ALERT_DELIVERY_RETENTION,default=168h"`
	RetryDelay           time.Duration `env:"ALERT_RETRY_DELAY,default=15m"`
	MaxAttempts          int           `env:"ALERT_MAX_DELIVERY_ATTEMPTS,default=3"`
	CleanupInterval      time.Duration `env:"ALERT_DISPATCH_CLEANUP_INTERVAL,default=5m"`
	RateLimitBackend     string        `env:"ALERT_RATE_LIMIT_BACKEND,default=memory"`
	QuietHoursTimezone   string        `env:"ALERT_QUIET_HOURS_TZ,default=UTC"`
	EmailSMTPURL         string        `env:"ALERT_EMAIL_SMTP_URL"`
	WebhookTimeout       time.Duration `env:"ALERT_WEBHOOK_TIMEOUT,default=10s"`
	WebhookRatePerSecond float64       `env:"ALERT_WEBHOOK_RATE_PER_SECOND,default=10"`
}

// StreamConfig defines the Redis streams consumed and produced
type StreamConfig struct {
	OpportunitiesStream string        `env:"ALERT_OPPORTUNITIES_STREAM,default=opportunities.detected"`
	TriggeredStream     string        `env:"ALERT_TRIGGERED_STREAM,default=alerts.triggered"`
	ConsumerGroup       string        `env:"ALERT_CONSUMER_GROUP,default=alert-engine"`
	ConsumerID          string        `env:"ALERT_CONSUMER_ID,default=alert-engine-1"`
	MaxDataAge          time.Duration `env:"ALERT_OPPORTUNITY_MAX_AGE,default=30s"`
}

// Config holds all application configuration
type Config struct {
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Evaluation EvaluationConfig
	Scheduler  SchedulerConfig
	Dispatch   DispatchConfig
	Stream     StreamConfig
}

// Load loads configuration from the process environment
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom loads configuration from an arbitrary lookuper
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express
func (c *Config) Validate() error {
	if c.Evaluation.Interval <= 0 {
		return fmt.Errorf("ALERT_EVALUATION_INTERVAL must be positive")
	}
	if c.Evaluation.MaxConcurrent < 1 {
		return fmt.Errorf("ALERT_MAX_CONCURRENT_EVALUATIONS must be at least 1")
	}
	if c.Evaluation.DedupWindow <= 0 {
		return fmt.Errorf("ALERT_DEDUP_WINDOW must be positive")
	}
	if err := checkBackend("ALERT_DEDUP_BACKEND", c.Evaluation.DedupBackend); err != nil {
		return err
	}
	if err := checkBackend("ALERT_RATE_LIMIT_BACKEND", c.Dispatch.RateLimitBackend); err != nil {
		return err
	}
	if c.Scheduler.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("ALERT_MAX_CONSECUTIVE_ERRORS must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("ALERT_DELIVERY_QUEUE_SIZE must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("ALERT_MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if _, err := time.LoadLocation(c.Dispatch.QuietHoursTimezone); err != nil {
		return fmt.Errorf("ALERT_QUIET_HOURS_TZ: %w", err)
	}
	return nil
}

// QuietHoursLocation returns the location quiet hours are evaluated in
func (c *Config) QuietHoursLocation() *time.Location {
	loc, err := time.LoadLocation(c.Dispatch.QuietHoursTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func checkBackend(key, value string) error {
	switch value {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("%s must be memory or redis, got %q", key, value)
	}
}
