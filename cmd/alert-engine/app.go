package main

import (
	"context"
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/cache"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dedup"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dispatcher"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/engine"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/evaluator"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/hub"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/notifier"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/publisher"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/ratelimit"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/retry"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/source"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/store"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/redis/go-redis/v9"
)

// stores groups the persistence interfaces, served by Postgres or memory
type stores interface {
	contracts.RuleStore
	contracts.PreferenceStore
	contracts.NotificationStore
	contracts.AttemptLog
}

// app holds the wired service
type app struct {
	cfg        *config.Config
	redis      *redis.Client
	db         *store.Postgres
	stores     stores
	hub        *hub.Hub
	engine     *engine.Engine
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	handler    *handlers.Handler
}

// newApp connects to Redis and Postgres and wires every component
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.WithComponent("main")
	connect := retry.NewPolicy(5, 500*time.Millisecond)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	if err := connect.Do(ctx, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", redisOpts.Addr).Msg("connected to Redis")

	a := &app{cfg: cfg, redis: redisClient}

	if cfg.Database.DSN != "" {
		db, err := store.NewPostgres(cfg.Database.DSN)
		if err != nil {
			a.close()
			return nil, err
		}
		a.db = db

		if err := connect.Do(ctx, db.Ping); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.stores = db
		log.Info().Msg("connected to database")
	} else {
		a.stores = store.NewMemory()
		log.Warn().Msg("DATABASE_DSN not set - rules, preferences and delivery history are kept in memory")
	}

	history := source.NewLineHistory(redisClient, 0)
	props := source.NewRedisPropSource(redisClient, cfg.Evaluation.PropsKey, history)

	var (
		detections contracts.DetectionCache
		dedupe     engine.Deduplicator
	)
	switch cfg.Evaluation.DedupBackend {
	case "redis":
		detections = cache.NewRedis(redisClient)
		dedupe = dedup.NewRedis(redisClient, cfg.Evaluation.DedupWindow)
	default:
		detections = cache.NewMemory(10 * time.Minute)
		dedupe = dedup.NewMemory(cfg.Evaluation.DedupWindow)
	}

	var limiter dispatcher.RateLimiter = ratelimit.NewWindow(time.Hour)
	if cfg.Dispatch.RateLimitBackend == "redis" {
		limiter = ratelimit.NewRedisWindow(redisClient, time.Hour)
	}

	a.hub = hub.New()
	senders := []contracts.Sender{
		notifier.NewInApp(a.stores, a.hub, publisher.NewStreamPublisher(redisClient, cfg.Stream.TriggeredStream)),
		notifier.NewWebhook(cfg.Dispatch.WebhookTimeout, cfg.Dispatch.WebhookRatePerSecond),
	}
	if cfg.Dispatch.EmailSMTPURL != "" {
		senders = append(senders, notifier.NewEmail(cfg.Dispatch.EmailSMTPURL))
	} else {
		log.Warn().Msg("ALERT_EMAIL_SMTP_URL not set - email delivery disabled")
	}

	a.dispatcher = dispatcher.New(dispatcher.Config{
		QueueSize:       cfg.Dispatch.QueueSize,
		Retention:       cfg.Dispatch.Retention,
		RetryDelay:      cfg.Dispatch.RetryDelay,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		CleanupInterval: cfg.Dispatch.CleanupInterval,
		Location:        cfg.QuietHoursLocation(),
	}, a.stores, limiter, a.stores, senders...)

	a.engine = engine.New(engine.Config{
		EvaluationInterval: cfg.Evaluation.Interval,
	}, engine.Dependencies{
		Props: props,
		Rules: a.stores,
		Evaluator: evaluator.NewDefault(cfg.Evaluation.MaxConcurrent, evaluator.Dependencies{
			Movement:   history,
			Steam:      history,
			Cache:      detections,
			EdgeWindow: cfg.Evaluation.EdgeDetectionWindow,
		}),
		Dedup:      dedupe,
		Dispatcher: a.dispatcher,
	})

	opportunities := consumer.NewStreamConsumer(redisClient, cfg.Stream.ConsumerID, cfg.Stream.ConsumerGroup, cfg.Stream.MaxDataAge)

	var sched *scheduler.Scheduler
	sched = scheduler.New(scheduler.Config{
		EvaluationInterval:   cfg.Evaluation.Interval,
		MaintenanceInterval:  cfg.Scheduler.MaintenanceInterval,
		RuleSyncInterval:     cfg.Scheduler.RuleSyncInterval,
		CleanupInterval:      cfg.Scheduler.CleanupInterval,
		HealthCheckInterval:  cfg.Scheduler.HealthCheckInterval,
		QueueDepthWarn:       cfg.Scheduler.QueueDepthWarn,
		MaxConsecutiveErrors: cfg.Scheduler.MaxConsecutiveErrors,
		ErrorBackoff:         cfg.Scheduler.ErrorBackoff,
	}, a.engine, a.dispatcher, scheduler.Component{
		Name: "opportunity-consumer",
		Run: func(ctx context.Context) error {
			return opportunities.Run(ctx, cfg.Stream.OpportunitiesStream, func(ctx context.Context, opps []models.Opportunity) error {
				_, err := sched.TriggerImmediateEvaluation(ctx, "")
				return err
			})
		},
	})
	a.scheduler = sched

	checks := map[string]handlers.Pinger{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if a.db != nil {
		checks["database"] = a.db.Ping
	}

	a.handler = handlers.NewHandler(handlers.Dependencies{
		Engine:        a.engine,
		Scheduler:     a.scheduler,
		Dispatcher:    a.dispatcher,
		Preferences:   a.stores,
		Notifications: a.stores,
		Checks:        checks,
	})

	return a, nil
}

func (a *app) close() {
	log := logger.WithComponent("main")

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing database")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing Redis")
		}
	}
}
