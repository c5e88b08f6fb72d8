package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/engine"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State is the scheduler lifecycle state
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateError    State = "ERROR"
)

var states = []State{StateStopped, StateStarting, StateRunning, StateStopping, StateError}

var (
	// ErrHalted is returned by the evaluation loop once consecutive failures reach the limit
	ErrHalted = errors.New("scheduler halted after consecutive evaluation errors")
	// ErrNotRunning is returned by immediate evaluation outside the RUNNING state
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrStopping is returned by Start while a stop is in progress
	ErrStopping = errors.New("scheduler is stopping")
)

// Engine is the evaluation pipeline driven by the scheduler
type Engine interface {
	EvaluateAllRules(ctx context.Context) (engine.EvaluationReport, error)
	EvaluateUserRules(ctx context.Context, userID string) (engine.EvaluationReport, error)
	SyncRules(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
}

// Dispatcher runs the delivery workers and holds quiet-hours deferrals
type Dispatcher interface {
	Run(ctx context.Context) error
	ReleaseDeferred(ctx context.Context) int
	QueueDepths() map[models.Channel]int
	DeferredCount() int
}

// Config controls loop timing and the error policy
type Config struct {
	EvaluationInterval   time.Duration
	MaintenanceInterval  time.Duration
	RuleSyncInterval     time.Duration
	CleanupInterval      time.Duration
	HealthCheckInterval  time.Duration
	QueueDepthWarn       int
	MaxConsecutiveErrors int
	ErrorBackoff         time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		EvaluationInterval:   30 * time.Second,
		MaintenanceInterval:  time.Minute,
		RuleSyncInterval:     5 * time.Minute,
		CleanupInterval:      10 * time.Minute,
		HealthCheckInterval:  60 * time.Second,
		QueueDepthWarn:       500,
		MaxConsecutiveErrors: 5,
		ErrorBackoff:         30 * time.Second,
	}
}

// Component is an extra long-running task started and stopped with the scheduler
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Status is a snapshot of the scheduler
type Status struct {
	State             State                  `json:"state"`
	StartedAt         *time.Time             `json:"started_at,omitempty"`
	LastEvaluation    *time.Time             `json:"last_evaluation,omitempty"`
	LastError         string                 `json:"last_error,omitempty"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	QueueDepths       map[models.Channel]int `json:"queue_depths"`
	DeferredAlerts    int                    `json:"deferred_alerts"`
}

// Scheduler owns the evaluation, delivery, maintenance and health loops
type Scheduler struct {
	cfg        Config
	engine     Engine
	dispatcher Dispatcher
	components []Component
	now        func() time.Time
	log        zerolog.Logger

	mu                sync.Mutex
	state             State
	cancel            context.CancelFunc
	done              chan struct{}
	startedAt         *time.Time
	lastEvaluation    *time.Time
	lastError         string
	consecutiveErrors int
	lastSync          time.Time
	lastCleanup       time.Time
}

// New creates a stopped scheduler. Zero config fields take their defaults.
func New(cfg Config, eng Engine, dispatcher Dispatcher, components ...Component) *Scheduler {
	def := DefaultConfig()
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = def.EvaluationInterval
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.RuleSyncInterval <= 0 {
		cfg.RuleSyncInterval = def.RuleSyncInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.QueueDepthWarn <= 0 {
		cfg.QueueDepthWarn = def.QueueDepthWarn
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}

	s := &Scheduler{
		cfg:        cfg,
		engine:     eng,
		dispatcher: dispatcher,
		components: components,
		now:        time.Now,
		log:        logger.WithComponent("scheduler"),
		state:      StateStopped,
	}
	s.publishState(StateStopped)
	return s
}

// Start moves STOPPED or ERROR to RUNNING and launches every loop.
// Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning, StateStarting:
		return nil
	case StateStopping:
		return ErrStopping
	}

	s.setState(StateStarting)

	if err := s.engine.SyncRules(ctx); err != nil {
		s.lastError = err.Error()
		s.setState(StateError)
		return fmt.Errorf("initial rule sync: %w", err)
	}

	now := s.now()
	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return s.evaluationLoop(gctx) })
	g.Go(func() error { return s.dispatcher.Run(gctx) })
	g.Go(func() error { return s.maintenanceLoop(gctx) })
	g.Go(func() error { return s.healthMonitor(gctx) })
	for _, c := range s.components {
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.startedAt = &now
	s.lastError = ""
	s.consecutiveErrors = 0
	s.lastSync = now
	s.lastCleanup = now
	metrics.ConsecutiveErrors.Set(0)
	s.setState(StateRunning)

	go s.supervise(g, cancel, done)

	s.log.Info().
		Dur("evaluation_interval", s.cfg.EvaluationInterval).
		Int("components", len(s.components)).
		Msg("scheduler started")
	return nil
}

// supervise waits for the loop group and records how it ended
func (s *Scheduler) supervise(g *errgroup.Group, cancel context.CancelFunc, done chan struct{}) {
	err := g.Wait()
	cancel()

	s.mu.Lock()
	if s.state == StateRunning {
		if err == nil {
			err = errors.New("scheduler loops exited unexpectedly")
		}
		s.lastError = err.Error()
		s.setState(StateError)
		s.log.Error().Err(err).Msg("scheduler entered error state")
	}
	s.mu.Unlock()

	close(done)
}

// Stop cancels every loop and waits for them to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateStopping:
		done := s.done
		s.mu.Unlock()
		return wait(ctx, done)
	}

	wasError := s.state == StateError
	s.setState(StateStopping)
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		if err := wait(ctx, done); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.setState(StateStopped)
	s.cancel = nil
	s.mu.Unlock()

	if wasError {
		s.log.Info().Msg("scheduler reset from error state")
	} else {
		s.log.Info().Msg("scheduler stopped")
	}
	return nil
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler loops: %w", ctx.Err())
	}
}

// Wait blocks until the loops of the current run have returned
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// State returns the lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for the status endpoint
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		State:             s.state,
		StartedAt:         s.startedAt,
		LastEvaluation:    s.lastEvaluation,
		LastError:         s.lastError,
		ConsecutiveErrors: s.consecutiveErrors,
	}
	s.mu.Unlock()

	st.QueueDepths = s.dispatcher.QueueDepths()
	st.DeferredAlerts = s.dispatcher.DeferredCount()
	return st
}

// TriggerImmediateEvaluation runs an evaluation pass outside the periodic tick.
// An empty userID evaluates every user's rules.
func (s *Scheduler) TriggerImmediateEvaluation(ctx context.Context, userID string) (engine.EvaluationReport, error) {
	if s.State() != StateRunning {
		return engine.EvaluationReport{}, ErrNotRunning
	}

	metrics.ImmediateEvaluations.Inc()
	if userID == "" {
		return s.engine.EvaluateAllRules(ctx)
	}
	return s.engine.EvaluateUserRules(ctx, userID)
}

// setState must be called with mu held
func (s *Scheduler) setState(state State) {
	s.state = state
	s.publishState(state)
}

func (s *Scheduler) publishState(state State) {
	for _, st := range states {
		v := 0.0
		if st == state {
			v = 1
		}
		metrics.SchedulerState.WithLabelValues(string(st)).Set(v)
	}
}
