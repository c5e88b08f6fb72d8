package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dispatcher"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/engine"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/rs/zerolog"
)

// Pinger checks connectivity to a backing service
type Pinger func(ctx context.Context) error

// Dependencies are the components the API exposes
type Dependencies struct {
	Engine        *engine.Engine
	Scheduler     *scheduler.Scheduler
	Dispatcher    *dispatcher.Dispatcher
	Preferences   contracts.PreferenceStore
	Notifications contracts.NotificationStore
	// Checks are pinged by the health endpoint, keyed by component name
	Checks map[string]Pinger
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	engine        *engine.Engine
	scheduler     *scheduler.Scheduler
	dispatcher    *dispatcher.Dispatcher
	preferences   contracts.PreferenceStore
	notifications contracts.NotificationStore
	checks        map[string]Pinger
	log           zerolog.Logger
}

// NewHandler creates a new handler with dependencies
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		engine:        deps.Engine,
		scheduler:     deps.Scheduler,
		dispatcher:    deps.Dispatcher,
		preferences:   deps.Preferences,
		notifications: deps.Notifications,
		checks:        deps.Checks,
		log:           logger.WithComponent("api"),
	}
}

// HealthCheck reports backing service connectivity and the scheduler state
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	healthy := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	state := h.scheduler.State()
	status := "healthy"
	code := http.StatusOK
	switch {
	case !healthy:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case state == scheduler.StateError:
		status = "degraded"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":     status,
		"scheduler":  state,
		"components": components,
		"timestamp":  time.Now().UTC(),
		"service":    "alert-engine",
	})
}

// Helper functions

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Logger.Error().Err(err).Msg("error encoding response")
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := models.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}

	if err != nil {
		ev := logger.Logger.Warn()
		if status >= http.StatusInternalServerError {
			ev = logger.Logger.Error()
		}
		ev.Err(err).Int("status", status).Msg(message)
	}

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Logger.Error().Err(err).Msg("error encoding error response")
	}
}

// respondDomainError maps engine and model errors onto status codes
func respondDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrRuleNotFound), errors.Is(err, engine.ErrTriggerNotFound):
		respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrInvalidRule), errors.Is(err, models.ErrUnknownRuleType):
		respondError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
