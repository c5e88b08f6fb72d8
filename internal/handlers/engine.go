package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/dispatcher"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/engine"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/scheduler"
	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/go-chi/chi/v5"
)

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Status                   scheduler.State  `json:"status"`
	Stats                    engine.Stats     `json:"stats"`
	ActiveRules              int              `json:"active_rules"`
	TriggeredAlerts          int              `json:"triggered_alerts"`
	DeduplicationCacheSize   int              `json:"deduplication_cache_size"`
	EvaluationInterval       int              `json:"evaluation_interval"`
	MaxConcurrentEvaluations int              `json:"max_concurrent_evaluations"`
	Scheduler                scheduler.Status `json:"scheduler"`
	Dispatch                 dispatcher.Stats `json:"dispatch"`
}

// GetStatus returns engine statistics and the scheduler state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dedupSize, err := h.engine.DedupSize(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to read dedup cache size")
	}

	st := h.scheduler.Status()
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:                   st.State,
		Stats:                    h.engine.Stats(),
		ActiveRules:              h.engine.ActiveRuleCount(),
		TriggeredAlerts:          h.engine.TriggeredCount(),
		DeduplicationCacheSize:   dedupSize,
		EvaluationInterval:       int(h.engine.EvaluationInterval().Seconds()),
		MaxConcurrentEvaluations: h.engine.MaxConcurrent(),
		Scheduler:                st,
		Dispatch:                 h.dispatcher.Stats(),
	})
}

// StartEngine starts the scheduler. Starting a running scheduler succeeds without effect.
func (h *Handler) StartEngine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	before := h.scheduler.State()
	if err := h.scheduler.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrStopping) {
			respondError(w, http.StatusConflict, err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to start alert engine", err)
		return
	}

	status := "started"
	if before == scheduler.StateRunning {
		status = "already_running"
	}
	h.log.Info().Str("result", status).Msg("start requested")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"state":  h.scheduler.State(),
	})
}

// StopEngine stops the scheduler and waits for its loops to exit
func (h *Handler) StopEngine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	before := h.scheduler.State()
	if err := h.scheduler.Stop(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to stop alert engine", err)
		return
	}

	status := "stopped"
	if before == scheduler.StateStopped {
		status = "already_stopped"
	}
	h.log.Info().Str("result", status).Msg("stop requested")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"state":  h.scheduler.State(),
	})
}

// CreateRule validates and activates a new rule
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondDecodeError(w, err)
		return
	}

	created, err := h.engine.CreateRule(ctx, rule)
	if err != nil {
		respondDomainError(w, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// GetRules lists rules
// Query params: user_id
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.ListRules(r.URL.Query().Get("user_id"))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a single rule by ID
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.engine.GetRule(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, "failed to retrieve rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// UpdateRule replaces a rule's definition
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondDecodeError(w, err)
		return
	}

	updated, err := h.engine.UpdateRule(ctx, chi.URLParam(r, "id"), rule)
	if err != nil {
		respondDomainError(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// DeleteRule removes a rule
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ruleID := chi.URLParam(r, "id")
	if err := h.engine.DeleteRule(ctx, ruleID); err != nil {
		respondDomainError(w, "failed to delete rule", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"rule_id": ruleID,
	})
}

// GetTriggers lists triggered alerts, most recent first
// Query params: user_id, limit
func (h *Handler) GetTriggers(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", engine.DefaultTriggerLimit)
	if limit > engine.MaxTriggerLimit {
		limit = engine.MaxTriggerLimit
	}

	triggers := h.engine.ListTriggers(r.URL.Query().Get("user_id"), limit)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"triggers": triggers,
		"count":    len(triggers),
		"limit":    limit,
	})
}

// GetTrigger retrieves a single triggered alert by ID
func (h *Handler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	trigger, err := h.engine.GetTrigger(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, "failed to retrieve trigger", err)
		return
	}

	respondJSON(w, http.StatusOK, trigger)
}

// testRuleRequest leaves conditions raw so omitted conditions get the dry-run defaults
type testRuleRequest struct {
	UserID     string          `json:"user_id"`
	RuleType   models.RuleType `json:"rule_type"`
	Conditions json.RawMessage `json:"conditions"`
	Priority   models.Severity `json:"priority"`
}

// TestRule evaluates a rule once against live props without dispatching
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req testRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDecodeError(w, err)
		return
	}

	rule := models.Rule{
		UserID:   req.UserID,
		RuleType: req.RuleType,
		Priority: req.Priority,
	}
	if len(req.Conditions) > 0 && string(req.Conditions) != "null" {
		conditions, err := models.DecodeConditions(req.RuleType, req.Conditions)
		if err != nil {
			respondDomainError(w, "invalid conditions", err)
			return
		}
		rule.Conditions = conditions
	}

	result, err := h.engine.TestRule(ctx, rule)
	if err != nil {
		respondDomainError(w, "failed to test rule", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetRuleTypes lists the supported rule types with their default conditions
func (h *Handler) GetRuleTypes(w http.ResponseWriter, r *http.Request) {
	types := make([]map[string]interface{}, 0, len(models.RuleTypes))
	for _, t := range models.RuleTypes {
		defaults, _ := models.DefaultConditions(t)
		types = append(types, map[string]interface{}{
			"type":               t,
			"description":        t.Description(),
			"default_conditions": defaults,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rule_types": types,
		"count":      len(types),
	})
}

func respondDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrUnknownRuleType) {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	respondError(w, http.StatusBadRequest, "invalid request body", err)
}
