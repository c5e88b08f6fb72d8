package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/pkg/models"
	"github.com/go-chi/chi/v5"
)

// GetPreferences returns a user's delivery preferences, falling back to the defaults
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := chi.URLParam(r, "user_id")
	prefs, err := h.dispatcher.Preferences(ctx, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve preferences", err)
		return
	}

	respondJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences replaces a user's delivery preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var prefs models.UserDeliveryPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	prefs.UserID = chi.URLParam(r, "user_id")
	prefs.UpdatedAt = time.Now().UTC()
	if err := prefs.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.preferences.SavePreferences(ctx, prefs); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save preferences", err)
		return
	}
	h.dispatcher.Invalidate(prefs.UserID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "updated",
		"preferences": prefs,
	})
}

// GetDeliveries lists delivery attempts for a trigger
// Query params: trigger_id
func (h *Handler) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	triggerID := r.URL.Query().Get("trigger_id")
	if triggerID == "" {
		respondError(w, http.StatusBadRequest, "trigger_id is required", nil)
		return
	}

	attempts, err := h.dispatcher.ListAttempts(ctx, triggerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve delivery attempts", err)
		return
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": attempts,
		"count":      len(attempts),
	})
}

// GetNotifications lists stored in-app notifications for a user, newest first
// Query params: user_id, limit
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	limit := parseIntParam(r, "limit", 50)
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	notifications, err := h.notifications.ListNotifications(ctx, userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve notifications", err)
		return
	}
	if notifications == nil {
		notifications = []models.InAppNotification{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
		"limit":         limit,
	})
}
