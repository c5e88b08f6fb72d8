package handlers

import (
	"net/http"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the HTTP surface
type RouterOptions struct {
	CORSOrigins []string
	// WebSocket serves /ws when set
	WebSocket http.HandlerFunc
}

// NewRouter mounts the API, health, metrics and websocket routes
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}

	r.Route("/api/v1/alert-engine", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		// Lifecycle
		r.Get("/status", h.GetStatus)
		r.Post("/start", h.StartEngine)
		r.Post("/stop", h.StopEngine)

		// Rules
		r.Post("/rules", h.CreateRule)
		r.Get("/rules", h.GetRules)
		r.Get("/rules/{id}", h.GetRule)
		r.Put("/rules/{id}", h.UpdateRule)
		r.Delete("/rules/{id}", h.DeleteRule)
		r.Get("/rule-types", h.GetRuleTypes)

		// Triggered alerts
		r.Get("/triggers", h.GetTriggers)
		r.Get("/triggers/{id}", h.GetTrigger)
		r.Post("/test", h.TestRule)

		// Delivery
		r.Get("/preferences/{user_id}", h.GetPreferences)
		r.Put("/preferences/{user_id}", h.UpdatePreferences)
		r.Get("/deliveries", h.GetDeliveries)
		r.Get("/notifications", h.GetNotifications)
	})

	return r
}
