package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_engine_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_engine_evaluations_total",
			Help: "Total number of evaluation passes",
		},
	)

	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_type", "status"}, // status: ok, error
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alert_engine_evaluation_duration_seconds",
			Help:    "Duration of a full evaluation pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_triggers_total",
			Help: "Triggers produced by rule evaluation",
		},
		[]string{"trigger_type", "severity"},
	)

	TriggersDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_engine_triggers_deduplicated_total",
			Help: "Triggers dropped as duplicates within the dedup window",
		},
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_dispatch_total",
			Help: "Dispatch outcomes",
		},
		[]string{"outcome"}, // queued, deferred, rate_limited, below_threshold, expired, queue_full, error
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_deliveries_total",
			Help: "Delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_engine_delivery_duration_seconds",
			Help:    "Latency of a single delivery attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alert_engine_queue_depth",
			Help: "Pending deliveries per channel",
		},
		[]string{"channel"},
	)

	DeferredAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_engine_deferred_alerts",
			Help: "Alerts held for delivery after quiet hours",
		},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_delivery_retries_total",
			Help: "Failed deliveries re-queued for another attempt",
		},
		[]string{"channel"},
	)

	// Scheduler metrics
	SchedulerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alert_engine_scheduler_state",
			Help: "1 for the scheduler's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	ConsecutiveErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_engine_consecutive_errors",
			Help: "Consecutive evaluation loop failures",
		},
	)

	ImmediateEvaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_engine_immediate_evaluations_total",
			Help: "Event-driven evaluation passes",
		},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_panics_recovered_total",
			Help: "Panics recovered by component",
		},
		[]string{"component"},
	)
)
