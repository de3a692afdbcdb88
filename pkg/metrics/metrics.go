package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RulesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_rules_evaluated_total",
			Help: "Total number of rule evaluations by outcome (count)",
		},
		[]string{"source_type", "outcome"},
	)

	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Total number of alert events created (count)",
		},
		[]string{"source_type", "severity"},
	)

	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of rule fires suppressed before alert creation (count)",
		},
		[]string{"source_type", "reason"},
	)

	TasksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_tasks_created_total",
			Help: "Total number of tasks materialized from alert rules (count)",
		},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_evaluation_duration_ms",
			Help:    "Duration of one evaluation pass in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"source_type"},
	)

	NotificationsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Total number of notification events persisted (count)",
		},
		[]string{"type"},
	)

	ChannelDeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_delivery_total",
			Help: "Delivery attempts per channel by status (count)",
		},
		[]string{"channel", "status"},
	)

	ChannelDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_channel_delivery_duration_ms",
			Help:    "Delivery attempt duration per channel in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"channel"},
	)

	RealtimeQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_queue_dropped_total",
			Help: "In-app events dropped because the realtime queue was full (count)",
		},
	)

	RealtimeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_queue_depth",
			Help: "Current depth of the realtime publish queue (count)",
		},
	)

	ActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alert_active_rules",
			Help: "Number of active alert rules per source type (count)",
		},
		[]string{"source_type"},
	)

	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Source events consumed from the broker by status (count)",
		},
		[]string{"source_type", "status"},
	)

	IngestRetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_retry_attempts_total",
			Help: "Total number of ingest handler retry attempts (count)",
		},
		[]string{"topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Messages routed to the dead letter queue (count)",
		},
		[]string{"topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by state (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Failed requests through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "HTTP requests rejected by rate limiting (count)",
		},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(
		RulesEvaluatedTotal,
		AlertsTriggeredTotal,
		AlertsSuppressedTotal,
		TasksCreatedTotal,
		EvaluationDuration,
		ActiveRules,
	)
}

func RegisterNotificationMetrics() {
	prometheus.MustRegister(
		NotificationsCreatedTotal,
		ChannelDeliveryTotal,
		ChannelDeliveryDuration,
		RealtimeQueueDroppedTotal,
		RealtimeQueueDepth,
	)
}

func RegisterIngestMetrics() {
	prometheus.MustRegister(
		IngestEventsTotal,
		IngestRetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func RegisterHTTPMetrics() {
	prometheus.MustRegister(RateLimitRejectedTotal)
}

func ObserveEvaluationDuration(sourceType string, duration time.Duration) {
	EvaluationDuration.WithLabelValues(sourceType).Observe(float64(duration.Milliseconds()))
}

func ObserveChannelDelivery(channel string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ChannelDeliveryTotal.WithLabelValues(channel, status).Inc()
	ChannelDeliveryDuration.WithLabelValues(channel).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(sourceType string, count int) {
	ActiveRules.WithLabelValues(sourceType).Set(float64(count))
}
