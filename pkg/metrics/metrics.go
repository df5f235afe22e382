// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnDuration tracks how long an AI turn takes end to end.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_turn_duration_seconds",
			Help:    "AI turn duration including persistence",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"mode", "status"},
	)

	// AIRequestDuration tracks AI client calls by operation.
	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI client call duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation", "status"},
	)

	// MessagesTotal tracks persisted messages by sender.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"sender"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// TopicsTotal tracks topic generation outcomes.
	TopicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topics_total",
			Help: "Topic generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// SummariesTotal tracks summary generation outcomes.
	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_total",
			Help: "Summary generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeletionsTotal tracks conversation deletions by outcome.
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deletions_total",
			Help: "Conversation deletions by outcome",
		},
		[]string{"outcome"},
	)

	// StoreErrorsTotal tracks failed store operations.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Failed store operations",
		},
		[]string{"op"},
	)

	// StoreDuration tracks store operation latency.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Conversation store operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op", "status"},
	)

	// SessionsActive tracks signed-in caller sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of active caller sessions",
		},
	)

	// SSEConnections tracks open event streams.
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of open server-sent event streams",
		},
	)

	// EventsPublished tracks render events published to NATS.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Render events published to NATS",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records metrics for a completed or failed AI turn.
func RecordTurn(mode, status string, duration float64) {
	TurnDuration.WithLabelValues(mode, status).Observe(duration)
}

// RecordAIRequest records metrics for one AI client call.
func RecordAIRequest(operation string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AIRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordStoreOp records the latency of one store operation.
func RecordStoreOp(op string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreDuration.WithLabelValues(op, status).Observe(duration)
}
