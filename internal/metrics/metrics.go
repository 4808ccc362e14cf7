package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Plan metrics
	PlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_plans_total",
			Help: "Total number of plan requests by cache outcome",
		},
		[]string{"cache"}, // hit/miss/stale
	)

	PlanLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edurouter_plan_latency_seconds",
			Help:    "Planner latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	PlanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_plan_errors_total",
			Help: "Plan requests rejected, by taxonomy code",
		},
		[]string{"code"},
	)

	ModelSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_model_selected_total",
			Help: "Primary model selections",
		},
		[]string{"model", "provider"},
	)

	// Feedback metrics
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_feedback_events_total",
			Help: "Feedback events by outcome",
		},
		[]string{"model", "outcome"}, // success/failure
	)

	// Cache metrics
	PlanCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edurouter_plan_cache_size",
			Help: "Entries currently held in the plan cache",
		},
	)

	PlanCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_plan_cache_evictions_total",
			Help: "Plan cache evictions by cause",
		},
		[]string{"cause"}, // lru/ttl/revision/freeze/clear
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_embedding_requests_total",
			Help: "Embedding lookups by result",
		},
		[]string{"result"}, // lru_hit/cache_hit/ok/error/timeout
	)

	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edurouter_embedding_latency_seconds",
			Help:    "Embedding provider call latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1},
		},
	)

	CanonicalSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_canonical_selections_total",
			Help: "Canonical-task bias selections by preferred model",
		},
		[]string{"model"},
	)

	// Reload metrics
	Reloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edurouter_reloads_total",
			Help: "Policy/catalog/overlay reloads by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// RecordEmbedding tracks one embedding lookup outcome and, for provider
// calls, the observed latency.
func RecordEmbedding(result string, seconds float64) {
	EmbeddingRequests.WithLabelValues(result).Inc()
	if seconds > 0 {
		EmbeddingLatency.Observe(seconds)
	}
}
