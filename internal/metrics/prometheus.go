package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjwyyds6668/ai-tourguide/pkg/circuitbreaker"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourguide_request_duration_seconds",
			Help:    "Orchestrator request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_requests_total",
			Help: "Orchestrator requests by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourguide_retrieval_duration_seconds",
			Help:    "Retriever latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"source"},
	)

	RetrievalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_retrieval_failures_total",
			Help: "Recoverable retrieval failures by source",
		},
		[]string{"source"},
	)

	RetrievalHits = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourguide_retrieval_hits",
			Help:    "Hits returned per query by source",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"source"},
	)

	FusedContextChars = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourguide_fused_context_chars",
			Help:    "Length of fused context text in characters",
			Buckets: []float64{0, 100, 250, 500, 1000, 2000, 4000},
		},
	)

	FusionDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tourguide_fusion_dropped_candidates_total",
			Help: "Candidates that did not fit the context budget",
		},
	)

	EmptyContexts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tourguide_empty_context_total",
			Help: "Requests that fell back to the no-context marker",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourguide_active_sessions",
			Help: "Conversation sessions held in memory",
		},
	)

	ChunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourguide_chunks_ingested_total",
			Help: "Knowledge chunks indexed, by outcome",
		},
		[]string{"status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tourguide_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
		},
		[]string{"backend"},
	)
)

func Init() {
	prometheus.MustRegister(
		RequestDuration,
		RequestsTotal,
		RetrievalDuration,
		RetrievalFailures,
		RetrievalHits,
		FusedContextChars,
		FusionDropped,
		EmptyContexts,
		LLMTokensUsed,
		CacheHits,
		CacheMisses,
		ActiveSessions,
		ChunksIngested,
		BreakerState,
	)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// BreakerStateChanged records circuit breaker transitions; it matches
// circuitbreaker.Settings.OnStateChange.
func BreakerStateChanged(name string, _, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}
