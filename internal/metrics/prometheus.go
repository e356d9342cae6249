package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_llm_requests_total",
			Help: "Upstream model attempts by model, operation and outcome",
		},
		[]string{"model", "operation", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procureflow_llm_duration_seconds",
			Help:    "End-to-end duration of an LLM operation including fallback",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"model"},
	)

	EmailsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_emails_sent_total",
			Help: "Outbound RFP emails by outcome",
		},
		[]string{"status"},
	)

	InboxMessagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procureflow_inbox_messages_fetched_total",
			Help: "Messages fetched from the inbox across polls",
		},
	)

	ResponsesReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procureflow_responses_reconciled_total",
			Help: "Vendor responses newly persisted by the reconciler",
		},
	)

	DuplicatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_duplicates_dropped_total",
			Help: "Candidate messages dropped as duplicates, by dedup stage",
		},
		[]string{"stage"},
	)

	ComparisonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_comparisons_total",
			Help: "Quote comparisons by vendor resolution method",
		},
		[]string{"resolution"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_cache_hits_total",
			Help: "Structuring cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procureflow_cache_misses_total",
			Help: "Structuring cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(EmailsSentTotal)
	prometheus.MustRegister(InboxMessagesFetched)
	prometheus.MustRegister(ResponsesReconciled)
	prometheus.MustRegister(DuplicatesDropped)
	prometheus.MustRegister(ComparisonsTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
