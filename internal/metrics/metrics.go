package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clarity_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_provider_calls_total",
			Help: "Total number of upstream model calls.",
		},
		[]string{"provider", "outcome"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clarity_provider_call_duration_seconds",
			Help:    "Upstream model call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_provider_retries_total",
			Help: "Total number of retried upstream calls.",
		},
		[]string{"provider"},
	)

	TokensConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarity_tokens_consumed_total",
			Help: "Total tokens charged against user quotas.",
		},
		[]string{"direction"},
	)

	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarity_quota_rejections_total",
			Help: "Total quota consumption attempts rejected.",
		},
	)

	ChunksIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarity_chunks_ingested_total",
			Help: "Total document chunks written during ingestion.",
		},
	)

	KnowledgeSearchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clarity_knowledge_searches_total",
			Help: "Total knowledge base similarity searches.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderCallsTotal,
		ProviderCallDuration,
		ProviderRetriesTotal,
		TokensConsumedTotal,
		QuotaRejectionsTotal,
		ChunksIngestedTotal,
		KnowledgeSearchesTotal,
	)
}
