package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_cache_hits_total",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_cache_misses_total",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_cache_errors_total",
			Help: "Cache backend failures absorbed by the cache layer",
		},
		[]string{"namespace", "operation"},
	)

	// Queue Metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"job_type", "backend"}, // "redis", "database"
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_jobs_processed_total",
			Help: "Total number of job executions by outcome",
		},
		[]string{"job_type", "outcome"}, // "completed", "retrying", "failed"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cherry_job_duration_seconds",
			Help:    "Duration of job executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	// Digest Metrics
	DigestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_digest_requests_total",
			Help: "Digest requests by the tier that served them",
		},
		[]string{"source"}, // "fast_cache", "store_cache", "computed"
	)

	DigestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cherry_digest_compute_duration_seconds",
			Help:    "Duration of digest computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SummaryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cherry_summary_fallbacks_total",
			Help: "Summaries produced by the fallback path after a pass failed",
		},
	)

	// Ingest Metrics
	ItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_ingest_items_total",
			Help: "Feed items seen by the ingester",
		},
		[]string{"feed", "result"}, // "new", "known", "skipped"
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_ingest_feed_errors_total",
			Help: "Feed polls that failed",
		},
		[]string{"feed"},
	)

	// API Metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cherry_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cherry_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(namespace string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(namespace).Inc()
		return
	}
	CacheMisses.WithLabelValues(namespace).Inc()
}

// RecordJob records the outcome and duration of one job execution.
func RecordJob(jobType, outcome string, duration time.Duration) {
	JobsProcessed.WithLabelValues(jobType, outcome).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(route, method, status string, duration time.Duration) {
	APIRequests.WithLabelValues(route, method, status).Inc()
	APIRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
