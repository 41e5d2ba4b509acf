// Package metrics holds the Prometheus instruments for ingestion, search,
// the feed and recompute coordination.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_ingest_records_total",
			Help: "Corpus records processed by the loader, by outcome",
		},
		[]string{"outcome"}, // loaded, invalid, future, before_min
	)

	IngestBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_ingest_batches_total",
			Help: "Corpus batch flushes, by result",
		},
		[]string{"result"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsfeed_search_duration_seconds",
			Help:    "Article search latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	SearchCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsfeed_search_candidates",
			Help:    "Distinct candidate articles per search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_feed_requests_total",
			Help: "Recommendation feed page requests, by result",
		},
		[]string{"result"},
	)

	CategoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_category_cache_lookups_total",
			Help: "Category cache lookups, by hit or miss",
		},
		[]string{"result"},
	)

	RecomputeTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_recompute_triggers_total",
			Help: "Recompute trigger requests, by disposition",
		},
		[]string{"disposition"}, // started, coalesced, error
	)

	RecomputeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_recompute_runs_total",
			Help: "Completed recompute runs, by result",
		},
		[]string{"result"},
	)

	BatchJobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_batch_job_polls_total",
			Help: "Batch job status polls, by observed state",
		},
		[]string{"state"},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsfeed_storage_retries_total",
			Help: "Retried storage operations",
		},
		[]string{"operation"},
	)
)

// ObserveSearch records one search latency sample.
func ObserveSearch(start time.Time, err error) {
	SearchDuration.WithLabelValues(Result(err)).Observe(time.Since(start).Seconds())
}

// Result maps an error to the "ok"/"error" label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
