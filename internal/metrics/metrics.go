package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerdash_source_queries_total",
			Help: "Total queries issued against the data source",
		},
		[]string{"table", "status"},
	)

	SourceQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powerdash_source_query_latency_seconds",
			Help:    "Data source query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	SourceRowsReturned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerdash_source_rows_returned_total",
			Help: "Total rows returned by the data source",
		},
		[]string{"table"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerdash_cache_requests_total",
			Help: "View cache lookups by result",
		},
		[]string{"view", "result"},
	)

	ViewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powerdash_view_duration_seconds",
			Help:    "Time to assemble a dashboard view",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view"},
	)

	ViewFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerdash_view_failures_total",
			Help: "Dashboard views that failed to assemble",
		},
		[]string{"view"},
	)

	ExportsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerdash_exports_published_total",
			Help: "Exports uploaded to the FTP drop",
		},
		[]string{"format", "status"},
	)
)
