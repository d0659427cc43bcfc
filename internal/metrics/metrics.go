package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write metrics
	BatchesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_batches_stored_total",
			Help: "Total number of batches stored",
		},
		[]string{"book", "family"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cradle_store_latency_seconds",
			Help:    "Batch store latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	ContentBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_content_bytes_total",
			Help: "Total number of content bytes written, before and after compression",
		},
		[]string{"family", "stage"},
	)

	// Backend request metrics
	InflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cradle_inflight_requests",
			Help: "Number of backend requests currently holding a throttle permit",
		},
	)

	ThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cradle_throttle_wait_seconds",
			Help:    "Time spent waiting for a throttle permit",
			Buckets: prometheus.DefBuckets,
		},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_backend_pages_fetched_total",
			Help: "Total number of backend result pages fetched",
		},
		[]string{"table"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_backend_retries_total",
			Help: "Total number of retried backend requests",
		},
		[]string{"table"},
	)

	// Book metrics
	Books = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cradle_books",
			Help: "Number of books known to the registry",
		},
	)

	PageSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_page_switches_total",
			Help: "Total number of page switches",
		},
		[]string{"book"},
	)

	// Cache metrics
	DurationCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cradle_duration_cache_entries",
			Help: "Number of entries in the event batch duration cache",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)
)
