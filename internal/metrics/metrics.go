package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ingest_events_total",
			Help: "Total number of events received",
		},
		[]string{"transport", "status"}, // status: accepted, rejected
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ingest_validation_errors_total",
			Help: "Total number of validation errors",
		},
		[]string{"error_type"},
	)

	IngestQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ingest_queue_size",
			Help: "Current size of the ingest queue",
		},
	)

	IngestQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ingest_queue_capacity",
			Help: "Capacity of the ingest queue",
		},
	)

	// Engine metrics
	EngineEventsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_engine_events_matched_total",
			Help: "Total number of events matched against rules",
		},
		[]string{"rule_id"},
	)

	EngineFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_engine_firings_total",
			Help: "Total number of alert firings emitted",
		},
		[]string{"rule_id", "kind"}, // kind: edge, refire
	)

	EngineSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_engine_suppressed_total",
			Help: "Total number of edges suppressed by cooldown",
		},
		[]string{"rule_id"},
	)

	EngineWindowResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_engine_window_resets_total",
			Help: "Total number of window state resets after corruption",
		},
		[]string{"rule_id"},
	)

	EngineSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_engine_sweep_duration_seconds",
			Help:    "Time taken by a periodic evaluation sweep",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	FiringQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_engine_firing_queue_dropped_total",
			Help: "Total number of firings dropped because the firing queue was full",
		},
	)

	// Dispatch metrics
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dispatch_attempts_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "status"},
	)

	DispatchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dispatch_retries_total",
			Help: "Total number of channel delivery retries",
		},
		[]string{"channel"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_dispatch_duration_seconds",
			Help:    "Time taken to deliver a firing to a channel",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	// History sink metrics
	HistoryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_history_writes_total",
			Help: "Total number of records written to the history sink",
		},
		[]string{"kind", "status"}, // kind: firing, attempt
	)

	HistoryWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_history_write_retries_total",
			Help: "Total number of history sink write retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
