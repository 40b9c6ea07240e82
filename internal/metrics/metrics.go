// Package metrics holds the Prometheus instrumentation surface for
// every component (C1-C8), wired with promauto exactly as the
// teacher's internal/indexing/metrics does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks chain-reader RPC calls by method.
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_rpc_calls_total",
			Help: "Total number of RPC calls made to the chain endpoint",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks chain-reader RPC errors by method and class.
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_rpc_errors_total",
			Help: "Total number of RPC errors by class",
		},
		[]string{"method", "class"},
	)

	// RPCLatency tracks RPC call latency.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundkeeper_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// LocatorProbes tracks how many RPC probes the locator needed to
	// converge, split by algorithm path.
	LocatorProbes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundkeeper_locator_probes",
			Help:    "Number of block probes the locator needed to converge",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
		[]string{"path"}, // "fast" or "regression"
	)

	// LocatorCacheHits and LocatorCacheMisses track the locator's caches.
	LocatorCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_locator_cache_hits_total",
			Help: "Block locator cache hits",
		},
		[]string{"cache"}, // "range" or "timestamp"
	)
	LocatorCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_locator_cache_misses_total",
			Help: "Block locator cache misses",
		},
		[]string{"cache"},
	)

	// HarvesterEventsFetched tracks raw events pulled per stream.
	HarvesterEventsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_harvester_events_fetched_total",
			Help: "Total raw events fetched per stream",
		},
		[]string{"stream"},
	)

	// EpochsProcessed tracks pipeline outcomes per epoch.
	EpochsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_epochs_processed_total",
			Help: "Total epochs processed by outcome",
		},
		[]string{"outcome"}, // "committed", "skipped", "failed"
	)

	// EpochPipelineDuration tracks end-to-end pipeline latency.
	EpochPipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roundkeeper_epoch_pipeline_duration_seconds",
			Help:    "End-to-end epoch pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// ConsecutiveFailures tracks the circuit breaker's live counter.
	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roundkeeper_consecutive_failures",
			Help: "Current consecutive pipeline failure count",
		},
	)

	// LockAcquisitions tracks lock service outcomes.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roundkeeper_lock_acquisitions_total",
			Help: "Lock acquisition attempts by outcome",
		},
		[]string{"outcome"}, // "acquired", "denied", "unavailable"
	)

	// SchedulerFloor tracks the sweeper's current downward epoch floor.
	SchedulerFloor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roundkeeper_scheduler_sweeper_floor",
			Help: "Current epoch floor of the historical sweeper",
		},
	)

	// DBBatchSize tracks the row count of batch insert operations.
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roundkeeper_db_batch_size",
			Help:    "Row count of batch insert operations",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"table"},
	)
)
