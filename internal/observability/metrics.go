// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TransactionsIngested prometheus.Counter
	TransactionsRejected *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter

	// Detection metrics
	ConfluencesEmitted *prometheus.CounterVec
	FastPathHits       prometheus.Counter
	FastPathFallbacks  *prometheus.CounterVec
	FullRebuilds       prometheus.Counter
	BackfillQueries    prometheus.Counter

	// Cache metrics
	CacheKeys          prometheus.Gauge
	CacheEntries       prometheus.Gauge
	CacheSizeBytes     prometheus.Gauge
	SweepDroppedTotal  prometheus.Counter
	EmergencyEvictions prometheus.Counter
	EvictedKeysTotal   prometheus.Counter

	// Reconciliation metrics
	ReconcileRuns          *prometheus.CounterVec
	ReconcileCopies        *prometheus.CounterVec
	ConfluencesDeactivated prometheus.Counter

	// Latency metrics
	DetectionLatency *prometheus.HistogramVec
	DBQueryDuration  *prometheus.HistogramVec
	DBQueryErrors    *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulSweep     prometheus.Gauge
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "confluence_engine"
	}

	return &Metrics{
		// Ingestion metrics
		TransactionsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_ingested_total",
			Help:      "Total number of transactions accepted",
		}),
		TransactionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_rejected_total",
			Help:      "Total number of transactions rejected by reason",
		}, []string{"reason"}),
		DuplicatesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_suppressed_total",
			Help:      "Total number of near-duplicate transactions dropped",
		}),

		// Detection metrics
		ConfluencesEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "confluences_emitted_total",
			Help:      "Total number of confluence events emitted by path",
		}, []string{"path"}),
		FastPathHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "fast_path_hits_total",
			Help:      "Total number of fast-path incremental updates applied",
		}),
		FastPathFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "fast_path_fallbacks_total",
			Help:      "Total number of fast-path fallbacks to full rebuild by reason",
		}, []string{"reason"}),
		FullRebuilds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "full_rebuilds_total",
			Help:      "Total number of full partition rebuilds",
		}),
		BackfillQueries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "backfill_queries_total",
			Help:      "Total number of durable-store backfill queries",
		}),

		// Cache metrics
		CacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "keys",
			Help:      "Current number of cached partition keys",
		}),
		CacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached transactions",
		}),
		CacheSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Estimated serialized cache size in bytes",
		}),
		SweepDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sweep_dropped_total",
			Help:      "Total number of transactions dropped by the time sweep",
		}),
		EmergencyEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "emergency_evictions_total",
			Help:      "Total number of size-bound emergency eviction passes",
		}),
		EvictedKeysTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evicted_keys_total",
			Help:      "Total number of keys removed by emergency eviction",
		}),

		// Reconciliation metrics
		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by status",
		}, []string{"status"}),
		ReconcileCopies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "copies_total",
			Help:      "Total number of snapshot copies by direction",
		}, []string{"direction"}),
		ConfluencesDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "confluences_deactivated_total",
			Help:      "Total number of stale confluences deactivated",
		}),

		// Latency metrics
		DetectionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "latency_seconds",
			Help:      "Detection pass latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulSweep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful cache sweep",
		}),
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciliation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordIngested increments the accepted-transactions counter.
func RecordIngested() {
	DefaultMetrics.TransactionsIngested.Inc()
	DefaultMetrics.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordRejected records a rejected transaction by reason.
func RecordRejected(reason string) {
	DefaultMetrics.TransactionsRejected.WithLabelValues(reason).Inc()
}

// RecordDuplicate increments the duplicate-suppression counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicatesSuppressed.Inc()
}

// RecordEmitted records emitted confluence events by detection path.
func RecordEmitted(path string, count int) {
	if count > 0 {
		DefaultMetrics.ConfluencesEmitted.WithLabelValues(path).Add(float64(count))
	}
}

// RecordFastPathFallback records a fast-path fallback by reason.
func RecordFastPathFallback(reason string) {
	DefaultMetrics.FastPathFallbacks.WithLabelValues(reason).Inc()
}

// RecordSweepDropped counts transactions removed by the time sweep.
func RecordSweepDropped(count int) {
	if count > 0 {
		DefaultMetrics.SweepDroppedTotal.Add(float64(count))
	}
}

// RecordEviction counts one emergency eviction pass and the keys it removed.
func RecordEviction(evictedKeys int) {
	DefaultMetrics.EmergencyEvictions.Inc()
	DefaultMetrics.EvictedKeysTotal.Add(float64(evictedKeys))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateCacheFootprint updates the cache gauges.
func UpdateCacheFootprint(keys, entries int, sizeBytes float64) {
	DefaultMetrics.CacheKeys.Set(float64(keys))
	DefaultMetrics.CacheEntries.Set(float64(entries))
	DefaultMetrics.CacheSizeBytes.Set(sizeBytes)
}
