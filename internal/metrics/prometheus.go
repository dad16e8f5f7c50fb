package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the sync worker

var (
	// API Call metrics
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_api_calls_total",
			Help: "Total number of upstream API calls",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pickem_api_call_duration_seconds",
			Help:    "Duration of API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_api_retries_total",
			Help: "Total number of retried upstream API calls",
		},
		[]string{"endpoint", "reason"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pickem_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Season resolution metrics
	SeasonResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_season_resolutions_total",
			Help: "Total number of season resolutions by the tier that answered",
		},
		[]string{"operation", "tier"},
	)

	// Cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pickem_season_cache_hits_total",
			Help: "Total number of season cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pickem_season_cache_misses_total",
			Help: "Total number of season cache misses",
		},
	)

	// Mapping metrics
	MappingWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_mapping_warnings_total",
			Help: "Total number of records skipped during mapping",
		},
		[]string{"class"},
	)

	// Reconciliation metrics
	RecordsReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_records_reconciled_total",
			Help: "Total number of records reconciled",
		},
		[]string{"class", "action"},
	)

	// Sync metrics
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_sync_operations_total",
			Help: "Total number of sync operations",
		},
		[]string{"type", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pickem_sync_duration_seconds",
			Help:    "Duration of sync operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	SyncRecordCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pickem_sync_record_count",
			Help: "Number of records written by the last sync of each type",
		},
		[]string{"type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pickem_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pickem_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)

	LastSuccessfulSync = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pickem_last_successful_sync_timestamp",
			Help: "Timestamp of last successful sync operation",
		},
		[]string{"type"},
	)
)

// RecordAPICall records an API call metric
func RecordAPICall(endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordAPIRetry records a retried API call
func RecordAPIRetry(endpoint, reason string) {
	APIRetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordSeasonResolution records which tier answered a season query
func RecordSeasonResolution(operation, tier string) {
	SeasonResolutionsTotal.WithLabelValues(operation, tier).Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordMappingWarnings records skipped records
func RecordMappingWarnings(class string, count int) {
	if count > 0 {
		MappingWarningsTotal.WithLabelValues(class).Add(float64(count))
	}
}

// RecordReconciled records inserted and updated record counts
func RecordReconciled(class string, inserted, updated int) {
	RecordsReconciledTotal.WithLabelValues(class, "insert").Add(float64(inserted))
	RecordsReconciledTotal.WithLabelValues(class, "update").Add(float64(updated))
}

// RecordSync records a sync operation
func RecordSync(syncType, status string, count int, duration float64) {
	SyncOperationsTotal.WithLabelValues(syncType, status).Inc()
	SyncDuration.WithLabelValues(syncType).Observe(duration)

	if status == "success" {
		SyncRecordCount.WithLabelValues(syncType).Set(float64(count))
		LastSuccessfulSync.WithLabelValues(syncType).SetToCurrentTime()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
