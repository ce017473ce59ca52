// Package metrics provides Prometheus metrics for catalog conversion and
// verification.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for mmu-hats.
type Metrics struct {
	// Partition metrics
	PartitionsProcessed *prometheus.CounterVec
	PartitionsSkipped   *prometheus.CounterVec
	PartitionsFailed    *prometheus.CounterVec

	// Conversion metrics
	BatchesConverted *prometheus.CounterVec
	RowsConverted    *prometheus.CounterVec
	SchemaViolations *prometheus.CounterVec

	// Timing metrics
	PartitionConvertDuration *prometheus.HistogramVec
	PartitionUploadDuration  *prometheus.HistogramVec
	PartitionCommitDuration  *prometheus.HistogramVec

	// Size metrics
	PartitionRows  *prometheus.HistogramVec
	PartitionBytes *prometheus.HistogramVec

	InFlightPartitions prometheus.Gauge

	// Error metrics
	SourceErrors   *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec

	// Verification metrics
	Verifications *prometheus.CounterVec
	Mismatches    *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	return InitWith(prometheus.DefaultRegisterer, namespace)
}

// InitWith registers the metrics with reg instead of the default registry.
func InitWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "mmu_hats"
	}
	f := promauto.With(reg)
	catalogVersion := []string{"catalog", "version"}

	m := &Metrics{
		PartitionsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_processed_total",
				Help:      "Total number of partitions converted and published",
			},
			catalogVersion,
		),
		PartitionsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_skipped_total",
				Help:      "Total number of partitions skipped (already exist)",
			},
			catalogVersion,
		),
		PartitionsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_failed_total",
				Help:      "Total number of partitions that failed processing",
			},
			catalogVersion,
		),
		BatchesConverted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_converted_total",
				Help:      "Total number of record batches converted to tables",
			},
			[]string{"catalog"},
		),
		RowsConverted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_converted_total",
				Help:      "Total number of rows written to tables",
			},
			[]string{"catalog"},
		),
		SchemaViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schema_violations_total",
				Help:      "Total number of batches rejected for a schema violation",
			},
			[]string{"catalog", "column"},
		),
		PartitionConvertDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_convert_duration_seconds",
				Help:      "Time to read, convert and encode a partition",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
			catalogVersion,
		),
		PartitionUploadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_upload_duration_seconds",
				Help:      "Time to publish a partition to storage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			catalogVersion,
		),
		PartitionCommitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_commit_duration_seconds",
				Help:      "Total time to commit a partition (convert + upload + metadata)",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			catalogVersion,
		),
		PartitionRows: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_rows",
				Help:      "Number of rows per partition",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 10), // 10 to ~2.6M
			},
			catalogVersion,
		),
		PartitionBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partition_bytes",
				Help:      "Size of partition parquet files in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 12), // 1KB to ~4GB
			},
			catalogVersion,
		),
		InFlightPartitions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_partitions",
				Help:      "Number of partitions currently being processed",
			},
		),
		SourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of record source read errors",
			},
			[]string{"catalog"},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"catalog", "backend"},
		),
		MetadataErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of metadata catalog errors",
			},
			[]string{"catalog"},
		),
		Verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Total number of table comparisons by verdict",
			},
			[]string{"catalog", "verdict"},
		),
		Mismatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mismatches_total",
				Help:      "Total number of comparison mismatches by kind",
			},
			[]string{"catalog", "kind", "allowed"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler())
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Catalog string
	Version string
	Backend string
}

// IncPartitionsProcessed increments the partitions processed counter.
func (m *Metrics) IncPartitionsProcessed(l Labels) {
	m.PartitionsProcessed.WithLabelValues(l.Catalog, l.Version).Inc()
}

// IncPartitionsSkipped increments the partitions skipped counter.
func (m *Metrics) IncPartitionsSkipped(l Labels) {
	m.PartitionsSkipped.WithLabelValues(l.Catalog, l.Version).Inc()
}

// IncPartitionsFailed increments the partitions failed counter.
func (m *Metrics) IncPartitionsFailed(l Labels) {
	m.PartitionsFailed.WithLabelValues(l.Catalog, l.Version).Inc()
}

// AddBatch records one converted batch of rows.
func (m *Metrics) AddBatch(l Labels, rows float64) {
	m.BatchesConverted.WithLabelValues(l.Catalog).Inc()
	m.RowsConverted.WithLabelValues(l.Catalog).Add(rows)
}

// IncSchemaViolations increments the violation counter for a column.
func (m *Metrics) IncSchemaViolations(l Labels, column string) {
	m.SchemaViolations.WithLabelValues(l.Catalog, column).Inc()
}

// ObservePartitionConvertDuration records the partition conversion time.
func (m *Metrics) ObservePartitionConvertDuration(l Labels, seconds float64) {
	m.PartitionConvertDuration.WithLabelValues(l.Catalog, l.Version).Observe(seconds)
}

// ObservePartitionUploadDuration records the partition upload time.
func (m *Metrics) ObservePartitionUploadDuration(l Labels, seconds float64) {
	m.PartitionUploadDuration.WithLabelValues(l.Catalog, l.Version).Observe(seconds)
}

// ObservePartitionCommitDuration records the total partition commit time.
func (m *Metrics) ObservePartitionCommitDuration(l Labels, seconds float64) {
	m.PartitionCommitDuration.WithLabelValues(l.Catalog, l.Version).Observe(seconds)
}

// ObservePartitionRows records the number of rows in a partition.
func (m *Metrics) ObservePartitionRows(l Labels, rows float64) {
	m.PartitionRows.WithLabelValues(l.Catalog, l.Version).Observe(rows)
}

// ObservePartitionBytes records the size of a partition in bytes.
func (m *Metrics) ObservePartitionBytes(l Labels, bytes float64) {
	m.PartitionBytes.WithLabelValues(l.Catalog, l.Version).Observe(bytes)
}

// SetInFlightPartitions sets the number of in-flight partitions.
func (m *Metrics) SetInFlightPartitions(count float64) {
	m.InFlightPartitions.Set(count)
}

// IncSourceErrors increments the source errors counter.
func (m *Metrics) IncSourceErrors(l Labels) {
	m.SourceErrors.WithLabelValues(l.Catalog).Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Catalog, l.Backend).Inc()
}

// IncMetadataErrors increments the metadata errors counter.
func (m *Metrics) IncMetadataErrors(l Labels) {
	m.MetadataErrors.WithLabelValues(l.Catalog).Inc()
}

// ObserveVerification records a comparison verdict.
func (m *Metrics) ObserveVerification(catalog string, passed bool) {
	verdict := "fail"
	if passed {
		verdict = "pass"
	}
	m.Verifications.WithLabelValues(catalog, verdict).Inc()
}

// AddMismatches adds n mismatches of one kind.
func (m *Metrics) AddMismatches(catalog, kind string, allowed bool, n float64) {
	a := "false"
	if allowed {
		a = "true"
	}
	m.Mismatches.WithLabelValues(catalog, kind, a).Add(n)
}
