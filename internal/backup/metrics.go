package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes job and archive metrics to Prometheus. A nil
// collector is valid and records nothing.
type MetricsCollector struct {
	registry *prometheus.Registry

	jobsStarted     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	runningJobs     *prometheus.GaugeVec
	recordsRestored *prometheus.CounterVec
	archiveBytes    *prometheus.HistogramVec
	compression     prometheus.Histogram
	retentionPruned prometheus.Counter
	mirrorUploads   *prometheus.CounterVec
}

// NewMetricsCollector registers the vault metrics on a fresh registry
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &MetricsCollector{
		registry: reg,
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_jobs_started_total",
			Help: "Jobs that acquired a worker slot",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_jobs_finished_total",
			Help: "Jobs that reached a terminal status",
		}, []string{"kind", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_job_duration_seconds",
			Help:    "Wall-clock duration of finished jobs",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"kind"}),
		runningJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_jobs_running",
			Help: "Jobs currently holding a worker slot",
		}, []string{"kind"}),
		recordsRestored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_restore_records_total",
			Help: "Records handled by restore jobs by outcome",
		}, []string{"outcome"}),
		archiveBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_archive_bytes",
			Help:    "Archive sizes written by backup jobs",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		}, []string{"form"}),
		compression: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_archive_compression_ratio_percent",
			Help:    "Space saved by archive compression",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		retentionPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_retention_pruned_total",
			Help: "Backups removed by retention",
		}),
		mirrorUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_mirror_uploads_total",
			Help: "Archive mirror uploads by result",
		}, []string{"provider", "result"}),
	}
}

// Registry returns the registry to serve over HTTP
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}

// JobStarted records a job entering the running state
func (mc *MetricsCollector) JobStarted(kind JobKind) {
	if mc == nil {
		return
	}
	mc.jobsStarted.WithLabelValues(string(kind)).Inc()
	mc.runningJobs.WithLabelValues(string(kind)).Inc()
}

// JobFinished records a running job reaching status after duration
func (mc *MetricsCollector) JobFinished(kind JobKind, status JobStatus, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.jobsFinished.WithLabelValues(string(kind), string(status)).Inc()
	mc.jobDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	mc.runningJobs.WithLabelValues(string(kind)).Dec()
}

// RecordArchive records the sizes of a written archive
func (mc *MetricsCollector) RecordArchive(uncompressed, compressed int64) {
	if mc == nil {
		return
	}
	mc.archiveBytes.WithLabelValues("uncompressed").Observe(float64(uncompressed))
	mc.archiveBytes.WithLabelValues("compressed").Observe(float64(compressed))
	mc.compression.Observe(CompressionRatio(uncompressed, compressed))
}

// RecordRestoreCounts adds a finished restore's per-record outcomes
func (mc *MetricsCollector) RecordRestoreCounts(res RestoreResult) {
	if mc == nil {
		return
	}
	mc.recordsRestored.WithLabelValues("success").Add(float64(res.Success))
	mc.recordsRestored.WithLabelValues("failed").Add(float64(res.Failed))
	mc.recordsRestored.WithLabelValues("skipped").Add(float64(res.Skipped))
}

// RecordRetention adds the number of backups a prune removed
func (mc *MetricsCollector) RecordRetention(deleted int) {
	if mc == nil {
		return
	}
	mc.retentionPruned.Add(float64(deleted))
}

// RecordMirrorUpload records one archive mirror upload attempt
func (mc *MetricsCollector) RecordMirrorUpload(provider StorageProviderType, err error) {
	if mc == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	mc.mirrorUploads.WithLabelValues(string(provider), result).Inc()
}
