package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_JobLifecycle(t *testing.T) {
	mc := NewMetricsCollector()

	mc.JobStarted(JobKindBackup)
	mc.JobStarted(JobKindRestore)
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.runningJobs.WithLabelValues("backup")))

	mc.JobFinished(JobKindBackup, JobStatusCompleted, 3*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.runningJobs.WithLabelValues("backup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.jobsFinished.WithLabelValues("backup", "completed")))

	mc.RecordRestoreCounts(RestoreResult{Success: 8, Failed: 1, Skipped: 3})
	assert.Equal(t, 8.0, testutil.ToFloat64(mc.recordsRestored.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mc.recordsRestored.WithLabelValues("skipped")))

	mc.RecordRetention(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.retentionPruned))

	mc.RecordMirrorUpload(StorageProviderS3, nil)
	mc.RecordMirrorUpload(StorageProviderS3, errors.New("denied"))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.mirrorUploads.WithLabelValues("S3", "failure")))

	mc.RecordArchive(1000, 250)
	count, err := testutil.GatherAndCount(mc.Registry(), "vault_archive_compression_ratio_percent")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsCollector_NilIsNoop(t *testing.T) {
	var mc *MetricsCollector
	assert.NotPanics(t, func() {
		mc.JobStarted(JobKindBackup)
		mc.JobFinished(JobKindBackup, JobStatusFailed, time.Second)
		mc.RecordArchive(1, 1)
		mc.RecordRestoreCounts(RestoreResult{})
		mc.RecordRetention(1)
		mc.RecordMirrorUpload(StorageProviderGCS, nil)
	})
	assert.Nil(t, mc.Registry())
}
