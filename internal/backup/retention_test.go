package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedBackups creates n completed backups with archive files, oldest first
func seedBackups(t *testing.T, ledger JobLedger, dir string, n int) []string {
	t.Helper()
	base := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("b%d", i)
		path := filepath.Join(dir, id+".json.gz")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

		completed := base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, ledger.CreateBackupJob(context.Background(), &BackupJob{
			ID:          id,
			Name:        "nightly",
			Status:      JobStatusCompleted,
			ArchivePath: path,
			CreatedAt:   completed.Add(-time.Hour),
			CompletedAt: &completed,
		}))
		ids = append(ids, id)
	}
	return ids
}

func TestRetentionPolicy_Prune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger := NewMemoryLedger()
	ids := seedBackups(t, ledger, dir, 5)

	require.NoError(t, ledger.CreateBackupJob(ctx, &BackupJob{ID: "running", Status: JobStatusRunning, CreatedAt: time.Now()}))
	require.NoError(t, ledger.CreateBackupJob(ctx, &BackupJob{ID: "failed", Status: JobStatusFailed, CreatedAt: time.Now()}))
	require.NoError(t, ledger.CreateRestoreJob(ctx, &RestoreJob{ID: "restore", Status: JobStatusCompleted, CreatedAt: time.Now()}))

	policy := NewRetentionPolicy(ledger, nil, nil, NewMetricsCollector())

	result, err := policy.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalBackupsProcessed)
	assert.Equal(t, 3, result.BackupsDeleted)
	assert.Equal(t, 2, result.BackupsKept)
	assert.ElementsMatch(t, ids[:3], result.DeletedBackups)
	assert.Empty(t, result.Errors)

	for i, id := range ids {
		_, err := ledger.GetBackupJob(ctx, id)
		_, statErr := os.Stat(filepath.Join(dir, id+".json.gz"))
		if i < 3 {
			assert.ErrorIs(t, err, ErrJobNotFound, id)
			assert.True(t, os.IsNotExist(statErr), id)
		} else {
			assert.NoError(t, err, id)
			assert.NoError(t, statErr, id)
		}
	}

	for _, id := range []string{"running", "failed"} {
		_, err := ledger.GetBackupJob(ctx, id)
		assert.NoError(t, err, "non-terminal and failed jobs are untouched")
	}
	_, err = ledger.GetRestoreJob(ctx, "restore")
	assert.NoError(t, err)

	again, err := policy.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, again.BackupsDeleted, "repeat prune is a no-op")
	assert.Equal(t, 2, again.BackupsKept)
}

func TestRetentionPolicy_ToleratesMissingArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger := NewMemoryLedger()
	ids := seedBackups(t, ledger, dir, 2)
	require.NoError(t, os.Remove(filepath.Join(dir, ids[0]+".json.gz")))

	result, err := NewRetentionPolicy(ledger, nil, nil, nil).Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0]}, result.DeletedBackups)
}

func TestRetentionPolicy_DeletesMirrorCopy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger := NewMemoryLedger()
	ids := seedBackups(t, ledger, dir, 2)

	mirror, err := NewLocalArchiveStore(&LocalConfig{BasePath: filepath.Join(t.TempDir(), "mirror")})
	require.NoError(t, err)
	location, err := mirror.Put(ctx, ids[0]+".json.gz", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, err = ledger.UpdateBackupJob(ctx, ids[0], func(j *BackupJob) error {
		j.MirrorLocation = location
		return nil
	})
	require.NoError(t, err)

	_, err = NewRetentionPolicy(ledger, mirror, nil, nil).Prune(ctx, 1)
	require.NoError(t, err)

	_, err = os.Stat(location)
	assert.True(t, os.IsNotExist(err))
}

func TestRetentionPolicy_KeepsRowWhenArchiveCannotBeRemoved(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ids := seedBackups(t, ledger, t.TempDir(), 2)

	// a non-empty directory in place of the archive cannot be removed
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0755))
	_, err := ledger.UpdateBackupJob(ctx, ids[0], func(j *BackupJob) error {
		j.ArchivePath = blocked
		return nil
	})
	require.NoError(t, err)

	result, err := NewRetentionPolicy(ledger, nil, nil, nil).Prune(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, result.BackupsDeleted)
	assert.Len(t, result.Errors, 1)

	_, err = ledger.GetBackupJob(ctx, ids[0])
	assert.NoError(t, err)
}

func TestRetentionPolicy_NegativeKeep(t *testing.T) {
	_, err := NewRetentionPolicy(NewMemoryLedger(), nil, nil, nil).Prune(context.Background(), -1)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
