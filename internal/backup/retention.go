package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"
)

// RetentionResult represents the result of one prune run
type RetentionResult struct {
	TotalBackupsProcessed int           `json:"total_backups_processed" yaml:"total_backups_processed"`
	BackupsDeleted        int           `json:"backups_deleted" yaml:"backups_deleted"`
	BackupsKept           int           `json:"backups_kept" yaml:"backups_kept"`
	DeletedBackups        []string      `json:"deleted_backups" yaml:"deleted_backups"`
	Errors                []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	ProcessingTime        time.Duration `json:"processing_time" yaml:"processing_time"`
}

// RetentionPolicy deletes the oldest completed backups beyond a keep count
type RetentionPolicy struct {
	ledger  JobLedger
	mirror  ArchiveStore
	log     *JobLogger
	metrics *MetricsCollector
}

// NewRetentionPolicy creates a policy over ledger. mirror may be nil.
func NewRetentionPolicy(ledger JobLedger, mirror ArchiveStore, log *JobLogger, metrics *MetricsCollector) *RetentionPolicy {
	if log == nil {
		log, _ = NewJobLogger(JobLoggerConfig{})
	}
	return &RetentionPolicy{ledger: ledger, mirror: mirror, log: log, metrics: metrics}
}

// Candidates returns the completed backups a prune with keep would delete,
// oldest last
func (rp *RetentionPolicy) Candidates(ctx context.Context, keep int) ([]*BackupJob, int, error) {
	if keep < 0 {
		return nil, 0, NewValidationError(fmt.Sprintf("keep count must not be negative, got %d", keep), nil)
	}

	completed := JobStatusCompleted
	backups, err := rp.ledger.ListBackupJobs(ctx, BackupFilter{Status: &completed})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return finishedAt(backups[i]).After(finishedAt(backups[j]))
	})

	if len(backups) <= keep {
		return nil, len(backups), nil
	}
	return backups[keep:], len(backups), nil
}

// Prune removes every completed backup beyond the newest keep. For each one
// the archive file goes first, then the mirrored copy, then the ledger row.
// A row whose archive cannot be removed is kept so a later run retries it.
func (rp *RetentionPolicy) Prune(ctx context.Context, keep int) (result *RetentionResult, err error) {
	start := time.Now()
	done := rp.log.LogRetentionCleanup(keep)
	result = &RetentionResult{}
	defer func() {
		result.ProcessingTime = time.Since(start)
		done(err, result.DeletedBackups)
	}()

	candidates, total, err := rp.Candidates(ctx, keep)
	if err != nil {
		return result, err
	}
	result.TotalBackupsProcessed = total
	result.BackupsKept = total - len(candidates)

	for _, job := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if delErr := rp.deleteBackup(ctx, job); delErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete backup %s: %v", job.ID, delErr))
			result.BackupsKept++
			continue
		}
		result.BackupsDeleted++
		result.DeletedBackups = append(result.DeletedBackups, job.ID)
	}

	rp.metrics.RecordRetention(result.BackupsDeleted)
	return result, nil
}

func (rp *RetentionPolicy) deleteBackup(ctx context.Context, job *BackupJob) error {
	if job.ArchivePath != "" {
		if err := os.Remove(job.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return NewStorageError("failed to delete archive file", err).WithContext("path", job.ArchivePath)
		}
	}

	if rp.mirror != nil && job.MirrorLocation != "" {
		if name, ok := rp.mirror.ParseLocation(job.MirrorLocation); ok {
			done := rp.log.LogStorageOperation("delete", rp.mirror.Provider(), name)
			mErr := rp.mirror.Delete(ctx, name)
			done(mErr)
			if mErr != nil {
				rp.log.LogCleanupError(job.MirrorLocation, mErr)
			}
		}
	}

	if err := rp.ledger.DeleteBackupJob(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
		return err
	}
	return nil
}

func finishedAt(job *BackupJob) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}
