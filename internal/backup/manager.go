package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EngineConfig wires the collaborators of an Engine
type EngineConfig struct {
	Catalog          *Catalog
	Source           RecordSource
	Target           RestoreTarget
	Ledger           JobLedger
	Codec            *ArchiveCodec
	ArchiveDir       string
	Mirror           ArchiveStore
	MaxConcurrent    int
	ProgressInterval int
	Log              *JobLogger
	Metrics          *MetricsCollector
}

// Engine is the job-control surface: it creates ledger rows, hands tasks to
// the worker pool and answers status queries
type Engine struct {
	catalog          *Catalog
	source           RecordSource
	target           RestoreTarget
	ledger           JobLedger
	codec            *ArchiveCodec
	archiveDir       string
	mirror           ArchiveStore
	progressInterval int
	log              *JobLogger
	metrics          *MetricsCollector

	runner    *JobRunner
	retention *RetentionPolicy
}

// NewEngine validates cfg and starts the worker pool
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, NewConfigurationError("domain catalog is required", nil)
	}
	if cfg.Ledger == nil {
		return nil, NewConfigurationError("job ledger is required", nil)
	}
	if cfg.ArchiveDir == "" {
		return nil, NewConfigurationError("archive directory is required", nil)
	}
	if err := os.MkdirAll(cfg.ArchiveDir, 0755); err != nil {
		return nil, NewPermissionError("failed to create archive directory", err).WithContext("path", cfg.ArchiveDir)
	}

	if cfg.Codec == nil {
		cfg.Codec = DefaultArchiveCodec()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.Log == nil {
		cfg.Log, _ = NewJobLogger(JobLoggerConfig{})
	}

	return &Engine{
		catalog:          cfg.Catalog,
		source:           cfg.Source,
		target:           cfg.Target,
		ledger:           cfg.Ledger,
		codec:            cfg.Codec,
		archiveDir:       cfg.ArchiveDir,
		mirror:           cfg.Mirror,
		progressInterval: cfg.ProgressInterval,
		log:              cfg.Log,
		metrics:          cfg.Metrics,
		runner:           NewJobRunner(cfg.Ledger, cfg.MaxConcurrent, cfg.Log, cfg.Metrics),
		retention:        NewRetentionPolicy(cfg.Ledger, cfg.Mirror, cfg.Log, cfg.Metrics),
	}, nil
}

// Catalog returns the domain catalog the engine snapshots from
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// CreateBackup records a pending backup job and queues it. An empty domain
// list selects every available domain.
func (e *Engine) CreateBackup(ctx context.Context, req BackupRequest) (JobHandle, error) {
	if e.source == nil {
		return JobHandle{}, NewConfigurationError("no record source configured", nil)
	}
	if req.Name == "" {
		return JobHandle{}, NewValidationError("backup name is required", nil)
	}

	domains := req.Domains
	if len(domains) == 0 {
		domains = e.catalog.ListDomains()
	}
	if _, err := e.catalog.TypesFor(domains); err != nil {
		return JobHandle{}, err
	}

	job := &BackupJob{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Domains:     append([]string(nil), domains...),
		Status:      JobStatusPending,
		CreatedBy:   req.Owner,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.ledger.CreateBackupJob(ctx, job); err != nil {
		return JobHandle{}, err
	}

	handle := JobHandle{ID: job.ID, Kind: JobKindBackup}
	e.log.ForJob(job.ID, JobKindBackup).LogJobSubmitted(job.Name, job.CreatedBy, map[string]interface{}{
		"domains": domains,
	})
	e.runner.Submit(handle, e.backupTask(job.ID, job.Name, domains))
	return handle, nil
}

func (e *Engine) backupTask(id, name string, domains []string) JobTask {
	return func(ctx context.Context, progress *ProgressReporter) (JobResult, error) {
		log := e.log.ForJob(id, JobKindBackup)
		snapshotter := NewSnapshotter(e.catalog, e.source, e.codec, log)

		// the snapshot gets 0-90, the archive write the rest
		snap, err := snapshotter.Snapshot(ctx, domains, func(percent int, step string) {
			progress.Update(ctx, percent*90/100, step)
		})
		if err != nil {
			return JobResult{}, err
		}

		progress.Update(ctx, 90, fmt.Sprintf("Writing archive (%d records)", snap.Total()))
		path := filepath.Join(e.archiveDir, e.codec.FileName(name, time.Now()))
		stats, err := snapshotter.WriteArchive(snap.Records, path)
		if err != nil {
			return JobResult{}, err
		}

		result := JobResult{Archive: &stats}
		if e.mirror != nil {
			progress.Update(ctx, 95, "Uploading archive to "+string(e.mirror.Provider()))
			result.MirrorLocation = e.mirrorArchive(ctx, log, path)
		}
		return result, nil
	}
}

// mirrorArchive uploads a finished archive. Failures are logged and counted
// but never fail the job; an empty location is returned instead.
func (e *Engine) mirrorArchive(ctx context.Context, log *JobLogger, path string) string {
	name := filepath.Base(path)
	done := log.LogStorageOperation("upload", e.mirror.Provider(), name)

	location, err := func() (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		return e.mirror.Put(ctx, name, f, info.Size())
	}()

	done(err)
	e.metrics.RecordMirrorUpload(e.mirror.Provider(), err)
	if err != nil {
		log.LogCleanupError(path, NewStorageError("archive mirror upload failed", err))
		return ""
	}
	return location
}

// RestoreFromFile records a pending restore job for the archive at path and
// queues it. Remote locations (s3://, gs://, azure://) are fetched through
// the mirror store into a temp file that is removed when the job ends.
func (e *Engine) RestoreFromFile(ctx context.Context, path string, req RestoreRequest) (JobHandle, error) {
	if e.target == nil {
		return JobHandle{}, NewConfigurationError("no restore target configured", nil)
	}

	var remoteName string
	var size int64
	if IsRemoteLocation(path) {
		if e.mirror == nil {
			return JobHandle{}, NewValidationError("remote archive requires a configured mirror store", nil).WithContext("path", path)
		}
		name, ok := e.mirror.ParseLocation(path)
		if !ok {
			return JobHandle{}, NewValidationError(fmt.Sprintf("archive location is not in the %s mirror", e.mirror.Provider()), nil).WithContext("path", path)
		}
		remoteName = name
	} else {
		n, err := checkLocalArchive(path)
		if err != nil {
			return JobHandle{}, err
		}
		size = n
	}

	name := req.Name
	if name == "" {
		name = "Restore " + filepath.Base(path)
	}

	job := &RestoreJob{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   req.Description,
		SourcePath:    path,
		SourceSize:    size,
		ClearExisting: req.ClearExisting,
		Status:        JobStatusPending,
		CreatedBy:     req.Owner,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.ledger.CreateRestoreJob(ctx, job); err != nil {
		return JobHandle{}, err
	}

	handle := JobHandle{ID: job.ID, Kind: JobKindRestore}
	e.log.ForJob(job.ID, JobKindRestore).LogJobSubmitted(job.Name, job.CreatedBy, map[string]interface{}{
		"source_path":    path,
		"clear_existing": req.ClearExisting,
	})
	e.runner.Submit(handle, e.restoreTask(job.ID, path, remoteName, req.ClearExisting))
	return handle, nil
}

// checkLocalArchive validates a local archive path and returns its size
func checkLocalArchive(path string) (int64, error) {
	if !IsArchiveName(path) {
		return 0, NewValidationError("archive must be a .json, .gz, .zst or .lz4 file", nil).WithContext("path", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, NewNotFoundError("archive file not found", err).WithContext("path", path)
		}
		return 0, NewStorageError("failed to stat archive file", err).WithContext("path", path)
	}
	if info.IsDir() {
		return 0, NewValidationError("archive path is a directory", nil).WithContext("path", path)
	}
	return info.Size(), nil
}

func (e *Engine) restoreTask(id, path, remoteName string, clearExisting bool) JobTask {
	return func(ctx context.Context, progress *ProgressReporter) (JobResult, error) {
		log := e.log.ForJob(id, JobKindRestore)

		local := path
		if remoteName != "" {
			progress.Update(ctx, 0, "Downloading archive from "+string(e.mirror.Provider()))
			tmp, size, err := e.fetchRemote(ctx, log, remoteName)
			if err != nil {
				return JobResult{}, err
			}
			defer func() {
				if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
					log.LogCleanupError(tmp, err)
				}
			}()
			local = tmp
			if _, err := e.ledger.UpdateRestoreJob(context.WithoutCancel(ctx), id, func(j *RestoreJob) error {
				j.SourceSize = size
				return nil
			}); err != nil {
				log.Entry().WithField("error", err.Error()).Warn("Could not record archive size")
			}
		}

		progress.Update(ctx, 0, "Reading archive")
		records, err := e.codec.Read(local)
		if err != nil {
			return JobResult{}, err
		}

		restorer := NewRestorer(e.catalog, e.target, log)
		opts := RestoreOptions{ClearExisting: clearExisting, ProgressInterval: e.progressInterval}
		res, err := restorer.Restore(ctx, records, opts, func(rp RestoreProgress) {
			progress.UpdateRestore(ctx, rp)
		})
		if err != nil {
			return JobResult{}, err
		}
		return JobResult{Restore: &res}, nil
	}
}

// fetchRemote downloads a mirrored archive into a temp file and returns its
// path and size. The archive name is kept as the suffix so compression
// detection by extension still works.
func (e *Engine) fetchRemote(ctx context.Context, log *JobLogger, name string) (path string, size int64, err error) {
	done := log.LogStorageOperation("download", e.mirror.Provider(), name)
	defer func() { done(err) }()

	rc, err := e.mirror.Fetch(ctx, name)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "vault-restore-*-"+name)
	if err != nil {
		return "", 0, NewStorageError("failed to create temp file for remote archive", err)
	}
	if size, err = io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, NewStorageError("failed to download remote archive", err).WithContext("name", name)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, NewStorageError("failed to write remote archive", err)
	}
	return tmp.Name(), size, nil
}

// GetStatus returns a uniform status view of a backup or restore job
func (e *Engine) GetStatus(ctx context.Context, handle JobHandle) (*JobStatusReport, error) {
	switch handle.Kind {
	case JobKindBackup:
		job, err := e.ledger.GetBackupJob(ctx, handle.ID)
		if err != nil {
			return nil, err
		}
		return backupReport(job), nil
	case JobKindRestore:
		job, err := e.ledger.GetRestoreJob(ctx, handle.ID)
		if err != nil {
			return nil, err
		}
		return restoreReport(job), nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown job kind %q", handle.Kind), nil)
	}
}

// FindJob resolves a bare job id to a handle, looking at backups first
func (e *Engine) FindJob(ctx context.Context, id string) (JobHandle, error) {
	if _, err := e.ledger.GetBackupJob(ctx, id); err == nil {
		return JobHandle{ID: id, Kind: JobKindBackup}, nil
	} else if !IsNotFound(err) {
		return JobHandle{}, err
	}
	if _, err := e.ledger.GetRestoreJob(ctx, id); err != nil {
		return JobHandle{}, err
	}
	return JobHandle{ID: id, Kind: JobKindRestore}, nil
}

func backupReport(job *BackupJob) *JobStatusReport {
	report := &JobStatusReport{
		ID:           job.ID,
		Kind:         JobKindBackup,
		Name:         job.Name,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		TotalRecords: job.RecordCount,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		Duration:     job.Duration(),
	}
	if job.Status == JobStatusCompleted {
		report.ArchivePath = job.ArchivePath
		report.UncompressedSize = job.UncompressedSize
		report.CompressedSize = job.CompressedSize
		report.CompressionRatio = job.CompressionRatio()
	}
	return report
}

func restoreReport(job *RestoreJob) *JobStatusReport {
	return &JobStatusReport{
		ID:               job.ID,
		Kind:             JobKindRestore,
		Name:             job.Name,
		Status:           job.Status,
		Progress:         job.Progress,
		CurrentStep:      job.CurrentStep,
		TotalRecords:     job.TotalRecords,
		ProcessedRecords: job.ProcessedRecords,
		SuccessCount:     job.SuccessCount,
		FailedCount:      job.FailedCount,
		ArchivePath:      job.SourcePath,
		SourceSize:       job.SourceSize,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt,
		Duration:         job.Duration(),
	}
}

// WaitForJob polls a job until it reaches a terminal status. onUpdate, if
// set, receives every report including the final one.
func (e *Engine) WaitForJob(ctx context.Context, handle JobHandle, interval time.Duration, onUpdate func(*JobStatusReport)) (*JobStatusReport, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := e.GetStatus(ctx, handle)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(report)
		}
		if report.Status.IsTerminal() {
			return report, nil
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PruneOldBackups keeps the newest keep completed backups and deletes the rest
func (e *Engine) PruneOldBackups(ctx context.Context, keep int) (*RetentionResult, error) {
	return e.retention.Prune(ctx, keep)
}

// ListBackups lists backup jobs newest first
func (e *Engine) ListBackups(ctx context.Context, filter BackupFilter) ([]*BackupJob, error) {
	return e.ledger.ListBackupJobs(ctx, filter)
}

// ListRestores lists restore jobs newest first
func (e *Engine) ListRestores(ctx context.Context, limit int) ([]*RestoreJob, error) {
	return e.ledger.ListRestoreJobs(ctx, limit)
}

// CancelJob marks a pending or running job cancelled
func (e *Engine) CancelJob(ctx context.Context, handle JobHandle) error {
	return e.runner.Cancel(ctx, handle)
}

// FailInterrupted marks jobs that a previous process left pending or running
// as failed. Only meaningful with a persistent ledger; call it before
// submitting new work.
func (e *Engine) FailInterrupted(ctx context.Context) (int, error) {
	var handles []JobHandle
	for _, status := range []JobStatus{JobStatusPending, JobStatusRunning} {
		status := status
		jobs, err := e.ledger.ListBackupJobs(ctx, BackupFilter{Status: &status})
		if err != nil {
			return 0, err
		}
		for _, job := range jobs {
			handles = append(handles, JobHandle{ID: job.ID, Kind: JobKindBackup})
		}
	}

	restores, err := e.ledger.ListRestoreJobs(ctx, 0)
	if err != nil {
		return 0, err
	}
	for _, job := range restores {
		if !job.Status.IsTerminal() {
			handles = append(handles, JobHandle{ID: job.ID, Kind: JobKindRestore})
		}
	}

	for _, handle := range handles {
		e.runner.fail(handle, errors.New("job was interrupted by a process restart"))
	}
	return len(handles), nil
}

// Wait blocks until every submitted job has finished
func (e *Engine) Wait(ctx context.Context) error {
	return e.runner.Wait(ctx)
}

// Shutdown stops accepting work for queued jobs and waits for running ones
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.runner.Shutdown(ctx)
}
