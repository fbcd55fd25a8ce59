package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidTransition is returned when a job status change is not allowed
var ErrInvalidTransition = errors.New("invalid job status transition")

// DefaultMaxConcurrentJobs bounds the worker pool when no limit is configured
const DefaultMaxConcurrentJobs = 2

// CanTransition reports whether a job may move from one status to another.
// Terminal states have no outgoing transitions.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	default:
		return false
	}
}

// JobResult carries what a finished task writes onto its ledger row
type JobResult struct {
	Archive        *ArchiveStats
	MirrorLocation string
	Restore        *RestoreResult
}

// JobTask is the body of a job. A returned error or a panic fails the job.
type JobTask func(ctx context.Context, progress *ProgressReporter) (JobResult, error)

// trackedJob is the status surface shared by BackupJob and RestoreJob
type trackedJob interface {
	jobStatus() JobStatus
	jobProgress() int
	jobOwner() string
	setJobStatus(to JobStatus, at time.Time)
	setJobProgress(percent int, step string)
	setJobError(msg string)
}

func (j *BackupJob) jobStatus() JobStatus { return j.Status }
func (j *BackupJob) jobProgress() int     { return j.Progress }
func (j *BackupJob) jobOwner() string     { return j.CreatedBy }

func (j *BackupJob) setJobStatus(to JobStatus, at time.Time) {
	j.Status = to
	stampStatus(to, at, &j.StartedAt, &j.CompletedAt)
}

func (j *BackupJob) setJobProgress(percent int, step string) {
	j.Progress = percent
	j.CurrentStep = step
}

func (j *BackupJob) setJobError(msg string) { j.ErrorMessage = msg }

func (j *RestoreJob) jobStatus() JobStatus { return j.Status }
func (j *RestoreJob) jobProgress() int     { return j.Progress }
func (j *RestoreJob) jobOwner() string     { return j.CreatedBy }

func (j *RestoreJob) setJobStatus(to JobStatus, at time.Time) {
	j.Status = to
	stampStatus(to, at, &j.StartedAt, &j.CompletedAt)
}

func (j *RestoreJob) setJobProgress(percent int, step string) {
	j.Progress = percent
	j.CurrentStep = step
}

func (j *RestoreJob) setJobError(msg string) { j.ErrorMessage = msg }

func stampStatus(to JobStatus, at time.Time, started, completed **time.Time) {
	switch {
	case to == JobStatusRunning:
		*started = &at
	case to.IsTerminal():
		*completed = &at
	}
}

// JobRunner executes jobs on a bounded worker pool and drives their ledger
// rows through the status state machine
type JobRunner struct {
	ledger  JobLedger
	sem     *semaphore.Weighted
	log     *JobLogger
	metrics *MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobRunner creates a runner allowing maxConcurrent jobs at once
func NewJobRunner(ledger JobLedger, maxConcurrent int, log *JobLogger, metrics *MetricsCollector) *JobRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if log == nil {
		log, _ = NewJobLogger(JobLoggerConfig{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRunner{
		ledger:  ledger,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		log:     log,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit queues task for the job identified by handle. The ledger row must
// already exist in pending state. Submit returns immediately.
func (r *JobRunner) Submit(handle JobHandle, task JobTask) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.fail(handle, fmt.Errorf("job was not started: %w", err))
			return
		}
		defer r.sem.Release(1)

		r.run(handle, task)
	}()
}

// Wait blocks until every submitted job has finished or ctx is done
func (r *JobRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels jobs still waiting for a slot and the context of running
// ones, then waits for them to return
func (r *JobRunner) Shutdown(ctx context.Context) error {
	r.cancel()
	return r.Wait(ctx)
}

// Cancel marks a pending or running job as cancelled. A running task is not
// interrupted; its eventual outcome is discarded.
func (r *JobRunner) Cancel(ctx context.Context, handle JobHandle) error {
	return r.transition(ctx, handle, JobStatusCancelled, nil, nil)
}

func (r *JobRunner) run(handle JobHandle, task JobTask) {
	ctx := r.ctx
	log := r.log.ForJob(handle.ID, handle.Kind)

	if err := r.transition(ctx, handle, JobStatusRunning, nil, nil); err != nil {
		// cancelled while waiting for a slot
		log.Entry().WithField("error", err.Error()).Info("Job not started")
		return
	}
	r.metrics.JobStarted(handle.Kind)

	start := time.Now()
	result, err := r.execute(ctx, handle, task)
	if err != nil {
		r.fail(handle, err)
		r.metrics.JobFinished(handle.Kind, JobStatusFailed, time.Since(start))
		return
	}

	complete := func(j trackedJob) {
		j.setJobProgress(100, "Completed")
		switch job := j.(type) {
		case *BackupJob:
			if a := result.Archive; a != nil {
				job.ArchivePath = a.Path
				job.RecordCount = a.Records
				job.UncompressedSize = a.UncompressedSize
				job.CompressedSize = a.CompressedSize
			}
			job.MirrorLocation = result.MirrorLocation
		case *RestoreJob:
			if res := result.Restore; res != nil {
				job.TotalRecords = res.Total
				job.ProcessedRecords = res.Processed
				job.SuccessCount = res.Success
				job.FailedCount = res.Failed
			}
		}
	}
	if err := r.transition(ctx, handle, JobStatusCompleted, nil, complete); err != nil {
		log.Entry().WithField("error", err.Error()).Warn("Job finished but its outcome was not recorded")
		r.metrics.JobFinished(handle.Kind, JobStatusCancelled, time.Since(start))
		return
	}
	r.metrics.JobFinished(handle.Kind, JobStatusCompleted, time.Since(start))
	if result.Archive != nil {
		r.metrics.RecordArchive(result.Archive.UncompressedSize, result.Archive.CompressedSize)
	}
	if result.Restore != nil {
		r.metrics.RecordRestoreCounts(*result.Restore)
	}
}

// execute runs task and converts a panic into an error carrying its message
func (r *JobRunner) execute(ctx context.Context, handle JobHandle, task JobTask) (result JobResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return task(ctx, &ProgressReporter{runner: r, handle: handle})
}

func (r *JobRunner) fail(handle JobHandle, cause error) {
	if err := r.transition(r.ctx, handle, JobStatusFailed, cause, func(j trackedJob) {
		j.setJobError(cause.Error())
	}); err != nil {
		r.log.ForJob(handle.ID, handle.Kind).Entry().WithField("error", err.Error()).Warn("Could not mark job failed")
	}
}

// transition moves a job to a new status, stamping timestamps and applying
// mutate on the same ledger write
func (r *JobRunner) transition(ctx context.Context, handle JobHandle, to JobStatus, cause error, mutate func(trackedJob)) error {
	var from JobStatus
	var owner string
	err := r.update(context.WithoutCancel(ctx), handle, func(j trackedJob) error {
		from = j.jobStatus()
		owner = j.jobOwner()
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		j.setJobStatus(to, time.Now().UTC())
		if mutate != nil {
			mutate(j)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.ForJob(handle.ID, handle.Kind).LogTransition(from, to, owner, cause)
	return nil
}

func (r *JobRunner) update(ctx context.Context, handle JobHandle, fn func(trackedJob) error) error {
	switch handle.Kind {
	case JobKindBackup:
		_, err := r.ledger.UpdateBackupJob(ctx, handle.ID, func(j *BackupJob) error { return fn(j) })
		return err
	case JobKindRestore:
		_, err := r.ledger.UpdateRestoreJob(ctx, handle.ID, func(j *RestoreJob) error { return fn(j) })
		return err
	default:
		return NewValidationError(fmt.Sprintf("unknown job kind %q", handle.Kind), nil)
	}
}

// ProgressReporter writes progress onto a running job's ledger row. Writes
// are clamped to [0,100] and never move progress backwards.
type ProgressReporter struct {
	runner *JobRunner
	handle JobHandle

	mu   sync.Mutex
	last int
}

// Update records percent and step
func (p *ProgressReporter) Update(ctx context.Context, percent int, step string) {
	p.write(ctx, percent, step, nil)
}

// UpdateRestore records restore progress together with the running counters
func (p *ProgressReporter) UpdateRestore(ctx context.Context, rp RestoreProgress) {
	p.write(ctx, rp.Percent, rp.Step, func(j trackedJob) {
		if job, ok := j.(*RestoreJob); ok {
			job.TotalRecords = rp.Total
			job.ProcessedRecords = rp.Processed
			job.SuccessCount = rp.Success
			job.FailedCount = rp.Failed
		}
	})
}

func (p *ProgressReporter) write(ctx context.Context, percent int, step string, extra func(trackedJob)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	percent = min(max(percent, 0), 100)
	if percent < p.last {
		percent = p.last
	}

	err := p.runner.update(context.WithoutCancel(ctx), p.handle, func(j trackedJob) error {
		if j.jobStatus() != JobStatusRunning {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.jobStatus())
		}
		j.setJobProgress(max(percent, j.jobProgress()), step)
		if extra != nil {
			extra(j)
		}
		return nil
	})
	if err != nil {
		p.runner.log.ForJob(p.handle.ID, p.handle.Kind).Entry().
			WithField("error", err.Error()).Debug("Progress update skipped")
		return
	}
	p.last = percent
}
