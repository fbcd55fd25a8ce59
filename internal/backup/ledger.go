package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrJobNotFound is returned when a ledger lookup misses
var ErrJobNotFound = errors.New("job not found")

// ScheduleRun records when a schedule last fired and when it fires next
type ScheduleRun struct {
	Name    string
	LastRun *time.Time
	NextRun *time.Time
}

// JobLedger persists job rows. Update closures run against a private copy and
// are stored only when they return nil.
type JobLedger interface {
	CreateBackupJob(ctx context.Context, job *BackupJob) error
	GetBackupJob(ctx context.Context, id string) (*BackupJob, error)
	UpdateBackupJob(ctx context.Context, id string, fn func(*BackupJob) error) (*BackupJob, error)
	ListBackupJobs(ctx context.Context, filter BackupFilter) ([]*BackupJob, error)
	DeleteBackupJob(ctx context.Context, id string) error

	CreateRestoreJob(ctx context.Context, job *RestoreJob) error
	GetRestoreJob(ctx context.Context, id string) (*RestoreJob, error)
	UpdateRestoreJob(ctx context.Context, id string, fn func(*RestoreJob) error) (*RestoreJob, error)
	ListRestoreJobs(ctx context.Context, limit int) ([]*RestoreJob, error)

	RecordScheduleRun(ctx context.Context, run ScheduleRun) error
	GetScheduleRun(ctx context.Context, name string) (ScheduleRun, error)
}

// MemoryLedger keeps job rows in process memory
type MemoryLedger struct {
	mu        sync.RWMutex
	backups   map[string]*BackupJob
	restores  map[string]*RestoreJob
	schedules map[string]ScheduleRun
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		backups:   make(map[string]*BackupJob),
		restores:  make(map[string]*RestoreJob),
		schedules: make(map[string]ScheduleRun),
	}
}

func (l *MemoryLedger) CreateBackupJob(ctx context.Context, job *BackupJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.backups[job.ID]; exists {
		return NewConflictError(fmt.Sprintf("backup job %s already exists", job.ID), nil)
	}
	l.backups[job.ID] = cloneBackupJob(job)
	return nil
}

func (l *MemoryLedger) GetBackupJob(ctx context.Context, id string) (*BackupJob, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.backups[id]
	if !ok {
		return nil, notFound(JobKindBackup, id)
	}
	return cloneBackupJob(job), nil
}

func (l *MemoryLedger) UpdateBackupJob(ctx context.Context, id string, fn func(*BackupJob) error) (*BackupJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.backups[id]
	if !ok {
		return nil, notFound(JobKindBackup, id)
	}
	updated := cloneBackupJob(job)
	if err := fn(updated); err != nil {
		return nil, err
	}
	l.backups[id] = updated
	return cloneBackupJob(updated), nil
}

func (l *MemoryLedger) ListBackupJobs(ctx context.Context, filter BackupFilter) ([]*BackupJob, error) {
	l.mu.RLock()
	jobs := make([]*BackupJob, 0, len(l.backups))
	for _, job := range l.backups {
		if filter.Matches(job) {
			jobs = append(jobs, cloneBackupJob(job))
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (l *MemoryLedger) DeleteBackupJob(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.backups[id]; !ok {
		return notFound(JobKindBackup, id)
	}
	delete(l.backups, id)
	return nil
}

func (l *MemoryLedger) CreateRestoreJob(ctx context.Context, job *RestoreJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.restores[job.ID]; exists {
		return NewConflictError(fmt.Sprintf("restore job %s already exists", job.ID), nil)
	}
	l.restores[job.ID] = cloneRestoreJob(job)
	return nil
}

func (l *MemoryLedger) GetRestoreJob(ctx context.Context, id string) (*RestoreJob, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.restores[id]
	if !ok {
		return nil, notFound(JobKindRestore, id)
	}
	return cloneRestoreJob(job), nil
}

func (l *MemoryLedger) UpdateRestoreJob(ctx context.Context, id string, fn func(*RestoreJob) error) (*RestoreJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.restores[id]
	if !ok {
		return nil, notFound(JobKindRestore, id)
	}
	updated := cloneRestoreJob(job)
	if err := fn(updated); err != nil {
		return nil, err
	}
	l.restores[id] = updated
	return cloneRestoreJob(updated), nil
}

func (l *MemoryLedger) ListRestoreJobs(ctx context.Context, limit int) ([]*RestoreJob, error) {
	l.mu.RLock()
	jobs := make([]*RestoreJob, 0, len(l.restores))
	for _, job := range l.restores {
		jobs = append(jobs, cloneRestoreJob(job))
	}
	l.mu.RUnlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (l *MemoryLedger) RecordScheduleRun(ctx context.Context, run ScheduleRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.schedules[run.Name] = run
	return nil
}

func (l *MemoryLedger) GetScheduleRun(ctx context.Context, name string) (ScheduleRun, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	run, ok := l.schedules[name]
	if !ok {
		return ScheduleRun{Name: name}, nil
	}
	return run, nil
}

// Matches reports whether job passes the filter's status and name criteria
func (f BackupFilter) Matches(job *BackupJob) bool {
	if f.Status != nil && job.Status != *f.Status {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(job.Name), strings.ToLower(f.Name)) {
		return false
	}
	return true
}

func notFound(kind JobKind, id string) error {
	return NewNotFoundError(fmt.Sprintf("%s job %s not found", kind, id), ErrJobNotFound).
		WithContext("job_id", id)
}

func cloneBackupJob(job *BackupJob) *BackupJob {
	c := *job
	c.Domains = append([]string(nil), job.Domains...)
	c.StartedAt = cloneTime(job.StartedAt)
	c.CompletedAt = cloneTime(job.CompletedAt)
	return &c
}

func cloneRestoreJob(job *RestoreJob) *RestoreJob {
	c := *job
	c.StartedAt = cloneTime(job.StartedAt)
	c.CompletedAt = cloneTime(job.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
