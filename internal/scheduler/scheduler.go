// Package scheduler runs recurring backups from configured retention schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/logging"

	"github.com/robfig/cron/v3"
)

// ScheduledBy is recorded as the owner of backups the scheduler creates
const ScheduledBy = "scheduler"

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// BackupEngine is the part of backup.Engine a scheduled run needs
type BackupEngine interface {
	CreateBackup(ctx context.Context, req backup.BackupRequest) (backup.JobHandle, error)
	WaitForJob(ctx context.Context, handle backup.JobHandle, interval time.Duration, onUpdate func(*backup.JobStatusReport)) (*backup.JobStatusReport, error)
	PruneOldBackups(ctx context.Context, keep int) (*backup.RetentionResult, error)
}

// RunRecorder persists last and next run times per schedule
type RunRecorder interface {
	RecordScheduleRun(ctx context.Context, run backup.ScheduleRun) error
	GetScheduleRun(ctx context.Context, name string) (backup.ScheduleRun, error)
}

type entry struct {
	schedule backup.RetentionSchedule
	spec     cron.Schedule
	id       cron.EntryID
}

// Scheduler fires a backup for each active schedule and prunes afterwards
type Scheduler struct {
	cron         *cron.Cron
	engine       BackupEngine
	runs         RunRecorder
	log          *logging.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. A run still in progress when its schedule fires
// again is skipped.
func New(engine BackupEngine, runs RunRecorder, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine:       engine,
		runs:         runs,
		log:          log,
		pollInterval: time.Second,
		entries:      make(map[string]*entry),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetPollInterval changes how often a run checks its backup job
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// CronSpec converts a schedule's frequency and time of day into a six-field
// cron expression. Weekly runs on Sunday, monthly on the first.
func CronSpec(schedule backup.RetentionSchedule) (string, error) {
	at, err := time.Parse("15:04", schedule.TimeOfDay)
	if err != nil {
		return "", fmt.Errorf("invalid time_of_day %q: expected HH:MM", schedule.TimeOfDay)
	}

	switch schedule.Frequency {
	case backup.FrequencyDaily:
		return fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()), nil
	case backup.FrequencyWeekly:
		return fmt.Sprintf("0 %d %d * * 0", at.Minute(), at.Hour()), nil
	case backup.FrequencyMonthly:
		return fmt.Sprintf("0 %d %d 1 * *", at.Minute(), at.Hour()), nil
	default:
		return "", fmt.Errorf("unsupported frequency %q", schedule.Frequency)
	}
}

// AddSchedule registers an active schedule. Inactive schedules are ignored.
func (s *Scheduler) AddSchedule(schedule backup.RetentionSchedule) error {
	if !schedule.IsActive {
		s.log.WithField("schedule", schedule.Name).Debug("Skipping inactive schedule")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[schedule.Name]; exists {
		return fmt.Errorf("schedule %q is already registered", schedule.Name)
	}

	expr, err := CronSpec(schedule)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule.Name, err)
	}
	spec, err := specParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule.Name, err)
	}

	e := &entry{schedule: schedule, spec: spec}
	e.id = s.cron.Schedule(spec, cron.FuncJob(func() {
		if _, err := s.RunOnce(s.ctx, schedule); err != nil {
			s.log.WithFields(map[string]interface{}{
				"schedule": schedule.Name,
				"error":    err.Error(),
			}).Error("Scheduled backup failed")
		}
	}))
	s.entries[schedule.Name] = e

	s.log.WithFields(map[string]interface{}{
		"schedule":  schedule.Name,
		"cron":      expr,
		"domains":   schedule.Domains,
		"keep":      schedule.MaxBackupsToKeep,
		"next_run":  spec.Next(time.Now()),
		"frequency": schedule.Frequency,
	}).Info("Registered backup schedule")

	return nil
}

// RunOnce creates a backup for schedule, waits for it and prunes old backups
// when it completed. The run is recorded whatever the outcome.
func (s *Scheduler) RunOnce(ctx context.Context, schedule backup.RetentionSchedule) (report *backup.JobStatusReport, err error) {
	started := time.Now().UTC()
	done := s.log.LogOperationStart("scheduled_backup", map[string]interface{}{
		"schedule": schedule.Name,
		"domains":  schedule.Domains,
	})
	defer func() {
		s.recordRun(schedule, started)
		done(err)
	}()

	handle, err := s.engine.CreateBackup(ctx, backup.BackupRequest{
		Name:        schedule.Name,
		Domains:     schedule.Domains,
		Description: fmt.Sprintf("Scheduled %s backup", schedule.Frequency),
		Owner:       ScheduledBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start backup: %w", err)
	}

	report, err = s.engine.WaitForJob(ctx, handle, s.pollInterval, nil)
	if err != nil {
		return report, fmt.Errorf("failed waiting for backup %s: %w", handle.ID, err)
	}

	if report.Status != backup.JobStatusCompleted {
		return report, fmt.Errorf("backup %s finished %s: %s", handle.ID, report.Status, report.ErrorMessage)
	}

	result, err := s.engine.PruneOldBackups(ctx, schedule.MaxBackupsToKeep)
	if err != nil {
		return report, fmt.Errorf("backup completed but pruning failed: %w", err)
	}
	s.log.WithFields(map[string]interface{}{
		"schedule": schedule.Name,
		"deleted":  result.BackupsDeleted,
		"kept":     result.BackupsKept,
	}).Info("Pruned old backups")

	return report, nil
}

func (s *Scheduler) recordRun(schedule backup.RetentionSchedule, started time.Time) {
	if s.runs == nil {
		return
	}

	run := backup.ScheduleRun{Name: schedule.Name, LastRun: &started}
	if next, ok := s.NextRun(schedule.Name); ok {
		run.NextRun = &next
	}

	if err := s.runs.RecordScheduleRun(context.Background(), run); err != nil {
		s.log.WithFields(map[string]interface{}{
			"schedule": schedule.Name,
			"error":    err.Error(),
		}).Warn("Failed to record schedule run")
	}
}

// NextRun returns when a registered schedule fires next
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.spec.Next(time.Now()), true
}

// Schedules lists registered schedules by name with their last and next runs
func (s *Scheduler) Schedules(ctx context.Context) ([]backup.RetentionSchedule, error) {
	s.mu.Lock()
	schedules := make([]backup.RetentionSchedule, 0, len(s.entries))
	now := time.Now()
	for _, e := range s.entries {
		schedule := e.schedule
		next := e.spec.Next(now)
		schedule.NextRun = &next
		schedules = append(schedules, schedule)
	}
	s.mu.Unlock()

	sort.Slice(schedules, func(i, j int) bool { return schedules[i].Name < schedules[j].Name })

	if s.runs == nil {
		return schedules, nil
	}
	for i := range schedules {
		run, err := s.runs.GetScheduleRun(ctx, schedules[i].Name)
		if err != nil {
			return nil, err
		}
		schedules[i].LastRun = run.LastRun
	}
	return schedules, nil
}

// Start begins firing schedules in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing schedules and waits for running backups to finish. If
// ctx ends first, in-flight runs stop waiting on their jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
