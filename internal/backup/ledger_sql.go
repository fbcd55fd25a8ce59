package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mysql-data-vault/internal/database"
	"mysql-data-vault/internal/logging"
)

const (
	backupJobsTable  = "backup_jobs"
	restoreJobsTable = "restore_jobs"
	schedulesTable   = "backup_schedules"
)

var backupJobColumns = []string{
	"id", "name", "description", "domains", "status", "progress", "current_step",
	"archive_path", "mirror_location", "uncompressed_size", "compressed_size",
	"record_count", "error_message", "created_by", "created_at", "started_at", "completed_at",
}

var restoreJobColumns = []string{
	"id", "name", "description", "source_path", "source_size", "clear_existing", "status", "progress",
	"current_step", "total_records", "processed_records", "success_count", "failed_count",
	"error_message", "created_by", "created_at", "started_at", "completed_at",
}

// SQLLedger stores job rows in the backup_jobs and restore_jobs tables of the
// managed database
type SQLLedger struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *logging.Logger
}

// NewSQLLedger creates a ledger over db
func NewSQLLedger(db *sql.DB, dialect database.Dialect, logger *logging.Logger) *SQLLedger {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SQLLedger{db: db, dialect: dialect, logger: logger}
}

// SchemaStatements returns the DDL creating the ledger tables
func (l *SQLLedger) SchemaStatements() []string {
	q := l.dialect.QuoteIdent
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT,
	domains TEXT,
	status VARCHAR(16) NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	current_step VARCHAR(255),
	archive_path VARCHAR(1024),
	mirror_location VARCHAR(1024),
	uncompressed_size BIGINT NOT NULL DEFAULT 0,
	compressed_size BIGINT NOT NULL DEFAULT 0,
	record_count INT NOT NULL DEFAULT 0,
	error_message TEXT,
	created_by VARCHAR(255),
	created_at TIMESTAMP(6) NULL,
	started_at TIMESTAMP(6) NULL,
	completed_at TIMESTAMP(6) NULL
)`, q(backupJobsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT,
	source_path VARCHAR(1024),
	source_size BIGINT NOT NULL DEFAULT 0,
	clear_existing BOOLEAN NOT NULL DEFAULT FALSE,
	status VARCHAR(16) NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	current_step VARCHAR(255),
	total_records INT NOT NULL DEFAULT 0,
	processed_records INT NOT NULL DEFAULT 0,
	success_count INT NOT NULL DEFAULT 0,
	failed_count INT NOT NULL DEFAULT 0,
	error_message TEXT,
	created_by VARCHAR(255),
	created_at TIMESTAMP(6) NULL,
	started_at TIMESTAMP(6) NULL,
	completed_at TIMESTAMP(6) NULL
)`, q(restoreJobsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(255) NOT NULL PRIMARY KEY,
	last_run TIMESTAMP(6) NULL,
	next_run TIMESTAMP(6) NULL
)`, q(schedulesTable)),
	}
}

// EnsureSchema creates the ledger tables when they are missing
func (l *SQLLedger) EnsureSchema(ctx context.Context, svc *database.Service) error {
	if err := svc.ApplySchema(ctx, l.db, l.SchemaStatements()); err != nil {
		return NewDatabaseError("failed to create job ledger tables", err)
	}
	return nil
}

func (l *SQLLedger) CreateBackupJob(ctx context.Context, job *BackupJob) error {
	store := database.NewTableStore(l.db, l.dialect, l.logger)
	if err := store.InsertRow(ctx, backupJobsTable, backupJobColumns, backupJobValues(job)); err != nil {
		return NewDatabaseError("failed to create backup job", err).WithContext("job_id", job.ID)
	}
	return nil
}

func (l *SQLLedger) GetBackupJob(ctx context.Context, id string) (*BackupJob, error) {
	return scanBackupJob(l.db.QueryRowContext(ctx, l.selectByID(backupJobsTable, backupJobColumns, false), id), id)
}

func (l *SQLLedger) UpdateBackupJob(ctx context.Context, id string, fn func(*BackupJob) error) (*BackupJob, error) {
	var updated *BackupJob
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanBackupJob(tx.QueryRowContext(ctx, l.selectByID(backupJobsTable, backupJobColumns, true), id), id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		store := database.NewTableStore(tx, l.dialect, l.logger)
		if _, err := store.UpdateRow(ctx, backupJobsTable, "id", id, backupJobColumns[1:], backupJobValues(job)[1:]); err != nil {
			return NewDatabaseError("failed to update backup job", err).WithContext("job_id", id)
		}
		updated = job
		return nil
	})
	return updated, err
}

func (l *SQLLedger) ListBackupJobs(ctx context.Context, filter BackupFilter) ([]*BackupJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, "status = "+l.dialect.Placeholder(len(args)))
	}
	if filter.Name != "" {
		args = append(args, "%"+strings.ToLower(filter.Name)+"%")
		where = append(where, "LOWER(name) LIKE "+l.dialect.Placeholder(len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(backupJobColumns, ", "), l.dialect.QuoteIdent(backupJobsTable))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewDatabaseError("failed to list backup jobs", err)
	}
	defer rows.Close()

	var jobs []*BackupJob
	for rows.Next() {
		job, err := scanBackupJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("failed to list backup jobs", err)
	}
	return jobs, nil
}

func (l *SQLLedger) DeleteBackupJob(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", l.dialect.QuoteIdent(backupJobsTable), l.dialect.Placeholder(1))
	result, err := l.db.ExecContext(ctx, query, id)
	if err != nil {
		return NewDatabaseError("failed to delete backup job", err).WithContext("job_id", id)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(JobKindBackup, id)
	}
	return nil
}

func (l *SQLLedger) CreateRestoreJob(ctx context.Context, job *RestoreJob) error {
	store := database.NewTableStore(l.db, l.dialect, l.logger)
	if err := store.InsertRow(ctx, restoreJobsTable, restoreJobColumns, restoreJobValues(job)); err != nil {
		return NewDatabaseError("failed to create restore job", err).WithContext("job_id", job.ID)
	}
	return nil
}

func (l *SQLLedger) GetRestoreJob(ctx context.Context, id string) (*RestoreJob, error) {
	return scanRestoreJob(l.db.QueryRowContext(ctx, l.selectByID(restoreJobsTable, restoreJobColumns, false), id), id)
}

func (l *SQLLedger) UpdateRestoreJob(ctx context.Context, id string, fn func(*RestoreJob) error) (*RestoreJob, error) {
	var updated *RestoreJob
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		job, err := scanRestoreJob(tx.QueryRowContext(ctx, l.selectByID(restoreJobsTable, restoreJobColumns, true), id), id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		store := database.NewTableStore(tx, l.dialect, l.logger)
		if _, err := store.UpdateRow(ctx, restoreJobsTable, "id", id, restoreJobColumns[1:], restoreJobValues(job)[1:]); err != nil {
			return NewDatabaseError("failed to update restore job", err).WithContext("job_id", id)
		}
		updated = job
		return nil
	})
	return updated, err
}

func (l *SQLLedger) ListRestoreJobs(ctx context.Context, limit int) ([]*RestoreJob, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC", strings.Join(restoreJobColumns, ", "), l.dialect.QuoteIdent(restoreJobsTable))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewDatabaseError("failed to list restore jobs", err)
	}
	defer rows.Close()

	var jobs []*RestoreJob
	for rows.Next() {
		job, err := scanRestoreJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("failed to list restore jobs", err)
	}
	return jobs, nil
}

func (l *SQLLedger) RecordScheduleRun(ctx context.Context, run ScheduleRun) error {
	store := database.NewTableStore(l.db, l.dialect, l.logger)
	n, err := store.UpdateRow(ctx, schedulesTable, "name", run.Name, []string{"last_run", "next_run"}, []any{nullTime(run.LastRun), nullTime(run.NextRun)})
	if err != nil {
		return NewDatabaseError("failed to record schedule run", err).WithContext("schedule", run.Name)
	}
	if n > 0 {
		return nil
	}
	if err := store.InsertRow(ctx, schedulesTable, []string{"name", "last_run", "next_run"}, []any{run.Name, nullTime(run.LastRun), nullTime(run.NextRun)}); err != nil {
		return NewDatabaseError("failed to record schedule run", err).WithContext("schedule", run.Name)
	}
	return nil
}

func (l *SQLLedger) GetScheduleRun(ctx context.Context, name string) (ScheduleRun, error) {
	query := fmt.Sprintf("SELECT last_run, next_run FROM %s WHERE name = %s", l.dialect.QuoteIdent(schedulesTable), l.dialect.Placeholder(1))

	run := ScheduleRun{Name: name}
	var last, next sql.NullTime
	err := l.db.QueryRowContext(ctx, query, name).Scan(&last, &next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return run, nil
	case err != nil:
		return run, NewDatabaseError("failed to read schedule run", err).WithContext("schedule", name)
	}
	run.LastRun = timePtr(last)
	run.NextRun = timePtr(next)
	return run, nil
}

func (l *SQLLedger) selectByID(table string, columns []string, forUpdate bool) string {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = %s",
		strings.Join(columns, ", "), l.dialect.QuoteIdent(table), l.dialect.Placeholder(1))
	if forUpdate {
		query += " FOR UPDATE"
	}
	return query
}

func (l *SQLLedger) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDatabaseError("failed to begin ledger transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				l.logger.WithField("error", rbErr.Error()).Error("Failed to rollback ledger transaction")
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = NewDatabaseError("failed to commit ledger transaction", cErr)
		}
	}()
	return fn(tx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackupJob(s rowScanner, id string) (*BackupJob, error) {
	var (
		job                           BackupJob
		description, domains, step    sql.NullString
		archive, mirror, msg, creator sql.NullString
		status                        string
		created, started, completed   sql.NullTime
	)
	err := s.Scan(&job.ID, &job.Name, &description, &domains, &status, &job.Progress, &step,
		&archive, &mirror, &job.UncompressedSize, &job.CompressedSize,
		&job.RecordCount, &msg, &creator, &created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(JobKindBackup, id)
	}
	if err != nil {
		return nil, NewDatabaseError("failed to read backup job", err)
	}

	job.Description = description.String
	if domains.String != "" {
		job.Domains = strings.Split(domains.String, ",")
	}
	job.Status = JobStatus(status)
	job.CurrentStep = step.String
	job.ArchivePath = archive.String
	job.MirrorLocation = mirror.String
	job.ErrorMessage = msg.String
	job.CreatedBy = creator.String
	job.CreatedAt = created.Time.UTC()
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

func scanRestoreJob(s rowScanner, id string) (*RestoreJob, error) {
	var (
		job                         RestoreJob
		description, source, step   sql.NullString
		msg, creator                sql.NullString
		status                      string
		created, started, completed sql.NullTime
	)
	err := s.Scan(&job.ID, &job.Name, &description, &source, &job.SourceSize, &job.ClearExisting, &status, &job.Progress,
		&step, &job.TotalRecords, &job.ProcessedRecords, &job.SuccessCount, &job.FailedCount,
		&msg, &creator, &created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(JobKindRestore, id)
	}
	if err != nil {
		return nil, NewDatabaseError("failed to read restore job", err)
	}

	job.Description = description.String
	job.SourcePath = source.String
	job.Status = JobStatus(status)
	job.CurrentStep = step.String
	job.ErrorMessage = msg.String
	job.CreatedBy = creator.String
	job.CreatedAt = created.Time.UTC()
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

func backupJobValues(job *BackupJob) []any {
	return []any{
		job.ID, job.Name, job.Description, strings.Join(job.Domains, ","), string(job.Status), job.Progress, job.CurrentStep,
		job.ArchivePath, job.MirrorLocation, job.UncompressedSize, job.CompressedSize,
		job.RecordCount, job.ErrorMessage, job.CreatedBy, job.CreatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
	}
}

func restoreJobValues(job *RestoreJob) []any {
	return []any{
		job.ID, job.Name, job.Description, job.SourcePath, job.SourceSize, job.ClearExisting, string(job.Status), job.Progress,
		job.CurrentStep, job.TotalRecords, job.ProcessedRecords, job.SuccessCount, job.FailedCount,
		job.ErrorMessage, job.CreatedBy, job.CreatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
