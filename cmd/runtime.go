package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/config"
	"mysql-data-vault/internal/database"
	"mysql-data-vault/internal/logging"
)

// shutdownTimeout bounds how long a command waits for in-flight jobs on exit
const shutdownTimeout = 30 * time.Second

// vault holds everything a command needs to talk to the engine
type vault struct {
	cfg     *config.Config
	logger  *logging.Logger
	jobLog  *backup.JobLogger
	db      *sql.DB
	dbSvc   *database.Service
	ledger  backup.JobLedger
	metrics *backup.MetricsCollector
	engine  *backup.Engine
}

// openVault connects to the database and assembles the engine
func openVault(ctx context.Context) (*vault, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = os.Stderr
	logger, err := logging.NewLogger(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	v := &vault{cfg: cfg, logger: logger, metrics: backup.NewMetricsCollector()}
	if err := v.open(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *vault) open(ctx context.Context) error {
	var err error
	v.jobLog, err = backup.NewJobLogger(backup.JobLoggerConfig{
		Logger:         v.logger,
		AuditLogFile:   v.cfg.Jobs.AuditLog,
		EnableAuditLog: v.cfg.Jobs.AuditLog != "",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize job logger: %w", err)
	}

	catalog, err := v.cfg.LoadCatalog()
	if err != nil {
		return fmt.Errorf("failed to load domain catalog: %w", err)
	}

	v.dbSvc = database.NewService(v.logger)
	db, dialect, err := v.dbSvc.Connect(ctx, v.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	v.db = db

	switch v.cfg.Jobs.Ledger {
	case config.LedgerSQL:
		sqlLedger := backup.NewSQLLedger(v.db, dialect, v.logger)
		if err := sqlLedger.EnsureSchema(ctx, v.dbSvc); err != nil {
			return err
		}
		v.ledger = sqlLedger
	default:
		v.ledger = backup.NewMemoryLedger()
	}

	mirror, err := backup.NewStorageProviderFactory().CreateArchiveStore(ctx, v.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize archive mirror: %w", err)
	}

	engineConfig := backup.EngineConfig{
		Catalog:          catalog,
		Source:           backup.NewSQLRecordSource(v.db, dialect, v.logger),
		Target:           backup.NewSQLRestoreTarget(v.db, dialect, v.logger),
		Ledger:           v.ledger,
		Codec:            v.cfg.Codec(),
		ArchiveDir:       v.cfg.Archive.Directory,
		MaxConcurrent:    v.cfg.Jobs.MaxConcurrent,
		ProgressInterval: v.cfg.Jobs.ProgressInterval,
		Log:              v.jobLog,
		Metrics:          v.metrics,
	}
	if mirror != nil {
		engineConfig.Mirror = mirror
	}

	v.engine, err = backup.NewEngine(engineConfig)
	return err
}

// persistent reports whether jobs outlive the process
func (v *vault) persistent() bool {
	return v.cfg.Jobs.Ledger == config.LedgerSQL
}

// target describes the configured database for prompts
func (v *vault) target() string {
	return v.cfg.Database.Target()
}

// Close waits for in-flight jobs, then releases the database and log files
func (v *vault) Close() {
	if v.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := v.engine.Shutdown(ctx); err != nil {
			v.logger.WithField("error", err.Error()).Warn("Jobs still running at shutdown")
		}
		cancel()
	}
	if v.db != nil {
		v.dbSvc.Close(v.db)
	}
	if v.jobLog != nil {
		v.jobLog.Close()
	}
	v.logger.Close()
}

// resolveJob accepts a full job ID or a unique prefix as shown in tables
func (v *vault) resolveJob(ctx context.Context, id string) (backup.JobHandle, error) {
	if handle, err := v.engine.FindJob(ctx, id); err == nil {
		return handle, nil
	}

	var matches []backup.JobHandle
	backups, err := v.engine.ListBackups(ctx, backup.BackupFilter{})
	if err != nil {
		return backup.JobHandle{}, err
	}
	for _, job := range backups {
		if len(id) >= 4 && len(job.ID) >= len(id) && job.ID[:len(id)] == id {
			matches = append(matches, backup.JobHandle{ID: job.ID, Kind: backup.JobKindBackup})
		}
	}
	restores, err := v.engine.ListRestores(ctx, 0)
	if err != nil {
		return backup.JobHandle{}, err
	}
	for _, job := range restores {
		if len(id) >= 4 && len(job.ID) >= len(id) && job.ID[:len(id)] == id {
			matches = append(matches, backup.JobHandle{ID: job.ID, Kind: backup.JobKindRestore})
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return backup.JobHandle{}, backup.NewNotFoundError(fmt.Sprintf("job %s not found", id), nil)
	default:
		return backup.JobHandle{}, backup.NewValidationError(fmt.Sprintf("job prefix %s is ambiguous (%d matches)", id, len(matches)), nil)
	}
}
