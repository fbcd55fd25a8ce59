package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mysql-data-vault/internal/errors"
	"mysql-data-vault/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registered as "pgx"
)

// Service opens pooled connections to the business database and bootstraps
// the tables the vault owns
type Service struct {
	pingTimeout time.Duration
	logger      *logging.Logger
	retry       *errors.RetryHandler
}

// NewService connects with three attempts two seconds apart
func NewService(logger *logging.Logger) *Service {
	return NewServiceWithRetry(logger, 3, 2*time.Second, 30*time.Second)
}

// NewServiceWithRetry sets the connect attempts, the first backoff delay and
// the timeout of each ping
func NewServiceWithRetry(logger *logging.Logger, attempts int, delay, pingTimeout time.Duration) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		pingTimeout: pingTimeout,
		logger:      logger,
		retry: errors.NewRetryHandler(errors.RetryConfig{
			MaxAttempts: attempts,
			BaseDelay:   delay,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
		}),
	}
}

// Connect opens a pool for cfg and returns it with the matching dialect.
// Transient failures are retried with backoff until ctx is done.
func (s *Service) Connect(ctx context.Context, cfg DatabaseConfig) (*sql.DB, Dialect, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, errors.NewAppError(errors.ErrorTypeValidation, err.Error(), err)
	}

	log := s.logger.WithFields(map[string]interface{}{
		"driver":   cfg.Driver,
		"target":   cfg.Target(),
		"max_open": cfg.MaxOpenConns,
	})
	log.Debug("Connecting to database")

	start := time.Now()
	var db *sql.DB
	err = s.retry.Retry(ctx, func() error {
		pool, openErr := sql.Open(dialect.DriverName(), cfg.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}
		// one connection stays pinned by a restore session while the
		// snapshot and ledger use the rest
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
		pool.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		pool.SetConnMaxLifetime(5 * time.Minute)

		if pingErr := s.Ping(ctx, pool); pingErr != nil {
			pool.Close()
			return pingErr
		}
		db = pool
		return nil
	})
	s.logger.LogDatabaseConnection(cfg.Host, cfg.Database, err == nil, time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}

	if version, verErr := s.ServerVersion(ctx, db); verErr == nil {
		log.WithField("server_version", version).Info("Connected to database")
	}
	return db, dialect, nil
}

// Ping checks that db answers within the ping timeout
func (s *Service) Ping(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.NewErrorClassifier().ClassifyError(err)
	}
	return nil
}

// ServerVersion reports the server version string. Both engines answer
// version() in lower case.
func (s *Service) ServerVersion(ctx context.Context, db *sql.DB) (string, error) {
	const query = "SELECT version()"
	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	var version string
	start := time.Now()
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(start), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to read server version")
	}
	return version, nil
}

// Close closes the pool; a nil pool is ignored
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// ApplySchema runs bootstrap DDL in one transaction. Empty statements are
// skipped. MySQL commits DDL implicitly, so the statements must be safe to
// repeat.
func (s *Service) ApplySchema(ctx context.Context, db *sql.DB, statements []string) (err error) {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if len(statements) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.WithField("error", rbErr.Error()).Warn("Failed to roll back schema transaction")
			}
		}
	}()

	for i, stmt := range statements {
		if stmt == "" {
			continue
		}
		start := time.Now()
		_, execErr := tx.ExecContext(ctx, stmt)
		s.logger.LogSQLExecution(logging.SanitizeSQL(stmt), time.Since(start), 0, execErr)
		if execErr != nil {
			classified := errors.NewErrorClassifier().ClassifyError(execErr)
			return errors.NewAppError(classified.Type, fmt.Sprintf("schema statement %d failed", i+1), execErr).
				WithContext("statement_index", i)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit schema")
	}
	return nil
}
