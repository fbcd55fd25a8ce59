package database

import (
	"context"
	"database/sql"
	"fmt"

	"mysql-data-vault/internal/errors"
	"mysql-data-vault/internal/logging"
)

// Session pins one pooled connection so that session-level settings such as
// foreign key enforcement apply to every statement issued through it.
type Session struct {
	conn        *sql.Conn
	dialect     Dialect
	logger      *logging.Logger
	constraints *ConstraintScope
}

// OpenSession checks out a dedicated connection from db
func OpenSession(ctx context.Context, db *sql.DB, dialect Dialect, logger *logging.Logger) (*Session, error) {
	if db == nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.WrapError(err, "failed to acquire database session")
	}

	return &Session{
		conn:        conn,
		dialect:     dialect,
		logger:      logger,
		constraints: NewConstraintScope(dialect, conn, logger),
	}, nil
}

// Constraints returns the foreign key scope bound to this session
func (s *Session) Constraints() *ConstraintScope {
	return s.constraints
}

// Store returns a table store that runs statements outside a transaction
func (s *Session) Store() *TableStore {
	return NewTableStore(s.conn, s.dialect, s.logger)
}

// InTx runs fn inside its own transaction on the pinned connection. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (s *Session) InTx(ctx context.Context, fn func(*TableStore) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.WithField("error", rbErr.Error()).Warn("Failed to rollback transaction")
			}
		}
	}()

	if err = fn(NewTableStore(tx, s.dialect, s.logger)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit transaction")
	}
	return nil
}

// ReadConsistent runs fn inside one read-only repeatable-read transaction so
// every table it reads comes from the same point in time. A failed read leaves
// the transaction usable for the next one.
func (s *Session) ReadConsistent(ctx context.Context, fn func(*TableStore) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return errors.WrapError(err, "failed to begin read-only transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	store := NewTableStore(tx, s.dialect, s.logger)
	// postgres aborts the whole transaction on any failed statement
	store.savepoints = s.dialect.Name() == DriverPostgres

	if err = fn(store); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.WrapError(err, "failed to commit read-only transaction")
	}
	return nil
}

// Close releases the constraint scope (if still active) and returns the
// connection to the pool.
func (s *Session) Close() error {
	var releaseErr error
	if s.constraints.Active() {
		releaseErr = s.constraints.Release(context.Background())
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return releaseErr
}
