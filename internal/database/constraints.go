package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"mysql-data-vault/internal/logging"
)

// ErrConstraintToggleUnsupported is returned by Begin when the engine or the
// current privileges do not allow suspending foreign key enforcement.
var ErrConstraintToggleUnsupported = errors.New("foreign key enforcement cannot be suspended on this connection")

// Execer is the subset of *sql.Conn / *sql.DB / *sql.Tx used to run session statements
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ConstraintScope suspends foreign key enforcement on a single session and
// restores it on Release. Release is idempotent and safe to defer.
type ConstraintScope struct {
	mu      sync.Mutex
	dialect Dialect
	exec    Execer
	logger  *logging.Logger
	active  bool
}

// NewConstraintScope binds a scope to one pinned connection
func NewConstraintScope(dialect Dialect, exec Execer, logger *logging.Logger) *ConstraintScope {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ConstraintScope{
		dialect: dialect,
		exec:    exec,
		logger:  logger,
	}
}

// Begin suspends enforcement. A failure wraps ErrConstraintToggleUnsupported
// so the caller can proceed without suspension.
func (cs *ConstraintScope) Begin(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.active {
		return nil
	}

	disable, _, ok := cs.dialect.ConstraintToggle()
	if !ok {
		return ErrConstraintToggleUnsupported
	}

	if _, err := cs.exec.ExecContext(ctx, disable); err != nil {
		return fmt.Errorf("%w: %v", ErrConstraintToggleUnsupported, err)
	}

	cs.active = true
	cs.logger.WithField("dialect", cs.dialect.Name()).Debug("Foreign key enforcement suspended")
	return nil
}

// Release restores enforcement if Begin succeeded. It runs even when ctx has
// been cancelled so an aborted job never leaves the session unchecked.
func (cs *ConstraintScope) Release(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.active {
		return nil
	}

	_, enable, _ := cs.dialect.ConstraintToggle()
	if _, err := cs.exec.ExecContext(context.WithoutCancel(ctx), enable); err != nil {
		return fmt.Errorf("failed to re-enable foreign key enforcement: %w", err)
	}

	cs.active = false
	cs.logger.WithField("dialect", cs.dialect.Name()).Debug("Foreign key enforcement restored")
	return nil
}

// Active reports whether enforcement is currently suspended by this scope
func (cs *ConstraintScope) Active() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.active
}
