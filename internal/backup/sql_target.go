package backup

import (
	"context"
	"database/sql"

	"mysql-data-vault/internal/database"
	"mysql-data-vault/internal/logging"
)

// SQLRestoreTarget restores into a database/sql connection pool
type SQLRestoreTarget struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *logging.Logger
}

// NewSQLRestoreTarget creates a restore target for db
func NewSQLRestoreTarget(db *sql.DB, dialect database.Dialect, logger *logging.Logger) *SQLRestoreTarget {
	return &SQLRestoreTarget{db: db, dialect: dialect, logger: logger}
}

// OpenSession pins one connection from the pool
func (t *SQLRestoreTarget) OpenSession(ctx context.Context) (RestoreSession, error) {
	session, err := database.OpenSession(ctx, t.db, t.dialect, t.logger)
	if err != nil {
		return nil, err
	}
	return &sqlRestoreSession{session: session}, nil
}

// SQLRecordSource reads tables through a database/sql connection pool
type SQLRecordSource struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *logging.Logger
}

// NewSQLRecordSource returns a record source reading through the pool
func NewSQLRecordSource(db *sql.DB, dialect database.Dialect, logger *logging.Logger) *SQLRecordSource {
	return &SQLRecordSource{db: db, dialect: dialect, logger: logger}
}

func (s *SQLRecordSource) ReadRows(ctx context.Context, table, orderBy string) ([]database.Row, error) {
	return database.NewTableStore(s.db, s.dialect, s.logger).ReadRows(ctx, table, orderBy)
}

// ReadConsistent pins one connection and hands fn a source bound to a
// read-only repeatable-read transaction on it
func (s *SQLRecordSource) ReadConsistent(ctx context.Context, fn func(RecordSource) error) error {
	session, err := database.OpenSession(ctx, s.db, s.dialect, s.logger)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.ReadConsistent(ctx, func(store *database.TableStore) error {
		return fn(store)
	})
}

type sqlRestoreSession struct {
	session *database.Session
}

func (s *sqlRestoreSession) Constraints() ConstraintGuard {
	return s.session.Constraints()
}

func (s *sqlRestoreSession) ClearTable(ctx context.Context, spec TypeSpec) (int64, error) {
	return s.session.Store().DeleteAll(ctx, spec.Table)
}

func (s *sqlRestoreSession) ColumnTypes(ctx context.Context, spec TypeSpec) (map[string]string, error) {
	return s.session.Store().ColumnTypes(ctx, spec.Table)
}

func (s *sqlRestoreSession) InTx(ctx context.Context, fn func(RecordWriter) error) error {
	return s.session.InTx(ctx, func(store *database.TableStore) error {
		return fn(tableWriter{store: store})
	})
}

func (s *sqlRestoreSession) Close() error {
	return s.session.Close()
}

type tableWriter struct {
	store *database.TableStore
}

func (w tableWriter) Insert(ctx context.Context, spec TypeSpec, columns []string, values []any) error {
	return w.store.InsertRow(ctx, spec.Table, columns, values)
}

func (w tableWriter) Exists(ctx context.Context, spec TypeSpec, pk any) (bool, error) {
	return w.store.RowExists(ctx, spec.Table, spec.PrimaryKey, pk)
}

func (w tableWriter) Update(ctx context.Context, spec TypeSpec, pk any, columns []string, values []any) (int64, error) {
	return w.store.UpdateRow(ctx, spec.Table, spec.PrimaryKey, pk, columns, values)
}
