package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mysql-data-vault/internal/errors"
	"mysql-data-vault/internal/logging"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is one table row with the driver-reported type of every column
type Row struct {
	Columns []string
	Types   []string
	Values  []any
}

// TableStore performs row-level reads and writes against arbitrary tables
type TableStore struct {
	q       Querier
	dialect Dialect
	logger  *logging.Logger
	// savepoints wraps each read in a savepoint
	savepoints bool
}

// NewTableStore creates a store over a querier
func NewTableStore(q Querier, dialect Dialect, logger *logging.Logger) *TableStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &TableStore{q: q, dialect: dialect, logger: logger}
}

// ReadRows returns every row of table ordered by orderBy (if set)
func (ts *TableStore) ReadRows(ctx context.Context, table, orderBy string) ([]Row, error) {
	if !ts.savepoints {
		return ts.readRows(ctx, table, orderBy)
	}

	if _, err := ts.q.ExecContext(ctx, "SAVEPOINT vault_read"); err != nil {
		return nil, errors.WrapError(err, "failed to create savepoint")
	}
	rows, err := ts.readRows(ctx, table, orderBy)
	if err != nil {
		if _, rbErr := ts.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT vault_read"); rbErr != nil {
			ts.logger.WithField("error", rbErr.Error()).Warn("Failed to roll back to savepoint")
		}
		return nil, err
	}
	if _, err := ts.q.ExecContext(ctx, "RELEASE SAVEPOINT vault_read"); err != nil {
		return nil, errors.WrapError(err, "failed to release savepoint")
	}
	return rows, nil
}

func (ts *TableStore) readRows(ctx context.Context, table, orderBy string) ([]Row, error) {
	query := "SELECT * FROM " + ts.dialect.QuoteIdent(table)
	if orderBy != "" {
		query += " ORDER BY " + ts.dialect.QuoteIdent(orderBy)
	}

	start := time.Now()
	rows, err := ts.q.QueryContext(ctx, query)
	if err != nil {
		ts.logger.LogSQLExecution(query, time.Since(start), 0, err)
		return nil, errors.WrapError(err, fmt.Sprintf("failed to read table %s", table))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapError(err, "failed to read column names")
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.WrapError(err, "failed to read column types")
	}
	types := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		types[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.WrapError(err, fmt.Sprintf("failed to scan row of %s", table))
		}
		result = append(result, Row{Columns: columns, Types: types, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to iterate rows of %s", table))
	}

	ts.logger.LogSQLExecution(query, time.Since(start), int64(len(result)), nil)
	return result, nil
}

// ColumnTypes returns the upper-cased database type name of every column of
// table, read from an empty result set
func (ts *TableStore) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	query := "SELECT * FROM " + ts.dialect.QuoteIdent(table) + " WHERE 1 = 0"
	rows, err := ts.q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapError(err, fmt.Sprintf("failed to read columns of %s", table))
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.WrapError(err, "failed to read column types")
	}
	types := make(map[string]string, len(columnTypes))
	for _, ct := range columnTypes {
		types[ct.Name()] = strings.ToUpper(ct.DatabaseTypeName())
	}
	return types, rows.Err()
}

// InsertRow inserts one row with the given columns
func (ts *TableStore) InsertRow(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) == 0 {
		return errors.NewAppError(errors.ErrorTypeValidation, fmt.Sprintf("no columns to insert into %s", table), nil)
	}

	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ts.dialect.QuoteIdent(c)
		marks[i] = ts.dialect.Placeholder(i + 1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ts.dialect.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	_, err := ts.exec(ctx, query, values...)
	return err
}

// RowExists reports whether a row with the given primary key exists
func (ts *TableStore) RowExists(ctx context.Context, table, pkColumn string, pk any) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s",
		ts.dialect.QuoteIdent(table), ts.dialect.QuoteIdent(pkColumn), ts.dialect.Placeholder(1))

	var one int
	err := ts.q.QueryRowContext(ctx, query, pk).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, errors.WrapError(err, fmt.Sprintf("failed to look up %s by primary key", table))
	}
	return true, nil
}

// UpdateRow overwrites the given columns of the row identified by pk
func (ts *TableStore) UpdateRow(ctx context.Context, table, pkColumn string, pk any, columns []string, values []any) (int64, error) {
	if len(columns) == 0 {
		return 0, nil
	}

	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = %s", ts.dialect.QuoteIdent(c), ts.dialect.Placeholder(i+1))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		ts.dialect.QuoteIdent(table), strings.Join(sets, ", "),
		ts.dialect.QuoteIdent(pkColumn), ts.dialect.Placeholder(len(columns)+1))

	args := append(append(make([]any, 0, len(values)+1), values...), pk)
	return ts.exec(ctx, query, args...)
}

// DeleteAll removes every row of table and returns the number removed
func (ts *TableStore) DeleteAll(ctx context.Context, table string) (int64, error) {
	return ts.exec(ctx, "DELETE FROM "+ts.dialect.QuoteIdent(table))
}

func (ts *TableStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	start := time.Now()
	result, err := ts.q.ExecContext(ctx, query, args...)

	var affected int64
	if result != nil && err == nil {
		affected, _ = result.RowsAffected()
	}
	ts.logger.LogSQLExecution(logging.SanitizeSQL(query), time.Since(start), affected, err)

	if err != nil {
		return 0, errors.WrapError(err, "statement failed")
	}
	return affected, nil
}
