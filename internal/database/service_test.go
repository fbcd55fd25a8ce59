package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	apperrors "mysql-data-vault/internal/errors"
	"mysql-data-vault/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewServiceWithRetry(logging.NewNopLogger(), 1, time.Millisecond, time.Second)
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, _, err := newTestService().Connect(context.Background(), DatabaseConfig{Driver: DriverMySQL})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	cfg := DatabaseConfig{Driver: "oracle", Host: "db", Username: "vault", Database: "erp"}
	_, _, err := newTestService().Connect(context.Background(), cfg)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	assert.NoError(t, newTestService().Ping(context.Background(), db))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, newTestService().Ping(context.Background(), db))

	assert.Error(t, newTestService().Ping(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestServerVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT version()")).
		WillReturnRows(sqlmock.NewRows([]string{"version()"}).AddRow("8.0.36"))

	version, err := newTestService().ServerVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema(t *testing.T) {
	t.Run("commits all statements", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS a").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS b").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err = newTestService().ApplySchema(context.Background(), db, []string{
			"CREATE TABLE IF NOT EXISTS a (id INT)", "", "CREATE TABLE IF NOT EXISTS b (id INT)",
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS a").WillReturnError(errors.New("syntax"))
		mock.ExpectRollback()

		err = newTestService().ApplySchema(context.Background(), db, []string{"CREATE TABLE IF NOT EXISTS a (id INT)"})
		require.Error(t, err)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, 0, appErr.Context["statement_index"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no statements is a no-op", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		assert.NoError(t, newTestService().ApplySchema(context.Background(), db, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabaseConfig_Target(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Database: "erp", Password: "secret"}
	cfg.SetDefaults()
	assert.Equal(t, "erp@db:3306 (mysql)", cfg.Target())
	assert.NotContains(t, cfg.Target(), "secret")
}
