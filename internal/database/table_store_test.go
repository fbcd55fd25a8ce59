package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	apperrors "mysql-data-vault/internal/errors"
	"mysql-data-vault/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, driver Driver) (*TableStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dialect, err := DialectFor(driver)
	require.NoError(t, err)

	return NewTableStore(db, dialect, logging.NewNopLogger()), mock, db
}

func TestDialectQuoting(t *testing.T) {
	my, _ := DialectFor(DriverMySQL)
	pg, _ := DialectFor(DriverPostgres)

	assert.Equal(t, "`sales_order`", my.QuoteIdent("sales_order"))
	assert.Equal(t, "`erp`.`odd``name`", my.QuoteIdent("erp.odd`name"))
	assert.Equal(t, `"public"."sales_order"`, pg.QuoteIdent("public.sales_order"))
	assert.Equal(t, "?", my.Placeholder(3))
	assert.Equal(t, "$3", pg.Placeholder(3))
	assert.Equal(t, "pgx", pg.DriverName())

	_, err := DialectFor("sqlserver")
	assert.Error(t, err)
}

func TestTableStore_ReadRows(t *testing.T) {
	store, mock, _ := newMockStore(t, DriverMySQL)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := mock.NewRowsWithColumnDefinition(
		mock.NewColumn("id").OfType("BIGINT", int64(0)),
		mock.NewColumn("name").OfType("VARCHAR", ""),
		mock.NewColumn("created_at").OfType("DATETIME", time.Time{}),
	).AddRow(int64(1), []byte("Acme"), created).AddRow(int64(2), []byte("Globex"), created)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `customers_customer` ORDER BY `id`")).WillReturnRows(rows)

	result, err := store.ReadRows(context.Background(), "customers_customer", "id")
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, []string{"id", "name", "created_at"}, result[0].Columns)
	assert.Equal(t, []string{"BIGINT", "VARCHAR", "DATETIME"}, result[0].Types)
	assert.Equal(t, int64(2), result[1].Values[0])
	assert.Equal(t, []byte("Globex"), result[1].Values[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_ReadRowsMissingTable(t *testing.T) {
	store, mock, _ := newMockStore(t, DriverMySQL)

	mock.ExpectQuery("SELECT").WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"})

	_, err := store.ReadRows(context.Background(), "ghost", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingSchemaObject(err))
}

func TestTableStore_InsertRow(t *testing.T) {
	t.Run("mysql placeholders", func(t *testing.T) {
		store, mock, _ := newMockStore(t, DriverMySQL)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `sales_order` (`id`, `customer_id`) VALUES (?, ?)")).
			WithArgs(10, 3).
			WillReturnResult(sqlmock.NewResult(10, 1))

		err := store.InsertRow(context.Background(), "sales_order", []string{"id", "customer_id"}, []any{10, 3})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("postgres placeholders", func(t *testing.T) {
		store, mock, _ := newMockStore(t, DriverPostgres)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sales_order" ("id", "customer_id") VALUES ($1, $2)`)).
			WithArgs(10, 3).
			WillReturnResult(sqlmock.NewResult(10, 1))

		err := store.InsertRow(context.Background(), "sales_order", []string{"id", "customer_id"}, []any{10, 3})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key is classified", func(t *testing.T) {
		store, mock, _ := newMockStore(t, DriverMySQL)

		mock.ExpectExec("INSERT INTO").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

		err := store.InsertRow(context.Background(), "sales_order", []string{"id"}, []any{1})
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicateKey(err))
	})

	t.Run("no columns", func(t *testing.T) {
		store, _, _ := newMockStore(t, DriverMySQL)
		assert.Error(t, store.InsertRow(context.Background(), "sales_order", nil, nil))
	})
}

func TestTableStore_RowExists(t *testing.T) {
	store, mock, _ := newMockStore(t, DriverMySQL)
	query := regexp.QuoteMeta("SELECT 1 FROM `sales_order` WHERE `id` = ?")

	mock.ExpectQuery(query).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(query).WithArgs(8).WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectQuery(query).WithArgs(9).WillReturnError(errors.New("connection reset"))

	found, err := store.RowExists(context.Background(), "sales_order", "id", 7)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.RowExists(context.Background(), "sales_order", "id", 8)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.RowExists(context.Background(), "sales_order", "id", 9)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_UpdateRow(t *testing.T) {
	store, mock, _ := newMockStore(t, DriverPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "customers_customer" SET "name" = $1, "city" = $2 WHERE "id" = $3`)).
		WithArgs("b", "Oslo", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := store.UpdateRow(context.Background(), "customers_customer", "id", 5, []string{"name", "city"}, []any{"b", "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = store.UpdateRow(context.Background(), "customers_customer", "id", 5, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableStore_DeleteAll(t *testing.T) {
	store, mock, _ := newMockStore(t, DriverMySQL)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `sales_order_item`")).WillReturnResult(sqlmock.NewResult(0, 12))

	removed, err := store.DeleteAll(context.Background(), "sales_order_item")
	require.NoError(t, err)
	assert.Equal(t, int64(12), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
