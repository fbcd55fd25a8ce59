package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	assert.Equal(t, ErrorTypeConnection, appErr.Type)
	assert.False(t, appErr.IsRecoverable())
	assert.Equal(t, "connection: connection failed (caused by: underlying error)", appErr.Error())
	assert.ErrorIs(t, appErr, cause)

	appErr.WithContext("table", "sales_order")
	assert.Equal(t, "sales_order", appErr.Context["table"])
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	tests := []struct {
		name        string
		number      uint16
		wantType    ErrorType
		recoverable bool
	}{
		{"access denied", 1045, ErrorTypePermission, false},
		{"unknown table", 1146, ErrorTypeSchema, false},
		{"duplicate entry", 1062, ErrorTypeConflict, false},
		{"row referenced", 1451, ErrorTypeConstraint, false},
		{"no referenced row", 1452, ErrorTypeConstraint, false},
		{"deadlock", 1213, ErrorTypeSQL, true},
		{"cannot connect", 2003, ErrorTypeConnection, true},
		{"other", 1234, ErrorTypeSQL, false},
	}

	classifier := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &mysql.MySQLError{Number: tt.number, Message: "boom"}
			appErr := classifier.ClassifyError(fmt.Errorf("wrapped: %w", err))

			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantType, appErr.Type)
			assert.Equal(t, tt.recoverable, appErr.IsRecoverable())
			assert.Equal(t, tt.number, appErr.Context["mysql_error_code"])
		})
	}
}

func TestErrorClassifier_ClassifyPostgresError(t *testing.T) {
	tests := []struct {
		code     string
		wantType ErrorType
	}{
		{"23505", ErrorTypeConflict},
		{"23503", ErrorTypeConstraint},
		{"42P01", ErrorTypeSchema},
		{"42501", ErrorTypePermission},
		{"XX000", ErrorTypeSQL},
	}

	classifier := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			appErr := classifier.ClassifyError(&pgconn.PgError{Code: tt.code, Message: "boom"})
			assert.Equal(t, tt.wantType, appErr.Type)
			assert.Equal(t, tt.code, appErr.Context["sqlstate"])
		})
	}
}

func TestErrorClassifier_ClassifyOtherErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	assert.Equal(t, ErrorTypeValidation, classifier.ClassifyError(sql.ErrNoRows).Type)
	assert.True(t, classifier.ClassifyError(sql.ErrConnDone).IsRecoverable())
	assert.Equal(t, ErrorTypeTimeout, classifier.ClassifyError(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeInterruption, classifier.ClassifyError(context.Canceled).Type)
	assert.Equal(t, ErrorTypeConnection, classifier.ClassifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}).Type)
	assert.Equal(t, ErrorTypePermission, classifier.ClassifyError(&os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}).Type)
	assert.Equal(t, ErrorTypeUnknown, classifier.ClassifyError(errors.New("mystery")).Type)
	assert.True(t, classifier.ClassifyError(mysql.ErrInvalidConn).IsRecoverable())
	assert.Nil(t, classifier.ClassifyError(nil))
}

func TestConflictHelpers(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}

	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(WrapError(dup, "insert failed")))
	assert.True(t, IsDuplicateKey(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicateKey(errors.New("plain")))

	assert.True(t, IsConstraintViolation(&mysql.MySQLError{Number: 1452}))
	assert.True(t, IsMissingSchemaObject(&pgconn.PgError{Code: "42P01"}))
}

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after recoverable failures", func(t *testing.T) {
		attempts := 0
		err := NewRetryHandler(config).Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return &mysql.MySQLError{Number: 2006}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		attempts := 0
		err := NewRetryHandler(config).Retry(context.Background(), func() error {
			attempts++
			return &mysql.MySQLError{Number: 1045}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, ErrorTypePermission, GetErrorType(err))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		err := NewRetryHandler(config).Retry(context.Background(), func() error {
			attempts++
			return &mysql.MySQLError{Number: 2003}
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)

		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, 3, appErr.Context["attempts"])
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewRetryHandler(config).Retry(ctx, func() error { return nil })
		assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2})

	assert.Equal(t, time.Second, rh.calculateDelay(1))
	assert.Equal(t, 2*time.Second, rh.calculateDelay(2))
	assert.Equal(t, 4*time.Second, rh.calculateDelay(3))
	assert.Equal(t, 5*time.Second, rh.calculateDelay(4))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "noop"))

	wrapped := WrapError(&mysql.MySQLError{Number: 2003}, "connect")
	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.True(t, appErr.IsRecoverable())
	assert.Equal(t, ErrorTypeConnection, appErr.Type)
	assert.Equal(t, "connect", appErr.Message)
	assert.Equal(t, uint16(2003), appErr.Context["mysql_error_code"])
}

func TestGetErrorType_LooksThroughWrapping(t *testing.T) {
	err := fmt.Errorf("restore sales.order: %w", &pgconn.PgError{Code: "23503"})
	assert.Equal(t, ErrorTypeConstraint, GetErrorType(err))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(nil))
}
