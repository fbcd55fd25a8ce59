// Package errors classifies driver, network and filesystem failures so the
// vault can tell a duplicate key from a dropped connection, and retries the
// ones worth retrying.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType is the coarse category of a failure
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeSQL          ErrorType = "sql"
	ErrorTypeSchema       ErrorType = "schema"     // missing table or column
	ErrorTypeConflict     ErrorType = "conflict"   // unique key collision
	ErrorTypeConstraint   ErrorType = "constraint" // foreign key, not null
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AppError is a classified error. Recoverable errors are retried by
// RetryHandler.
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a key such as a driver error code
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errorType, Message: message, Cause: cause}
}

func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	appErr := NewAppError(errorType, message, cause)
	appErr.Recoverable = true
	return appErr
}

// classification is what a driver error code maps to
type classification struct {
	kind        ErrorType
	message     string
	recoverable bool
}

func (c classification) wrap(err error) *AppError {
	if c.recoverable {
		return NewRecoverableError(c.kind, c.message, err)
	}
	return NewAppError(c.kind, c.message, err)
}

var (
	lockContention = classification{ErrorTypeSQL, "transaction aborted by lock contention", true}
	duplicateKey   = classification{ErrorTypeConflict, "duplicate key", false}
	foreignKey     = classification{ErrorTypeConstraint, "foreign key constraint violated", false}
	accessDenied   = classification{ErrorTypePermission, "database access denied", false}
)

// MySQL server error numbers
var mysqlCodes = map[uint16]classification{
	1045: accessDenied,
	1227: accessDenied,
	1049: {ErrorTypeValidation, "database does not exist", false},
	1054: {ErrorTypeSchema, "column does not exist", false},
	1146: {ErrorTypeSchema, "table does not exist", false},
	1062: duplicateKey,
	1451: foreignKey, // parent row still referenced
	1452: foreignKey, // referenced parent missing
	1048: {ErrorTypeConstraint, "column cannot be null", false},
	1064: {ErrorTypeSQL, "SQL syntax error", false},
	1205: lockContention,
	1213: lockContention,
	2003: {ErrorTypeConnection, "cannot reach MySQL server", true},
	2006: {ErrorTypeConnection, "MySQL server has gone away", true},
	2013: {ErrorTypeConnection, "lost connection to MySQL server", true},
}

// PostgreSQL SQLSTATE codes
var postgresCodes = map[string]classification{
	"23505": duplicateKey,
	"23503": foreignKey,
	"23502": {ErrorTypeConstraint, "not-null constraint violated", false},
	"42P01": {ErrorTypeSchema, "table does not exist", false},
	"42703": {ErrorTypeSchema, "column does not exist", false},
	"42501": accessDenied,
	"28P01": accessDenied,
	"3D000": {ErrorTypeValidation, "database does not exist", false},
	"40001": lockContention,
	"40P01": lockContention,
	"57P01": {ErrorTypeConnection, "server is shutting down", true},
}

// ErrorClassifier maps raw errors onto AppErrors
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError returns err's classification. Errors that are already
// AppErrors are returned unchanged; nil stays nil.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		c, ok := mysqlCodes[mysqlErr.Number]
		if !ok {
			c = classification{ErrorTypeSQL, "MySQL error: " + mysqlErr.Message, false}
		}
		return c.wrap(err).WithContext("mysql_error_code", mysqlErr.Number)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		c, ok := postgresCodes[pgErr.Code]
		if !ok {
			c = classification{ErrorTypeSQL, "PostgreSQL error: " + pgErr.Message, false}
		}
		return c.wrap(err).WithContext("sqlstate", pgErr.Code)
	}

	for _, classify := range []func(error) *AppError{classifySQL, classifyNetwork, classifyContext, classifyFileSystem} {
		if appErr := classify(err); appErr != nil {
			return appErr
		}
	}
	return NewAppError(ErrorTypeUnknown, "unexpected error", err)
}

func classifySQL(err error) *AppError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "no rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "transaction already finished", err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, mysql.ErrInvalidConn):
		return NewRecoverableError(ErrorTypeConnection, "database connection is closed", err)
	}
	return nil
}

func classifyNetwork(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write") {
		return NewRecoverableError(ErrorTypeConnection, "network "+opErr.Op+" failed", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "network operation timed out", err)
	}
	return nil
}

func classifyContext(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRecoverableError(ErrorTypeTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "operation was canceled", err)
	}
	return nil
}

func classifyFileSystem(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}
	switch pathErr.Err {
	case syscall.ENOENT:
		return NewAppError(ErrorTypeValidation, "no such file: "+pathErr.Path, err)
	case syscall.EACCES:
		return NewAppError(ErrorTypePermission, "permission denied: "+pathErr.Path, err)
	case syscall.ENOSPC:
		return NewAppError(ErrorTypeValidation, "no space left on device", err)
	}
	return nil
}

// IsDuplicateKey reports a unique-key collision on either engine
func IsDuplicateKey(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsConstraintViolation reports a foreign key or not-null violation
func IsConstraintViolation(err error) bool {
	return GetErrorType(err) == ErrorTypeConstraint
}

// IsMissingSchemaObject reports a table or column that does not exist
func IsMissingSchemaObject(err error) bool {
	return GetErrorType(err) == ErrorTypeSchema
}

// GetErrorType classifies err, looking through wrapping
func GetErrorType(err error) ErrorType {
	if appErr := NewErrorClassifier().ClassifyError(err); appErr != nil {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// WrapError adds message to err while keeping its classification
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	classified := NewErrorClassifier().ClassifyError(err)
	return &AppError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
	}
}

// RetryConfig sets the attempts and exponential backoff of a RetryHandler
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// RetryHandler reruns an operation while it fails with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{config: config, classifier: NewErrorClassifier()}
}

// Retry runs operation until it succeeds, fails permanently, runs out of
// attempts or ctx is done
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr *AppError
	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return NewAppError(ErrorTypeInterruption, "operation canceled", ctx.Err())
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = rh.classifier.ClassifyError(err)
		if !lastErr.IsRecoverable() || attempt == rh.config.MaxAttempts {
			break
		}

		timer := time.NewTimer(rh.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "operation canceled during retry", ctx.Err())
		case <-timer.C:
		}
	}

	if lastErr.IsRecoverable() {
		return lastErr.WithContext("attempts", rh.config.MaxAttempts)
	}
	return lastErr
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	delay := float64(rh.config.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= rh.config.Multiplier
	}
	if d := time.Duration(delay); d < rh.config.MaxDelay || rh.config.MaxDelay == 0 {
		return d
	}
	return rh.config.MaxDelay
}
