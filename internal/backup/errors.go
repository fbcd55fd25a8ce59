package backup

import (
	"errors"
	"fmt"
	"strings"
)

// BackupErrorType classifies a failure by how far it reaches: a whole job, a
// single record, or a collaborator such as storage or the ledger
type BackupErrorType string

const (
	BackupErrorTypeFatalJob    BackupErrorType = "FATAL_JOB_ERROR"
	BackupErrorTypeRecord      BackupErrorType = "RECORD_ERROR"
	BackupErrorTypeSkippedType BackupErrorType = "SKIPPED_TYPE"
	BackupErrorTypeCleanup     BackupErrorType = "RESOURCE_CLEANUP_ERROR"

	BackupErrorTypeStorage       BackupErrorType = "STORAGE_ERROR"
	BackupErrorTypeCompression   BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeDatabase      BackupErrorType = "DATABASE_ERROR"
	BackupErrorTypeValidation    BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeConfiguration BackupErrorType = "CONFIGURATION_ERROR"
	BackupErrorTypePermission    BackupErrorType = "PERMISSION_ERROR"
	BackupErrorTypeNotFound      BackupErrorType = "NOT_FOUND_ERROR"
	BackupErrorTypeConflict      BackupErrorType = "CONFLICT_ERROR"
)

// BackupError is the error type returned by the engine and its collaborators.
// Job failure messages are the Error() text, stored verbatim in the ledger.
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *BackupError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key such as job_id or path to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{Type: errorType, Message: message, Cause: cause}
}

// NewFatalJobError marks an error that aborts the whole job
func NewFatalJobError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeFatalJob, message, cause)
}

// NewRecordError marks a failure confined to a single record
func NewRecordError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRecord, message, cause)
}

// NewSkippedTypeError marks a type left out of a snapshot
func NewSkippedTypeError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeSkippedType, message, cause)
}

func NewCleanupError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCleanup, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewDatabaseError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeDatabase, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConfiguration, message, cause)
}

func NewPermissionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypePermission, message, cause)
}

func NewNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConflict, message, cause)
}

// Problem is one invalid setting found while validating a config section
type Problem struct {
	Field   string
	Message string
	Value   interface{}
}

func (p Problem) String() string {
	if p.Value != nil {
		return fmt.Sprintf("%s: %s (%v)", p.Field, p.Message, p.Value)
	}
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// Problems collects every invalid setting of a section so one run reports
// them all
type Problems []Problem

func (p *Problems) Add(field, message string, value interface{}) {
	*p = append(*p, Problem{Field: field, Message: message, Value: value})
}

// Err is nil without problems, otherwise a VALIDATION_ERROR listing each one
func (p Problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	lines := make([]string, len(p))
	for i, problem := range p {
		lines[i] = problem.String()
	}
	return NewValidationError(strings.Join(lines, "; "), nil).WithContext("problems", len(p))
}

func errorType(err error) (BackupErrorType, bool) {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type, true
	}
	return "", false
}

// IsPermanent reports errors that retrying the same request cannot fix
func IsPermanent(err error) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	switch t {
	case BackupErrorTypeValidation, BackupErrorTypePermission,
		BackupErrorTypeConfiguration, BackupErrorTypeFatalJob:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err aborted a job rather than a single record
func IsFatal(err error) bool {
	t, ok := errorType(err)
	return ok && t == BackupErrorTypeFatalJob
}

// IsNotFound reports whether err is a NOT_FOUND_ERROR
func IsNotFound(err error) bool {
	t, ok := errorType(err)
	return ok && t == BackupErrorTypeNotFound
}
