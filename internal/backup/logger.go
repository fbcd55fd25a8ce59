package backup

import (
	"fmt"
	"io"
	"time"

	"mysql-data-vault/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// JobLogger provides structured logging for backup and restore jobs with
// correlation IDs and an optional audit trail
type JobLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	auditFile     io.Closer
	correlationID string
	kind          JobKind
}

// JobLoggerConfig holds configuration for job logging
type JobLoggerConfig struct {
	Logger         *logging.Logger
	AuditLogFile   string
	CorrelationID  string
	EnableAuditLog bool
}

// AuditLogEntry represents an audit trail entry
type AuditLogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Owner         string                 `json:"owner,omitempty"`
	Resource      string                 `json:"resource"`
	Action        string                 `json:"action"`
	Result        string                 `json:"result"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewJobLogger creates a new job logger with correlation ID support
func NewJobLogger(config JobLoggerConfig) (*JobLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	jl := &JobLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.EnableAuditLog && config.AuditLogFile != "" {
		auditFile, err := logging.NewRotatingWriter(logging.Rotation{Path: config.AuditLogFile, Compress: true})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		jl.auditLogger = auditLogger
		jl.auditFile = auditFile
	}

	return jl, nil
}

// Close releases the audit log file
func (jl *JobLogger) Close() error {
	if jl.auditFile == nil {
		return nil
	}
	return jl.auditFile.Close()
}

// GetCorrelationID returns the current correlation ID
func (jl *JobLogger) GetCorrelationID() string {
	return jl.correlationID
}

// ForJob returns a logger correlated with one job. The audit sink is shared.
func (jl *JobLogger) ForJob(jobID string, kind JobKind) *JobLogger {
	return &JobLogger{
		logger:        jl.logger,
		auditLogger:   jl.auditLogger,
		correlationID: jobID,
		kind:          kind,
	}
}

// Base returns the underlying application logger
func (jl *JobLogger) Base() *logging.Logger {
	return jl.logger
}

// Entry returns a logrus entry carrying the correlation fields
func (jl *JobLogger) Entry() *logrus.Entry {
	fields := logrus.Fields{"job_id": jl.correlationID}
	if jl.kind != "" {
		fields["job_kind"] = string(jl.kind)
	}
	return jl.logger.WithFields(fields)
}

// LogTransition logs a state change and mirrors it to the audit trail
func (jl *JobLogger) LogTransition(from, to JobStatus, owner string, err error) {
	jl.logger.LogJobTransition(jl.correlationID, string(jl.kind), string(from), string(to), err)

	if !to.IsTerminal() && to != JobStatusRunning {
		return
	}
	details := map[string]interface{}{"from": string(from)}
	if err != nil {
		details["error"] = err.Error()
		details["permanent"] = IsPermanent(err)
	}
	jl.logAudit(string(jl.kind), "transition", string(to), owner, details)
}

// LogJobSubmitted records the creation of a job
func (jl *JobLogger) LogJobSubmitted(name, owner string, details map[string]interface{}) {
	fields := logrus.Fields{"name": name, "owner": owner}
	for k, v := range details {
		fields[k] = v
	}
	jl.Entry().WithFields(fields).Info("Job submitted")
	jl.logAudit(string(jl.kind), "submit", "pending", owner, details)
}

// LogRecordFailure logs one record that could not be restored
func (jl *JobLogger) LogRecordFailure(typeName string, index int, pk Value, err error) {
	jl.Entry().WithFields(logrus.Fields{
		"operation": "restore_record",
		"model":     typeName,
		"index":     index,
		"pk":        pk.String(),
		"error":     err.Error(),
	}).Warn("Record could not be restored")
}

// LogTypeReadFailure logs a type that was skipped because it could not be read
func (jl *JobLogger) LogTypeReadFailure(typeName string, err error) {
	skipped := NewSkippedTypeError(fmt.Sprintf("type %s could not be read", typeName), err)
	jl.Entry().WithFields(logrus.Fields{
		"operation": "snapshot_type",
		"model":     typeName,
		"type":      string(skipped.Type),
		"error":     err.Error(),
	}).Warn("Skipping type that could not be read")
}

// LogBinaryOmitted records binary content left out of an archive
func (jl *JobLogger) LogBinaryOmitted(typeName, column string, records int, bytes int64) {
	jl.Entry().WithFields(logrus.Fields{
		"operation": "snapshot_type",
		"model":     typeName,
		"column":    column,
		"records":   records,
		"bytes":     bytes,
	}).Info("Binary column omitted from archive")
}

// LogClearFailure logs a table that could not be cleared before restore
func (jl *JobLogger) LogClearFailure(typeName string, err error) {
	jl.Entry().WithFields(logrus.Fields{
		"operation": "clear_existing",
		"model":     typeName,
		"error":     err.Error(),
	}).Warn("Failed to clear existing rows")
}

// LogCleanupError logs a resource that could not be released
func (jl *JobLogger) LogCleanupError(resource string, err error) {
	cleanupErr := NewCleanupError(fmt.Sprintf("failed to clean up %s", resource), err)
	jl.Entry().WithFields(logrus.Fields{
		"operation": "cleanup",
		"resource":  resource,
		"type":      string(cleanupErr.Type),
		"error":     err.Error(),
	}).Error("Resource cleanup failed")
}

// LogRetentionCleanup logs a prune run and returns a completion callback
func (jl *JobLogger) LogRetentionCleanup(keep int) func(error, []string) {
	done := jl.logger.LogOperationStart("retention_cleanup", map[string]interface{}{
		"correlation_id": jl.correlationID,
		"keep":           keep,
	})

	return func(err error, deleted []string) {
		done(err)

		result := "success"
		if err != nil {
			result = "failure"
		}
		jl.logAudit("retention", "cleanup", result, "", map[string]interface{}{
			"keep":    keep,
			"deleted": deleted,
		})
	}
}

// LogStorageOperation logs a mirror store call and returns a completion callback
func (jl *JobLogger) LogStorageOperation(operation string, provider StorageProviderType, key string) func(error) {
	return jl.logger.LogOperationStart("storage_"+operation, map[string]interface{}{
		"job_id":   jl.correlationID,
		"provider": string(provider),
		"key":      key,
	})
}

// logAudit logs an audit trail entry
func (jl *JobLogger) logAudit(resource, action, result, owner string, details map[string]interface{}) {
	if jl.auditLogger == nil {
		return
	}

	entry := AuditLogEntry{
		Timestamp:     time.Now(),
		CorrelationID: jl.correlationID,
		Owner:         owner,
		Resource:      resource,
		Action:        action,
		Result:        result,
		Details:       details,
	}

	jl.auditLogger.WithFields(logrus.Fields{
		"correlation_id": entry.CorrelationID,
		"owner":          entry.Owner,
		"resource":       entry.Resource,
		"action":         entry.Action,
		"result":         entry.Result,
		"details":        entry.Details,
	}).Info("Audit log entry")
}
