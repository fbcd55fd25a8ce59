package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mysql-data-vault/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelDebug,
		Output: &buf,
		Format: "json",
	})
	require.NoError(t, err)
	return logger, &buf
}

func TestNewJobLogger(t *testing.T) {
	tests := []struct {
		name           string
		config         JobLoggerConfig
		expectAuditLog bool
	}{
		{
			name:   "basic logger without audit",
			config: JobLoggerConfig{Logger: logging.NewNopLogger()},
		},
		{
			name: "logger with audit log",
			config: JobLoggerConfig{
				Logger:         logging.NewNopLogger(),
				AuditLogFile:   filepath.Join(t.TempDir(), "audit", "audit.log"),
				EnableAuditLog: true,
			},
			expectAuditLog: true,
		},
		{
			name:   "custom correlation ID",
			config: JobLoggerConfig{CorrelationID: "corr-123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jl, err := NewJobLogger(tt.config)
			require.NoError(t, err)
			defer jl.Close()

			assert.NotEmpty(t, jl.GetCorrelationID())
			if tt.config.CorrelationID != "" {
				assert.Equal(t, tt.config.CorrelationID, jl.GetCorrelationID())
			}
			assert.Equal(t, tt.expectAuditLog, jl.auditLogger != nil)
		})
	}
}

func TestJobLogger_CorrelationFields(t *testing.T) {
	logger, buf := newCapturingLogger(t)
	jl, err := NewJobLogger(JobLoggerConfig{Logger: logger})
	require.NoError(t, err)

	jobLog := jl.ForJob("job-42", JobKindRestore)
	jobLog.LogRecordFailure("sales.order", 3, IntValue(17), errors.New("duplicate entry"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-42", entry["job_id"])
	assert.Equal(t, "restore", entry["job_kind"])
	assert.Equal(t, "sales.order", entry["model"])
	assert.Equal(t, float64(3), entry["index"])
	assert.Equal(t, "17", entry["pk"])
}

func TestJobLogger_CleanupError(t *testing.T) {
	logger, buf := newCapturingLogger(t)
	jl, err := NewJobLogger(JobLoggerConfig{Logger: logger})
	require.NoError(t, err)

	jl.ForJob("job-1", JobKindRestore).LogCleanupError("foreign key checks", errors.New("connection lost"))

	out := buf.String()
	assert.Contains(t, out, "RESOURCE_CLEANUP_ERROR")
	assert.Contains(t, out, "foreign key checks")
}

func TestJobLogger_AuditTrail(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	jl, err := NewJobLogger(JobLoggerConfig{
		Logger:         logging.NewNopLogger(),
		AuditLogFile:   auditPath,
		EnableAuditLog: true,
	})
	require.NoError(t, err)

	jobLog := jl.ForJob("job-7", JobKindBackup)
	jobLog.LogJobSubmitted("nightly", "alice", map[string]interface{}{"domains": []string{"sales"}})
	jobLog.LogTransition(JobStatusPending, JobStatusRunning, "alice", nil)
	jobLog.LogTransition(JobStatusRunning, JobStatusFailed, "alice", errors.New("disk full"))

	finish := jl.LogRetentionCleanup(3)
	finish(nil, []string{"old-1"})
	require.NoError(t, jl.Close())

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)

	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "job-7", last["correlation_id"])
	assert.Equal(t, "failed", last["result"])
	assert.Equal(t, "alice", last["owner"])

	var retention map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &retention))
	assert.Equal(t, "retention", retention["resource"])
}
