// Package logging wraps logrus with the vault's verbosity levels and
// log file rotation.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the operator-facing verbosity
type LogLevel string

const (
	// LogLevelQuiet shows errors only
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows job lifecycle messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose adds per-statement SQL and storage details
	LogLevelVerbose LogLevel = "verbose"
	LogLevelDebug   LogLevel = "debug"
)

// Rotation describes a size-rotated log file
type Rotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Output io.Writer
	Format string // "text" or "json"
	// File, when it has a path, receives a copy of everything written to Output
	File Rotation
}

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	file   io.Closer
}

// NewRotatingWriter opens a lumberjack file, creating its directory.
// Zero limits fall back to 100 MB, 3 backups and 28 days.
func NewRotatingWriter(r Rotation) (io.WriteCloser, error) {
	if r.Path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", r.Path, err)
	}
	return &lumberjack.Logger{
		Filename:   r.Path,
		MaxSize:    defaultInt(r.MaxSizeMB, 100),
		MaxBackups: defaultInt(r.MaxBackups, 3),
		MaxAge:     defaultInt(r.MaxAgeDays, 28),
		Compress:   r.Compress,
	}, nil
}

// NewLogger creates a logger. Output defaults to stdout.
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{logger: logger, level: config.Level}
	if config.File.Path != "" {
		file, err := NewRotatingWriter(config.File)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(out, file)
		l.file = file
	}
	logger.SetOutput(out)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	logger.SetLevel(toLogrusLevel(config.Level))

	return l, nil
}

// NewDefaultLogger logs text at normal level to stdout
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelNormal, Output: os.Stdout, Format: "text"})
	return logger
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

// Close releases the rotated log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs the outcome of opening the business database
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	})
	if success {
		entry.Debug("Database connection established")
		return
	}
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Error("Database connection failed")
}

// LogSQLExecution logs one statement at verbose level. Failures stay at debug
// because a failed insert is the normal path into the restore conflict branch.
func (l *Logger) LogSQLExecution(sql string, duration time.Duration, rowsAffected int64, err error) {
	if !l.IsLevelEnabled(LogLevelVerbose) {
		return
	}
	fields := logrus.Fields{
		"operation":     "sql_execution",
		"duration":      duration.String(),
		"rows_affected": rowsAffected,
		"sql":           sql,
	}
	if len(sql) > 200 {
		fields["sql"] = sql[:200] + "..."
		fields["sql_length"] = len(sql)
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Debug("SQL execution failed")
		return
	}
	l.logger.WithFields(fields).Debug("SQL executed")
}

// LogJobTransition logs a job moving between lifecycle states
func (l *Logger) LogJobTransition(jobID, kind, from, to string, err error) {
	entry := l.logger.WithFields(logrus.Fields{
		"operation": "job_transition",
		"job_id":    jobID,
		"job_kind":  kind,
		"from":      from,
		"to":        to,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("Job failed")
		return
	}
	entry.Info("Job state changed")
}

// LogArchiveWritten logs the outcome of writing an archive file
func (l *Logger) LogArchiveWritten(path string, records int, uncompressed, compressed int64, duration time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"operation":         "archive_write",
		"path":              path,
		"records":           records,
		"uncompressed_size": uncompressed,
		"compressed_size":   compressed,
		"duration":          duration.String(),
	}).Info("Archive written")
}

func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *Logger) GetLevel() LogLevel {
	return l.level
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled reports whether messages at level are written. Unknown
// levels are never enabled.
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation at debug level and returns
// the completion callback
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	start := time.Now()
	entry := l.logger.WithFields(fields).WithField("operation", operation)
	entry.Debug("Operation started")

	return func(err error) {
		done := entry.WithField("duration", time.Since(start).String())
		if err != nil {
			done.WithFields(logrus.Fields{"error": err.Error(), "success": false}).Error("Operation failed")
			return
		}
		done.WithField("success", true).Info("Operation completed")
	}
}

var secretKeys = []string{"password=", "secret="}

// SanitizeSQL masks password and secret assignments of any case and
// truncates long statements
func SanitizeSQL(sql string) string {
	for _, key := range secretKeys {
		sql = maskAssignment(sql, key)
	}
	if len(sql) > 500 {
		return sql[:500] + "... [truncated]"
	}
	return sql
}

func maskAssignment(sql, key string) string {
	idx := strings.Index(strings.ToLower(sql), key)
	if idx == -1 {
		return sql
	}

	rest := sql[idx+len(key):]
	end := strings.IndexByte(rest, ' ')
	if len(rest) > 0 && (rest[0] == '\'' || rest[0] == '"') {
		if closing := strings.IndexByte(rest[1:], rest[0]); closing != -1 {
			end = closing + 2
		} else {
			end = -1
		}
	}
	if end == -1 {
		end = len(rest)
	}
	return sql[:idx+len(key)] + "***" + rest[end:]
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
