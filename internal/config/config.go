package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/database"
	"mysql-data-vault/internal/logging"

	"github.com/spf13/viper"
)

// Ledger backends
const (
	LedgerMemory = "memory"
	LedgerSQL    = "sql"
)

// Config is the complete vault configuration
type Config struct {
	Database    database.DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Archive     ArchiveConfig              `mapstructure:"archive" yaml:"archive"`
	Jobs        JobsConfig                 `mapstructure:"jobs" yaml:"jobs"`
	Storage     backup.StorageConfig       `mapstructure:"storage" yaml:"storage"`
	CatalogFile string                     `mapstructure:"catalog_file" yaml:"catalog_file"`
	Schedules   []backup.RetentionSchedule `mapstructure:"schedules" yaml:"schedules"`
	Logging     LoggingConfig              `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig              `mapstructure:"metrics" yaml:"metrics"`
}

// ArchiveConfig defines where and how archives are written
type ArchiveConfig struct {
	Directory   string `mapstructure:"directory" yaml:"directory"`
	Compression string `mapstructure:"compression" yaml:"compression"`
	Level       int    `mapstructure:"level" yaml:"level"`
}

// JobsConfig defines the worker pool and job ledger
type JobsConfig struct {
	MaxConcurrent    int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	ProgressInterval int    `mapstructure:"progress_interval" yaml:"progress_interval"`
	Ledger           string `mapstructure:"ledger" yaml:"ledger"`
	AuditLog         string `mapstructure:"audit_log" yaml:"audit_log"`
}

// LoggingConfig defines log level, format and the optional rotated log file
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// MetricsConfig defines the Prometheus endpoint served by `schedule run`
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load decodes v into a Config and applies defaults. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults sets default values for every section
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Archive.SetDefaults()
	c.Jobs.SetDefaults()
	c.Storage.SetDefaults()
	c.Logging.SetDefaults()
	c.Metrics.SetDefaults()

	for i := range c.Schedules {
		s := &c.Schedules[i]
		s.Frequency = backup.Frequency(strings.ToLower(string(s.Frequency)))
		if s.TimeOfDay == "" {
			s.TimeOfDay = "02:00"
		}
		if s.MaxBackupsToKeep == 0 {
			s.MaxBackupsToKeep = 7
		}
	}
}

// Validate validates the whole configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if err := c.Jobs.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("jobs: %w", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if err := ValidateSchedules(c.Schedules); err != nil {
		errs = append(errs, fmt.Errorf("schedules: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// LoadCatalog returns the catalog from catalog_file, or the built-in one
func (c *Config) LoadCatalog() (*backup.Catalog, error) {
	catalogConfig := backup.DefaultCatalogConfig()
	if c.CatalogFile != "" {
		loaded, err := backup.LoadCatalogFile(c.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalogConfig = loaded
	}
	return backup.NewCatalog(catalogConfig)
}

// Codec returns the archive codec for new archives
func (c *Config) Codec() *backup.ArchiveCodec {
	return backup.NewArchiveCodec(backup.CompressionType(c.Archive.Compression), c.Archive.Level)
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.Logging.Level),
		Format: c.Logging.Format,
		File: logging.Rotation{
			Path:       c.Logging.File,
			MaxSizeMB:  c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
		},
	}
}

// SetDefaults sets default values for archive configuration
func (ac *ArchiveConfig) SetDefaults() {
	if ac.Directory == "" {
		ac.Directory = "./archives"
	}
	if ac.Compression == "" {
		ac.Compression = string(backup.CompressionTypeGzip)
	}
	ac.Compression = strings.ToUpper(ac.Compression)
}

// Validate validates the archive configuration
func (ac *ArchiveConfig) Validate() error {
	var errs []error

	if !slices.Contains(backup.SupportedCompressions(), backup.CompressionType(ac.Compression)) {
		errs = append(errs, fmt.Errorf("unsupported compression %q (expected GZIP, ZSTD, LZ4 or NONE)", ac.Compression))
	}

	if ac.Level < 0 {
		errs = append(errs, fmt.Errorf("compression level must not be negative, got %d", ac.Level))
	} else if ac.Level > 0 {
		if lo, hi, _, err := backup.CompressionLevels(backup.CompressionType(ac.Compression)); err == nil && (ac.Level < lo || ac.Level > hi) {
			errs = append(errs, fmt.Errorf("compression level %d is out of range for %s (%d-%d)", ac.Level, ac.Compression, lo, hi))
		}
	}

	return errors.Join(errs...)
}

// SetDefaults sets default values for job configuration
func (jc *JobsConfig) SetDefaults() {
	if jc.MaxConcurrent == 0 {
		jc.MaxConcurrent = backup.DefaultMaxConcurrentJobs
	}
	if jc.ProgressInterval == 0 {
		jc.ProgressInterval = backup.DefaultProgressInterval
	}
	if jc.Ledger == "" {
		jc.Ledger = LedgerMemory
	}
	jc.Ledger = strings.ToLower(jc.Ledger)
}

// Validate validates the job configuration
func (jc *JobsConfig) Validate() error {
	var errs []error

	if jc.MaxConcurrent < 1 {
		errs = append(errs, errors.New("max_concurrent must be at least 1"))
	}
	if jc.ProgressInterval < 1 {
		errs = append(errs, errors.New("progress_interval must be at least 1"))
	}
	if jc.Ledger != LedgerMemory && jc.Ledger != LedgerSQL {
		errs = append(errs, fmt.Errorf("ledger must be %q or %q, got %q", LedgerMemory, LedgerSQL, jc.Ledger))
	}

	return errors.Join(errs...)
}

// SetDefaults sets default values for logging configuration
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

// Validate validates the logging configuration
func (lc *LoggingConfig) Validate() error {
	var errs []error

	switch logging.LogLevel(lc.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", lc.Level))
	}
	if lc.Format != "text" && lc.Format != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", lc.Format))
	}

	return errors.Join(errs...)
}

// SetDefaults sets default values for the metrics endpoint
func (mc *MetricsConfig) SetDefaults() {
	if mc.Address == "" {
		mc.Address = ":9090"
	}
	if mc.Path == "" {
		mc.Path = "/metrics"
	}
}

// ValidateSchedules checks every schedule and that names are unique
func ValidateSchedules(schedules []backup.RetentionSchedule) error {
	var errs []error
	seen := make(map[string]bool)

	for i, s := range schedules {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("schedule %s: name is required", label))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("schedule %s: duplicate name", label))
		}
		seen[s.Name] = true

		switch s.Frequency {
		case backup.FrequencyDaily, backup.FrequencyWeekly, backup.FrequencyMonthly:
		default:
			errs = append(errs, fmt.Errorf("schedule %s: frequency must be daily, weekly or monthly, got %q", label, s.Frequency))
		}

		if _, err := time.Parse("15:04", s.TimeOfDay); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: time_of_day must be HH:MM, got %q", label, s.TimeOfDay))
		}

		if s.MaxBackupsToKeep < 1 {
			errs = append(errs, fmt.Errorf("schedule %s: max_backups_to_keep must be at least 1", label))
		}
	}

	return errors.Join(errs...)
}
