package backup

import (
	"os"
	"time"
)

// JobStatus is the lifecycle state shared by backup and restore jobs
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobKind distinguishes the two job ledgers
type JobKind string

const (
	JobKindBackup  JobKind = "backup"
	JobKindRestore JobKind = "restore"
)

// JobHandle identifies a submitted job
type JobHandle struct {
	ID   string  `json:"id"`
	Kind JobKind `json:"kind"`
}

// BackupJob is one ledger row describing a snapshot run
type BackupJob struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Domains          []string   `json:"domains"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStep      string     `json:"current_step,omitempty"`
	ArchivePath      string     `json:"archive_path,omitempty"`
	MirrorLocation   string     `json:"mirror_location,omitempty"`
	UncompressedSize int64      `json:"uncompressed_size"`
	CompressedSize   int64      `json:"compressed_size"`
	RecordCount      int        `json:"record_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// CompressionRatio returns the space saved as a percentage
func (j *BackupJob) CompressionRatio() float64 {
	return CompressionRatio(j.UncompressedSize, j.CompressedSize)
}

// Duration returns how long the job ran, zero while it has not finished
func (j *BackupJob) Duration() time.Duration {
	return jobDuration(j.StartedAt, j.CompletedAt)
}

// RestoreJob is one ledger row describing a replay of an archive
type RestoreJob struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	SourcePath       string     `json:"source_path"`
	SourceSize       int64      `json:"source_size"`
	ClearExisting    bool       `json:"clear_existing"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStep      string     `json:"current_step,omitempty"`
	TotalRecords     int        `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	SuccessCount     int        `json:"success_count"`
	FailedCount      int        `json:"failed_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the job ran, zero while it has not finished
func (j *RestoreJob) Duration() time.Duration {
	return jobDuration(j.StartedAt, j.CompletedAt)
}

func jobDuration(started, completed *time.Time) time.Duration {
	if started == nil || completed == nil {
		return 0
	}
	return completed.Sub(*started)
}

// JobStatusReport is the uniform view returned by GetStatus
type JobStatusReport struct {
	ID               string        `json:"id" yaml:"id"`
	Kind             JobKind       `json:"kind" yaml:"kind"`
	Name             string        `json:"name" yaml:"name"`
	Status           JobStatus     `json:"status" yaml:"status"`
	Progress         int           `json:"progress" yaml:"progress"`
	CurrentStep      string        `json:"current_step,omitempty" yaml:"current_step,omitempty"`
	TotalRecords     int           `json:"total_records,omitempty" yaml:"total_records,omitempty"`
	ProcessedRecords int           `json:"processed_records,omitempty" yaml:"processed_records,omitempty"`
	SuccessCount     int           `json:"success_count,omitempty" yaml:"success_count,omitempty"`
	FailedCount      int           `json:"failed_count,omitempty" yaml:"failed_count,omitempty"`
	ArchivePath      string        `json:"archive_path,omitempty" yaml:"archive_path,omitempty"`
	SourceSize       int64         `json:"source_size,omitempty" yaml:"source_size,omitempty"`
	UncompressedSize int64         `json:"uncompressed_size,omitempty" yaml:"uncompressed_size,omitempty"`
	CompressedSize   int64         `json:"compressed_size,omitempty" yaml:"compressed_size,omitempty"`
	CompressionRatio float64       `json:"compression_ratio,omitempty" yaml:"compression_ratio,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at" yaml:"created_at"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
}

// Frequency is how often a RetentionSchedule fires
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// RetentionSchedule describes a recurring backup with its own retention cap
type RetentionSchedule struct {
	Name             string     `mapstructure:"name" yaml:"name" json:"name"`
	Frequency        Frequency  `mapstructure:"frequency" yaml:"frequency" json:"frequency"`
	TimeOfDay        string     `mapstructure:"time_of_day" yaml:"time_of_day" json:"time_of_day"`
	Domains          []string   `mapstructure:"domains" yaml:"domains" json:"domains"`
	MaxBackupsToKeep int        `mapstructure:"max_backups_to_keep" yaml:"max_backups_to_keep" json:"max_backups_to_keep"`
	IsActive         bool       `mapstructure:"is_active" yaml:"is_active" json:"is_active"`
	LastRun          *time.Time `mapstructure:"-" yaml:"-" json:"last_run,omitempty"`
	NextRun          *time.Time `mapstructure:"-" yaml:"-" json:"next_run,omitempty"`
}

// BackupRequest is the input to Engine.CreateBackup
type BackupRequest struct {
	Name        string
	Domains     []string
	Description string
	Owner       string
}

// RestoreRequest is the input to Engine.RestoreFromFile
type RestoreRequest struct {
	Name          string
	ClearExisting bool
	Description   string
	Owner         string
}

// BackupFilter narrows ListBackups results
type BackupFilter struct {
	Status *JobStatus
	Name   string
	Limit  int
}

// CompressionType names an archive compression codec
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType names an archive mirror backend
type StorageProviderType string

const (
	StorageProviderNone  StorageProviderType = "NONE"
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// StorageConfig defines the mirror store configuration
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    *LocalConfig        `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config           `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig        `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig          `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// LocalConfig for a second local directory (e.g. a network mount)
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}
