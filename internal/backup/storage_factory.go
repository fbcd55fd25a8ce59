package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ArchiveStore mirrors finished archives to a second location. Object names
// are archive file names; the store applies its own prefix.
type ArchiveStore interface {
	Provider() StorageProviderType
	// Put uploads r under name and returns the object's location URI
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	// Fetch opens the object stored under name
	Fetch(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the object stored under name. A missing object is not an error.
	Delete(ctx context.Context, name string) error
	// ParseLocation returns the object name for a location URI produced by Put
	ParseLocation(location string) (string, bool)
}

// RemoteSchemes are the location prefixes that name a mirrored archive
var RemoteSchemes = []string{"s3://", "gs://", "azure://"}

// IsRemoteLocation reports whether path names an object store location
func IsRemoteLocation(path string) bool {
	for _, scheme := range RemoteSchemes {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// StorageProviderFactory creates archive stores based on configuration
type StorageProviderFactory struct{}

// NewStorageProviderFactory creates a new storage provider factory
func NewStorageProviderFactory() *StorageProviderFactory {
	return &StorageProviderFactory{}
}

// CreateArchiveStore creates the mirror store for config. It returns nil and
// no error when no mirror is configured.
func (spf *StorageProviderFactory) CreateArchiveStore(ctx context.Context, config StorageConfig) (ArchiveStore, error) {
	if config.Provider == "" || config.Provider == StorageProviderNone {
		return nil, nil
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalArchiveStore(config.Local)
	case StorageProviderS3:
		return NewS3ArchiveStore(config.S3)
	case StorageProviderAzure:
		return NewAzureArchiveStore(config.Azure)
	case StorageProviderGCS:
		return NewGCSArchiveStore(ctx, config.GCS)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns a list of supported storage provider types
func (spf *StorageProviderFactory) GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}

// SetDefaults fills in provider defaults
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderNone
	}
	sc.Provider = StorageProviderType(strings.ToUpper(string(sc.Provider)))

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if sc.Local.Permissions == 0 {
			sc.Local.Permissions = 0755
		}
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		if sc.S3.Region == "" {
			sc.S3.Region = "us-east-1"
		}
	}
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var problems Problems

	switch sc.Provider {
	case "", StorageProviderNone:
		return nil
	case StorageProviderLocal:
		if sc.Local == nil || sc.Local.BasePath == "" {
			problems.Add("local.base_path", "base path is required for local storage", nil)
		}
	case StorageProviderS3:
		if sc.S3 == nil || sc.S3.Bucket == "" {
			problems.Add("s3.bucket", "S3 bucket name is required", nil)
		} else if (sc.S3.AccessKey == "") != (sc.S3.SecretKey == "") {
			problems.Add("s3.secret_key", "S3 access key and secret key must be set together", nil)
		}
	case StorageProviderAzure:
		if sc.Azure == nil {
			problems.Add("azure", "Azure storage configuration is required", nil)
			break
		}
		if sc.Azure.AccountName == "" {
			problems.Add("azure.account_name", "Azure account name is required", nil)
		}
		if sc.Azure.AccountKey == "" {
			problems.Add("azure.account_key", "Azure account key is required", nil)
		}
		if sc.Azure.ContainerName == "" {
			problems.Add("azure.container_name", "Azure container name is required", nil)
		}
	case StorageProviderGCS:
		if sc.GCS == nil || sc.GCS.Bucket == "" {
			problems.Add("gcs.bucket", "GCS bucket name is required", nil)
		}
	default:
		problems.Add("provider", "invalid storage provider type", sc.Provider)
	}

	return problems.Err()
}

// objectKey joins a store prefix and an archive name
func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// parseObjectLocation splits scheme://container/prefix/name and returns name
// when scheme, container and prefix all match
func parseObjectLocation(location, scheme, container, prefix string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != scheme || u.Host != container {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		if !strings.HasPrefix(key, p+"/") {
			return "", false
		}
		key = strings.TrimPrefix(key, p+"/")
	}
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
