package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSArchiveStore mirrors archives to Google Cloud Storage
type GCSArchiveStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSArchiveStore creates a new GCSArchiveStore instance
func NewGCSArchiveStore(ctx context.Context, config *GCSConfig) (*GCSArchiveStore, error) {
	if config == nil || config.Bucket == "" {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	// without a credentials file the default chain (environment, metadata server) applies
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSArchiveStore{
		client:     client,
		bucketName: config.Bucket,
		prefix:     config.Prefix,
	}, nil
}

func (gs *GCSArchiveStore) Provider() StorageProviderType { return StorageProviderGCS }

func (gs *GCSArchiveStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	key := objectKey(gs.prefix, name)

	w := gs.client.Bucket(gs.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"archive-name": name}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", NewStorageError(fmt.Sprintf("failed to write archive %s to GCS", name), err)
	}
	if err := w.Close(); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload archive %s to GCS", name), err)
	}
	return fmt.Sprintf("gs://%s/%s", gs.bucketName, key), nil
}

func (gs *GCSArchiveStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := gs.client.Bucket(gs.bucketName).Object(objectKey(gs.prefix, name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("archive %s not found in GCS", name), err)
	}
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download archive %s from GCS", name), err)
	}
	return reader, nil
}

func (gs *GCSArchiveStore) Delete(ctx context.Context, name string) error {
	err := gs.client.Bucket(gs.bucketName).Object(objectKey(gs.prefix, name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return NewStorageError(fmt.Sprintf("failed to delete archive %s from GCS", name), err)
	}
	return nil
}

func (gs *GCSArchiveStore) ParseLocation(location string) (string, bool) {
	return parseObjectLocation(location, "gs", gs.bucketName, gs.prefix)
}

// HealthCheck verifies that objects under the prefix can be listed
func (gs *GCSArchiveStore) HealthCheck(ctx context.Context) error {
	it := gs.client.Bucket(gs.bucketName).Objects(ctx, &storage.Query{Prefix: gs.prefix})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return NewStorageError("GCS bucket not accessible", err)
	}
	return nil
}

// Close releases the underlying client
func (gs *GCSArchiveStore) Close() error {
	return gs.client.Close()
}
