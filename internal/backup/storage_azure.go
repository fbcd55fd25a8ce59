package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureArchiveStore mirrors archives to Azure Blob Storage
type AzureArchiveStore struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureArchiveStore creates a new AzureArchiveStore instance
func NewAzureArchiveStore(config *AzureConfig) (*AzureArchiveStore, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureArchiveStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        config.Prefix,
	}, nil
}

func (as *AzureArchiveStore) Provider() StorageProviderType { return StorageProviderAzure }

func (as *AzureArchiveStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	key := objectKey(as.prefix, name)
	blobURL := as.containerURL.NewBlockBlobURL(key)

	_, err := azblob.UploadStreamToBlockBlob(ctx, r, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 4,
		Metadata:   azblob.Metadata{"archivename": name},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload archive %s to Azure", name), err)
	}
	return fmt.Sprintf("azure://%s/%s", as.containerName, key), nil
}

func (as *AzureArchiveStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	blobURL := as.containerURL.NewBlockBlobURL(objectKey(as.prefix, name))

	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("archive %s not found in Azure", name), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download archive %s from Azure", name), err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20}), nil
}

func (as *AzureArchiveStore) Delete(ctx context.Context, name string) error {
	blobURL := as.containerURL.NewBlockBlobURL(objectKey(as.prefix, name))

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return NewStorageError(fmt.Sprintf("failed to delete archive %s from Azure", name), err)
	}
	return nil
}

func (as *AzureArchiveStore) ParseLocation(location string) (string, bool) {
	return parseObjectLocation(location, "azure", as.containerName, as.prefix)
}

func isAzureNotFound(err error) bool {
	var serr azblob.StorageError
	return errors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}
