package backup

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  StorageConfig
		wantErr string
	}{
		{"no mirror", StorageConfig{}, ""},
		{"explicit none", StorageConfig{Provider: StorageProviderNone}, ""},
		{"local without path", StorageConfig{Provider: StorageProviderLocal}, "base path"},
		{"s3 without bucket", StorageConfig{Provider: StorageProviderS3, S3: &S3Config{}}, "bucket"},
		{"s3 half credentials", StorageConfig{Provider: StorageProviderS3, S3: &S3Config{Bucket: "b", AccessKey: "AKIA"}}, "together"},
		{"s3 default chain", StorageConfig{Provider: StorageProviderS3, S3: &S3Config{Bucket: "b"}}, ""},
		{"azure missing key", StorageConfig{Provider: StorageProviderAzure, Azure: &AzureConfig{AccountName: "acct", ContainerName: "c"}}, "account key"},
		{"gcs without bucket", StorageConfig{Provider: StorageProviderGCS, GCS: &GCSConfig{}}, "bucket"},
		{"unknown provider", StorageConfig{Provider: "FTP"}, "invalid storage provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			cfg.SetDefaults()
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStorageProviderFactory_CreateArchiveStore(t *testing.T) {
	factory := NewStorageProviderFactory()
	ctx := context.Background()

	store, err := factory.CreateArchiveStore(ctx, StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = factory.CreateArchiveStore(ctx, StorageConfig{Provider: "local", Local: &LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, StorageProviderLocal, store.Provider())

	_, err = factory.CreateArchiveStore(ctx, StorageConfig{Provider: StorageProviderAzure})
	assert.Error(t, err)

	assert.Len(t, factory.GetSupportedProviders(), 4)
}

func TestParseObjectLocation(t *testing.T) {
	tests := []struct {
		location string
		prefix   string
		want     string
		ok       bool
	}{
		{"s3://vault/archives/a.json.gz", "archives", "a.json.gz", true},
		{"s3://vault/archives/a.json.gz", "/archives/", "a.json.gz", true},
		{"s3://vault/a.json.gz", "", "a.json.gz", true},
		{"s3://other/archives/a.json.gz", "archives", "", false},
		{"gs://vault/archives/a.json.gz", "archives", "", false},
		{"s3://vault/elsewhere/a.json.gz", "archives", "", false},
		{"s3://vault/archives/", "archives", "", false},
		{"s3://vault/archives/nested/a.json.gz", "archives", "", false},
	}

	for _, tt := range tests {
		got, ok := parseObjectLocation(tt.location, "s3", "vault", tt.prefix)
		assert.Equal(t, tt.ok, ok, tt.location)
		assert.Equal(t, tt.want, got, tt.location)
	}

	assert.True(t, IsRemoteLocation("azure://container/a.json"))
	assert.False(t, IsRemoteLocation("/var/backups/a.json"))
}

// fakeS3 serves GetObject and DeleteObject from a map
type fakeS3 struct {
	s3iface.S3API
	objects map[string]string
	deleted []string
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3ArchiveStore_FetchAndDelete(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"vault/mirror/a.json.gz": "payload"}}
	store := newS3ArchiveStoreWithClient(client, "vault", "mirror")
	ctx := context.Background()

	rc, err := store.Fetch(ctx, "a.json.gz")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "payload", string(data))

	_, err = store.Fetch(ctx, "b.json.gz")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Delete(ctx, "a.json.gz"))
	assert.Equal(t, []string{"mirror/a.json.gz"}, client.deleted)

	name, ok := store.ParseLocation("s3://vault/mirror/a.json.gz")
	assert.True(t, ok)
	assert.Equal(t, "a.json.gz", name)
}
