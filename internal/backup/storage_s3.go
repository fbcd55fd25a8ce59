package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3ArchiveStore mirrors archives to Amazon S3
type S3ArchiveStore struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3ArchiveStore creates a new S3ArchiveStore instance. Without static
// keys the default AWS credential chain is used.
func NewS3ArchiveStore(config *S3Config) (*S3ArchiveStore, error) {
	if config == nil || config.Bucket == "" {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	client := s3.New(sess)
	return &S3ArchiveStore{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}, nil
}

// newS3ArchiveStoreWithClient wires an existing client, used by tests
func newS3ArchiveStoreWithClient(client s3iface.S3API, bucket, prefix string) *S3ArchiveStore {
	return &S3ArchiveStore{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s3s *S3ArchiveStore) Provider() StorageProviderType { return StorageProviderS3 }

// Put uploads r in multipart chunks when it is large
func (s3s *S3ArchiveStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	key := objectKey(s3s.prefix, name)
	_, err := s3s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s3s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"archive-name": aws.String(name),
		},
	})
	if err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to upload archive %s to S3", name), err)
	}
	return fmt.Sprintf("s3://%s/%s", s3s.bucket, key), nil
}

func (s3s *S3ArchiveStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	result, err := s3s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(objectKey(s3s.prefix, name)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, NewNotFoundError(fmt.Sprintf("archive %s not found in S3", name), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download archive %s from S3", name), err)
	}
	return result.Body, nil
}

// Delete removes the object; S3 reports success for missing keys
func (s3s *S3ArchiveStore) Delete(ctx context.Context, name string) error {
	_, err := s3s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3s.bucket),
		Key:    aws.String(objectKey(s3s.prefix, name)),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete archive %s from S3", name), err)
	}
	return nil
}

func (s3s *S3ArchiveStore) ParseLocation(location string) (string, bool) {
	return parseObjectLocation(location, "s3", s3s.bucket, s3s.prefix)
}

// HealthCheck verifies that the bucket is reachable
func (s3s *S3ArchiveStore) HealthCheck(ctx context.Context) error {
	_, err := s3s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3s.bucket),
	})
	if err != nil {
		return NewStorageError("S3 bucket not accessible", err)
	}
	return nil
}
