package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIO struct {
	MinIOClient *minio.Client
}

func NewMinIOConnection(endpoint, accessKey, secretKey, region string, useSSL bool) (*MinIO, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("MinIO client initialised", "endpoint", endpoint)
	return &MinIO{MinIOClient: minioClient}, nil
}

func (m *MinIO) EnsureBucket(ctx context.Context, bucketName string) error {
	if m.MinIOClient == nil {
		return errors.New("MinIO client is not initialized")
	}

	exists, err := m.MinIOClient.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}

	if !exists {
		err = m.MinIOClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return err
		}
		slog.Info("Bucket created", "bucket", bucketName)
	}

	return nil
}

// PutObject uploads r with unknown length; the client switches to multipart as needed.
func (m *MinIO) PutObject(ctx context.Context, bucketName, objectKey string, r io.Reader) (int64, error) {
	if m.MinIOClient == nil {
		return 0, errors.New("MinIO client is not initialized")
	}

	info, err := m.MinIOClient.PutObject(ctx, bucketName, objectKey, r, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		slog.Warn("Failed to upload object", "key", objectKey, "err", err)
		return 0, err
	}

	slog.Debug("Object uploaded", "key", objectKey, "size", info.Size)
	return info.Size, nil
}

// GetObject returns the object and its size. A missing key yields ErrNotExist.
func (m *MinIO) GetObject(ctx context.Context, bucketName, objectKey string) (io.ReadCloser, int64, error) {
	if m.MinIOClient == nil {
		return nil, 0, errors.New("MinIO client is not initialized")
	}

	stat, err := m.MinIOClient.StatObject(ctx, bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrNotExist
		}
		return nil, 0, err
	}

	obj, err := m.MinIOClient.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	return obj, stat.Size, nil
}

func (m *MinIO) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	if m.MinIOClient == nil {
		return false, errors.New("MinIO client is not initialized")
	}

	_, err := m.MinIOClient.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (m *MinIO) SanitizeBucketName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, " ", "-")
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func (m *MinIO) HealthCheck(ctx context.Context) error {
	if m.MinIOClient == nil {
		return errors.New("MinIO client not initialized")
	}
	_, err := m.MinIOClient.ListBuckets(ctx)
	return err
}

func (m *MinIO) DeleteObject(ctx context.Context, bucketName, objectKey string) error {
	if m.MinIOClient == nil {
		return errors.New("MinIO client not initialized")
	}
	err := m.MinIOClient.RemoveObject(ctx, bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		slog.Warn("Failed to delete object", "bucket", bucketName, "key", objectKey, "err", err)
		return err
	}

	slog.Debug("Object deleted", "bucket", bucketName, "key", objectKey)
	return nil
}

// S3 caches files as objects in one bucket.
type S3 struct {
	client *MinIO
	bucket string
}

func NewS3(ctx context.Context, client *MinIO, bucket string) (*S3, error) {
	bucket = client.SanitizeBucketName(bucket)
	if bucket == "" {
		return nil, errors.New("bucket name must not be empty")
	}
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	return s.client.GetObject(ctx, s.bucket, name)
}

func (s *S3) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, r)
	return err
}

func (s *S3) Delete(ctx context.Context, name string) error {
	return s.client.DeleteObject(ctx, s.bucket, name)
}
