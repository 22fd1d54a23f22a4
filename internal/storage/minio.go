package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds connection settings for an S3-compatible content store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// MinioStore keeps blobs as objects in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put writes the blob as a new object.
func (s *MinioStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	locator := fmt.Sprintf("encrypted/%d-%s-%s", time.Now().UnixNano(), id.String()[:8], sanitize(name))
	_, err = s.client.PutObject(ctx, s.bucket, locator, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", err
	}
	return locator, nil
}

// Get reads the whole object at locator.
func (s *MinioStore) Get(ctx context.Context, locator string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete removes the object; MinIO treats removing a missing object as a no-op.
func (s *MinioStore) Delete(ctx context.Context, locator string) error {
	return s.client.RemoveObject(ctx, s.bucket, locator, minio.RemoveObjectOptions{})
}

var _ ContentStore = (*MinioStore)(nil)
