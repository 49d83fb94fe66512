package polystore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig contains MinIO-specific configuration
type MinIOConfig struct {
	Endpoint        string // e.g., "localhost:9000" or "minio.example.com"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
}

// MinIOBackend implements ObjectBackend with the native MinIO client
type MinIOBackend struct {
	client *minio.Client
	bucket string
}

// NewMinIOBackend connects to MinIO and makes sure the bucket exists
func NewMinIOBackend(ctx context.Context, cfg MinIOConfig) (*MinIOBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, wrapBackend(ObjectBackendMinIO, "bucket_exists", err)
	}
	if !exists {
		err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil && !isBucketOwned(err) {
			return nil, wrapBackend(ObjectBackendMinIO, "make_bucket", err)
		}
	}

	return &MinIOBackend{client: client, bucket: cfg.Bucket}, nil
}

// isBucketOwned tolerates a concurrent creator winning the MakeBucket race
func isBucketOwned(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
}

func isMinIONotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (b *MinIOBackend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	// GetObject is lazy; the first read surfaces a missing key
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinIONotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (b *MinIOBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (b *MinIOBackend) Delete(ctx context.Context, key string) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
}

func (b *MinIOBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *MinIOBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	batch := make([]string, 0, DefaultListPaginatedSize)
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		batch = append(batch, obj.Key)
		if len(batch) >= DefaultListPaginatedSize {
			if err := handler(batch); err != nil {
				return err
			}
			batch = make([]string, 0, DefaultListPaginatedSize)
		}
	}
	if len(batch) > 0 {
		return handler(batch)
	}
	return nil
}

func (b *MinIOBackend) Ping(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", b.bucket)
	}
	return nil
}

func (b *MinIOBackend) Close() error {
	return nil
}
