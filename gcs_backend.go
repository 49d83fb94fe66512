package polystore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend implements ObjectBackend using Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// GCSConfig contains GCS-specific configuration
type GCSConfig struct {
	Bucket          string
	CredentialsFile string // Path to service account JSON file (optional, uses ADC if empty)
}

// NewGCSBackend creates a new GCS backend
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	writer := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *GCSBackend) ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	batch := make([]string, 0, DefaultListPaginatedSize)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}

		batch = append(batch, attrs.Name)
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

func (b *GCSBackend) Ping(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	return err
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
