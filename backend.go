package polystore

import (
	"context"
	"fmt"
	"time"
)

// ObjectBackend is the key/value object store that holds the NoSQL
// collection. Implementations exist for the local filesystem, S3, MinIO
// and Google Cloud Storage.
type ObjectBackend interface {
	// Object operations. Get and Delete return ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// ListPaginated streams keys with the given prefix in batches
	ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// NewObjectBackend builds the object backend described by cfg, wrapped in
// an EncryptionBackend when an encryption key is configured.
func NewObjectBackend(ctx context.Context, cfg DocumentsConfig) (ObjectBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend ObjectBackend
		err     error
	)
	switch cfg.Backend {
	case ObjectBackendFilesystem:
		backend, err = NewFilesystemBackend(cfg.Path)
	case ObjectBackendS3:
		backend, err = NewS3BackendFromConfig(ctx, cfg)
	case ObjectBackendMinIO:
		backend, err = NewMinIOBackend(ctx, MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
		})
	case ObjectBackendGCS:
		backend, err = NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown object backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EncryptionKey == "" {
		return backend, nil
	}
	key, err := cfg.encryptionKey()
	if err != nil {
		backend.Close()
		return nil, err
	}
	encrypted, err := NewEncryptionBackend(backend, key)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return encrypted, nil
}

// backendGuard bounds and instruments calls into one storage backend:
// a per-call timeout, the backend's circuit breaker, op/error/latency
// metrics and classification of raw driver errors.
type backendGuard struct {
	name    string
	timeout time.Duration
	breaker *CircuitBreaker
	metrics Metrics
}

func newBackendGuard(name string, timeout time.Duration, breaker BreakerConfig, metrics Metrics, logger Logger) *backendGuard {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	cb := NewCircuitBreaker(name, breaker.MaxFailures, breaker.ResetTimeout).
		WithStateChangeCallback(func(name string, from, to BreakerState) {
			logger.Warn("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		})
	return &backendGuard{name: name, timeout: timeout, breaker: cb, metrics: metrics}
}

func (g *backendGuard) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	name := g.name
	g.metrics.Increment(MetricBackendOps, "operation", op, "backend", name)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapBackend(name, op, fn(ctx))
	})
	g.metrics.Timing(MetricBackendLatency, time.Since(start), "operation", op, "backend", name)
	if err != nil && IsBackendUnavailable(err) {
		g.metrics.Increment(MetricBackendErrors, "operation", op, "backend", name)
	}
	return err
}
