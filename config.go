package polystore

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for polystore operations
const (
	DefaultCollection       = "json_documents"
	DefaultCacheTTL         = 5 * time.Minute
	DefaultBackendTimeout   = 10 * time.Second
	DefaultDirectoryTimeout = 3 * time.Second
	DefaultListLimit        = 50
	MaxListLimit            = 1000
	DefaultKeyPrefix        = "polystore"

	// Circuit breaker
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerResetTimeout = 30 * time.Second

	// File backend configuration
	DefaultFilePermissions   = 0644
	DefaultDirPermissions    = 0755
	DefaultListPaginatedSize = 100
	DefaultFilesystemStripes = 32
)

// SQL dialects
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Object backends behind the NoSQL collection
const (
	ObjectBackendFilesystem = "filesystem"
	ObjectBackendS3         = "s3"
	ObjectBackendMinIO      = "minio"
	ObjectBackendGCS        = "gcs"
)

// Directory and cache backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
	StoreNone   = "none"

	// StoreDocuments keeps the directory on the document object backend
	StoreDocuments = "documents"
)

// Config is the complete configuration of a Router
type Config struct {
	SQL       SQLConfig       `yaml:"sql"`
	Documents DocumentsConfig `yaml:"documents"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Directory DirectoryConfig `yaml:"directory"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Log       LogConfig       `yaml:"log"`
}

// SQLConfig selects the relational backend
type SQLConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "sqlite"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DocumentsConfig selects the object backend holding the NoSQL collection
type DocumentsConfig struct {
	Backend         string `yaml:"backend"` // filesystem, s3, minio, gcs
	Collection      string `yaml:"collection"`
	Path            string `yaml:"path"` // filesystem base directory
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	CredentialsFile string `yaml:"credentials_file"` // GCS only, ADC when empty
	EncryptionKey   string `yaml:"encryption_key"`   // 64 hex chars enables AES-256-GCM
}

// RedisConfig holds the connection settings shared by directory and cache
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// CacheConfig configures the read-through cache
type CacheConfig struct {
	Backend string        `yaml:"backend"` // memory, redis, none
	TTL     time.Duration `yaml:"ttl"`
}

// DirectoryConfig configures the directory store
type DirectoryConfig struct {
	Backend   string `yaml:"backend"` // documents, sql, redis, memory
	KeyPrefix string `yaml:"key_prefix"`
}

// TimeoutConfig bounds every backend call
type TimeoutConfig struct {
	Backend   time.Duration `yaml:"backend"`
	Directory time.Duration `yaml:"directory"`
}

// BreakerConfig configures the per-backend circuit breakers
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns an embedded setup: SQLite file for the
// per-document tables, filesystem documents with the directory stored
// beside them, in-memory cache. The directory stays off the SQL database
// so a store that falls back to NoSQL is still indexed.
func DefaultConfig() Config {
	return Config{
		SQL: SQLConfig{
			Driver:       DriverSQLite,
			DSN:          "polystore.db",
			MaxOpenConns: 10,
		},
		Documents: DocumentsConfig{
			Backend:    ObjectBackendFilesystem,
			Collection: DefaultCollection,
			Path:       "data",
			Region:     "us-east-1",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Backend: StoreMemory,
			TTL:     DefaultCacheTTL,
		},
		Directory: DirectoryConfig{
			Backend:   StoreDocuments,
			KeyPrefix: DefaultKeyPrefix,
		},
		Timeouts: TimeoutConfig{
			Backend:   DefaultBackendTimeout,
			Directory: DefaultDirectoryTimeout,
		},
		Breaker: BreakerConfig{
			MaxFailures:  DefaultBreakerMaxFailures,
			ResetTimeout: DefaultBreakerResetTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.SQL.Driver, "POLYSTORE_SQL_DRIVER")
	setString(&c.SQL.DSN, "POLYSTORE_SQL_DSN")
	setString(&c.Documents.Backend, "POLYSTORE_DOCUMENTS_BACKEND")
	setString(&c.Documents.Collection, "POLYSTORE_DOCUMENTS_COLLECTION")
	setString(&c.Documents.Path, "POLYSTORE_DOCUMENTS_PATH")
	setString(&c.Documents.Bucket, "POLYSTORE_DOCUMENTS_BUCKET")
	setString(&c.Documents.Region, "POLYSTORE_DOCUMENTS_REGION")
	setString(&c.Documents.Endpoint, "POLYSTORE_DOCUMENTS_ENDPOINT")
	setString(&c.Documents.AccessKey, "POLYSTORE_DOCUMENTS_ACCESS_KEY")
	setString(&c.Documents.SecretKey, "POLYSTORE_DOCUMENTS_SECRET_KEY")
	setString(&c.Documents.EncryptionKey, "POLYSTORE_ENCRYPTION_KEY")
	setString(&c.Cache.Backend, "POLYSTORE_CACHE_BACKEND")
	setString(&c.Directory.Backend, "POLYSTORE_DIRECTORY_BACKEND")
	setString(&c.Log.Level, "POLYSTORE_LOG_LEVEL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	if v := os.Getenv("POLYSTORE_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "POLYSTORE_CACHE_TTL",
				"value":  v,
				"reason": "not a duration",
			})
		}
		c.Cache.TTL = ttl
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

func invalid(field string, value interface{}, reason string) error {
	return WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  field,
		"value":  value,
		"reason": reason,
	})
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	switch c.SQL.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return invalid("sql.driver", c.SQL.Driver, "must be postgres or sqlite")
	}
	if c.SQL.DSN == "" {
		return invalid("sql.dsn", c.SQL.DSN, "is required")
	}
	if c.SQL.MaxOpenConns < 0 {
		return invalid("sql.max_open_conns", c.SQL.MaxOpenConns, "must be non-negative")
	}

	if err := c.Documents.Validate(); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case StoreMemory, StoreRedis, StoreNone:
	default:
		return invalid("cache.backend", c.Cache.Backend, "must be memory, redis or none")
	}
	if c.Cache.TTL <= 0 {
		return invalid("cache.ttl", c.Cache.TTL, "must be positive")
	}

	switch c.Directory.Backend {
	case StoreDocuments, StoreSQL, StoreMemory, StoreRedis:
	default:
		return invalid("directory.backend", c.Directory.Backend, "must be documents, sql, memory or redis")
	}
	if (c.Directory.Backend == StoreRedis || c.Cache.Backend == StoreRedis) && c.Redis.Addr == "" {
		return invalid("redis.addr", c.Redis.Addr, "is required when redis is used")
	}

	if c.Timeouts.Backend <= 0 {
		return invalid("timeouts.backend", c.Timeouts.Backend, "must be positive")
	}
	if c.Timeouts.Directory <= 0 {
		return invalid("timeouts.directory", c.Timeouts.Directory, "must be positive")
	}

	if c.Breaker.MaxFailures < 1 {
		return invalid("breaker.max_failures", c.Breaker.MaxFailures, "must be >= 1")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return invalid("breaker.reset_timeout", c.Breaker.ResetTimeout, "must be positive")
	}
	return nil
}

// Validate checks if the DocumentsConfig is valid
func (c DocumentsConfig) Validate() error {
	if c.Collection == "" {
		return invalid("documents.collection", c.Collection, "is required")
	}

	switch c.Backend {
	case ObjectBackendFilesystem:
		if c.Path == "" {
			return invalid("documents.path", c.Path, "filesystem backend requires a path")
		}
	case ObjectBackendS3:
		if c.Bucket == "" {
			return invalid("documents.bucket", c.Bucket, "bucket is required")
		}
		if c.Region == "" && c.Endpoint == "" {
			return invalid("documents.region", c.Region, "S3 backend requires either region or endpoint")
		}
	case ObjectBackendMinIO:
		if c.Bucket == "" || c.Endpoint == "" {
			return invalid("documents.endpoint", c.Endpoint, "MinIO backend requires endpoint and bucket")
		}
	case ObjectBackendGCS:
		if c.Bucket == "" {
			return invalid("documents.bucket", c.Bucket, "bucket is required")
		}
	default:
		return invalid("documents.backend", c.Backend, "unknown backend type")
	}

	if c.EncryptionKey != "" {
		if _, err := c.encryptionKey(); err != nil {
			return err
		}
	}
	return nil
}

func (c DocumentsConfig) encryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, invalid("documents.encryption_key", fmt.Sprintf("%d chars", len(c.EncryptionKey)), "must be 64 hex characters")
	}
	return key, nil
}
