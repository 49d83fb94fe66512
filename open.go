package polystore

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
)

// Open builds a Router from cfg: SQL backend, object backend and document
// collection, directory and cache. Everything it opens is closed by
// Router.Close, or immediately if Open fails.
func Open(ctx context.Context, cfg Config, logger Logger, metrics Metrics) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}

	var opened []io.Closer
	fail := func(err error) (*Router, error) {
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i].Close()
		}
		return nil, err
	}

	sqlBackend, err := OpenSQLBackend(ctx, cfg.SQL)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, sqlBackend)

	objects, err := NewObjectBackend(ctx, cfg.Documents)
	if err != nil {
		return fail(err)
	}
	docs := NewDocumentStore(objects, cfg.Documents.Collection, logger)
	opened = append(opened, docs)

	var client *redis.Client
	if cfg.Directory.Backend == StoreRedis || cfg.Cache.Backend == StoreRedis {
		client = redis.NewClient(cfg.Redis.Options())
		opened = append(opened, client)
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(wrapBackend("redis", "open", err))
		}
	}

	var directory Directory
	switch cfg.Directory.Backend {
	case StoreRedis:
		directory = NewRedisDirectory(client, cfg.Directory.KeyPrefix)
	case StoreDocuments:
		directory = NewObjectDirectory(objects, cfg.Directory.KeyPrefix)
	case StoreSQL:
		directory, err = NewSQLDirectory(ctx, sqlBackend)
		if err != nil {
			return fail(err)
		}
	default:
		directory = NewMemoryDirectory()
	}

	var cache Cache
	switch cfg.Cache.Backend {
	case StoreRedis:
		cache = NewRedisCache(client, cfg.Directory.KeyPrefix)
	case StoreMemory:
		cache = NewMemoryCache()
	default:
		cache = NoOpCache{}
	}

	deps := Dependencies{
		SQL:       sqlBackend,
		Documents: docs,
		Directory: directory,
		Cache:     cache,
		Logger:    logger,
		Metrics:   metrics,
		CacheTTL:  cfg.Cache.TTL,
		Timeouts:  cfg.Timeouts,
		Breaker:   cfg.Breaker,
	}
	if client != nil {
		deps.Lock = NewDistributedLock(client, cfg.Directory.KeyPrefix)
		deps.Closers = []io.Closer{client}
	}

	router, err := NewRouter(deps)
	if err != nil {
		return fail(err)
	}
	logger.Info("router opened",
		"sql_driver", cfg.SQL.Driver,
		"documents", cfg.Documents.Backend,
		"collection", docs.Collection(),
		"directory", cfg.Directory.Backend,
		"cache", cfg.Cache.Backend,
	)
	return router, nil
}
