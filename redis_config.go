package polystore

import (
	"github.com/redis/go-redis/v9"
)

// RedisOptions returns redis.Options populated from standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// For Redis Cluster, Sentinel or custom TLS construct redis.Options directly
// and pass the client to NewRedisDirectory / NewRedisCache.
func RedisOptions() *redis.Options {
	cfg := RedisConfig{Addr: "localhost:6379"}
	setString(&cfg.Addr, "REDIS_ADDR")
	setString(&cfg.Password, "REDIS_PASSWORD")
	cfg.DB = getEnvAsInt("REDIS_DB", 0)
	return cfg.Options()
}

// Options converts the configuration into redis.Options. Zero pool
// settings keep the go-redis defaults.
func (c RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		opts.MinIdleConns = c.MinIdleConns
	}
	return opts
}
