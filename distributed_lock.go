package polystore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes maintenance work across processes sharing the same
// directory. Lock returns a release function that must be called.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// DistributedLock is a Locker over Redis SET NX. Each holder writes a
// unique token so release never deletes a lock taken over after expiry.
type DistributedLock struct {
	redis      *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// NewDistributedLock creates a lock manager using Redis. An empty prefix
// uses DefaultKeyPrefix.
func NewDistributedLock(client *redis.Client, keyPrefix string) *DistributedLock {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &DistributedLock{
		redis:      client,
		keyPrefix:  keyPrefix,
		defaultTTL: 30 * time.Second,
	}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *DistributedLock) key(name string) string {
	return l.keyPrefix + ":lock:" + name
}

// Lock acquires the named lock for ttl (zero uses 30s). A held lock
// returns ErrLockHeld.
//
// Example:
//
//	release, err := lock.Lock(ctx, "repair", 5*time.Minute)
//	if err != nil {
//	    return err
//	}
//	defer release()
func (l *DistributedLock) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	lockKey := l.key(name)
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, wrapBackend("redis", "lock", err)
	}
	if !ok {
		return nil, WithContext(ErrLockHeld, map[string]interface{}{
			"lock": name,
			"ttl":  ttl,
		})
	}

	release := func() {
		// The caller's context may already be cancelled
		releaseScript.Run(context.Background(), l.redis, []string{lockKey}, token)
	}
	return release, nil
}
