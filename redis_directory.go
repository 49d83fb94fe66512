package polystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisDirectory keeps the directory in Redis.
//
// Layout (prefix defaults to "polystore"):
//   - <prefix>:dir:entry:<doc_id>              JSON DirectoryEntry
//   - <prefix>:dir:owner:<owner>               sorted set of doc ids
//   - <prefix>:dir:owner:<owner>:<backend>     same, one per backend
//
// Sorted set scores are creation times in unix microseconds, so ZREVRANGE
// yields newest first without touching the entries.
type RedisDirectory struct {
	redis      *redis.Client
	prefix     string
	ownsClient bool // If true, Close() will close the Redis client
}

// NewRedisDirectory creates a directory over client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisDirectory(client *redis.Client, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisDirectory{redis: client, prefix: prefix}
}

// NewRedisDirectoryWithOwnedClient creates a directory that closes client
// on Close.
func NewRedisDirectoryWithOwnedClient(client *redis.Client, prefix string) *RedisDirectory {
	d := NewRedisDirectory(client, prefix)
	d.ownsClient = true
	return d
}

func (d *RedisDirectory) entryKey(docID string) string {
	return fmt.Sprintf("%s:dir:entry:%s", d.prefix, docID)
}

func (d *RedisDirectory) ownerKey(ownerID string, backend BackendType) string {
	if backend == "" {
		return fmt.Sprintf("%s:dir:owner:%s", d.prefix, ownerID)
	}
	return fmt.Sprintf("%s:dir:owner:%s:%s", d.prefix, ownerID, backend)
}

func score(entry DirectoryEntry) float64 {
	return float64(entry.CreatedAt.UnixMicro())
}

// maxUpsertAttempts bounds WATCH retries under contention on one doc id
const maxUpsertAttempts = 5

// Upsert writes the entry and its owner set memberships in one MULTI/EXEC.
// Memberships of a previous entry under another owner or backend are
// removed in the same transaction; WATCH retries if the entry changes
// between the read and the write.
func (d *RedisDirectory) Upsert(ctx context.Context, entry DirectoryEntry) error {
	if entry.DocID == "" {
		return WithContext(ErrInvalidData, map[string]interface{}{"reason": "entry has no doc id"})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"doc_id": entry.DocID,
			"error":  err.Error(),
		})
	}

	key := d.entryKey(entry.DocID)
	member := redis.Z{Score: score(entry), Member: entry.DocID}
	txf := func(tx *redis.Tx) error {
		var prev DirectoryEntry
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			// An undecodable entry leaves nothing to clean up
			prev, _ = decodeEntry(entry.DocID, raw)
		case !errors.Is(err, redis.Nil):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev.OwnerID != "" && prev.OwnerID != entry.OwnerID {
				pipe.ZRem(ctx, d.ownerKey(prev.OwnerID, ""), entry.DocID)
			}
			if prev.OwnerID != "" && (prev.OwnerID != entry.OwnerID || prev.Backend != entry.Backend) {
				pipe.ZRem(ctx, d.ownerKey(prev.OwnerID, prev.Backend), entry.DocID)
			}
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, d.ownerKey(entry.OwnerID, ""), member)
			pipe.ZAdd(ctx, d.ownerKey(entry.OwnerID, entry.Backend), member)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		err = d.redis.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Get loads the entry of docID
func (d *RedisDirectory) Get(ctx context.Context, docID string) (DirectoryEntry, error) {
	data, err := d.redis.Get(ctx, d.entryKey(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DirectoryEntry{}, WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	if err != nil {
		return DirectoryEntry{}, err
	}
	return decodeEntry(docID, data)
}

func decodeEntry(docID string, data []byte) (DirectoryEntry, error) {
	var entry DirectoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return DirectoryEntry{}, WithContext(ErrInvalidData, map[string]interface{}{
			"doc_id": docID,
			"error":  err.Error(),
		})
	}
	return entry, nil
}

// Delete removes the entry and its owner set memberships
func (d *RedisDirectory) Delete(ctx context.Context, docID string) error {
	entry, err := d.Get(ctx, docID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil && !errors.Is(err, ErrInvalidData) {
		return err
	}

	_, err = d.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.entryKey(docID))
		if entry.OwnerID != "" {
			pipe.ZRem(ctx, d.ownerKey(entry.OwnerID, ""), docID)
			pipe.ZRem(ctx, d.ownerKey(entry.OwnerID, entry.Backend), docID)
		}
		return nil
	})
	return err
}

// Query reads the owner's sorted set newest first. Members whose entry has
// vanished are skipped, so a page may be refilled from further down the set.
func (d *RedisDirectory) Query(ctx context.Context, q DirectoryQuery) ([]DirectoryEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	setKey := d.ownerKey(q.OwnerID, q.Backend)

	var out []DirectoryEntry
	for start := int64(0); len(out) < limit; {
		stop := start + int64(limit-len(out)) - 1
		ids, err := d.redis.ZRevRange(ctx, setKey, start, stop).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		start = stop + 1

		entries, err := d.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// load fetches entries for ids in order, skipping missing ones
func (d *RedisDirectory) load(ctx context.Context, ids []string) ([]DirectoryEntry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = d.entryKey(id)
	}
	values, err := d.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]DirectoryEntry, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry(ids[i], []byte(s))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Scan walks every entry with SCAN. Order is unspecified.
func (d *RedisDirectory) Scan(ctx context.Context, fn func(DirectoryEntry) error) error {
	pattern := d.prefix + ":dir:entry:*"
	iter := d.redis.Scan(ctx, 0, pattern, int64(DefaultListPaginatedSize)).Iterator()

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values, err := d.redis.MGet(ctx, batch...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			entry, err := decodeEntry(batch[i], []byte(s))
			if err != nil {
				continue
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= DefaultListPaginatedSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

// Ping checks Redis connectivity
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.redis.Ping(ctx).Err()
}

// Close closes the Redis client if the directory owns it
func (d *RedisDirectory) Close() error {
	if d.ownsClient && d.redis != nil {
		return d.redis.Close()
	}
	return nil
}
