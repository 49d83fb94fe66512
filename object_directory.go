package polystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path"
)

// ObjectDirectory keeps the directory as objects on the ObjectBackend that
// holds the NoSQL collection, so it stays writable while the SQL database
// is down and a fallback store still gets its entry.
//
// Layout (prefix defaults to "polystore"):
//   - <prefix>/directory/entries/<doc_id>                 JSON DirectoryEntry
//   - <prefix>/directory/owners/<owner>/<doc_id>          same JSON
//
// Owner ids are base64url encoded in keys. Keys carry no .json suffix, so
// a collection sharing the prefix never reads them as documents.
//
// Query reads every entry of the owner before sorting. Owners with many
// thousands of documents are better served by SQLDirectory or
// RedisDirectory.
type ObjectDirectory struct {
	backend ObjectBackend
	prefix  string
}

// NewObjectDirectory creates a directory on backend. An empty prefix uses
// DefaultKeyPrefix. The backend stays owned by the caller.
func NewObjectDirectory(backend ObjectBackend, prefix string) *ObjectDirectory {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &ObjectDirectory{backend: backend, prefix: prefix}
}

func (d *ObjectDirectory) entryKey(docID string) string {
	return path.Join(d.prefix, "directory", "entries", docID)
}

func (d *ObjectDirectory) ownerPrefix(ownerID string) string {
	return path.Join(d.prefix, "directory", "owners", base64.RawURLEncoding.EncodeToString([]byte(ownerID))) + "/"
}

func (d *ObjectDirectory) ownerKey(ownerID, docID string) string {
	return d.ownerPrefix(ownerID) + docID
}

// Upsert writes the owner copy first and the entry last, so Get never sees
// an entry that Query cannot list.
func (d *ObjectDirectory) Upsert(ctx context.Context, entry DirectoryEntry) error {
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

	prev, err := d.Get(ctx, entry.DocID)
	switch {
	case err == nil && prev.OwnerID != entry.OwnerID:
		if err := d.backend.Delete(ctx, d.ownerKey(prev.OwnerID, prev.DocID)); err != nil && !IsNotFound(err) {
			return err
		}
	case err != nil && !IsNotFound(err) && !IsPermanent(err):
		return err
	}

	if err := d.backend.Put(ctx, d.ownerKey(entry.OwnerID, entry.DocID), data); err != nil {
		return err
	}
	return d.backend.Put(ctx, d.entryKey(entry.DocID), data)
}

// Get loads the entry of docID
func (d *ObjectDirectory) Get(ctx context.Context, docID string) (DirectoryEntry, error) {
	return d.read(ctx, d.entryKey(docID), docID)
}

func (d *ObjectDirectory) read(ctx context.Context, key, docID string) (DirectoryEntry, error) {
	data, err := d.backend.Get(ctx, key)
	if IsNotFound(err) {
		return DirectoryEntry{}, WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	if err != nil {
		return DirectoryEntry{}, err
	}
	return decodeEntry(docID, data)
}

// Delete removes the owner copy and then the entry
func (d *ObjectDirectory) Delete(ctx context.Context, docID string) error {
	entry, err := d.Get(ctx, docID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil && !IsPermanent(err) {
		return err
	}

	if entry.OwnerID != "" {
		if err := d.backend.Delete(ctx, d.ownerKey(entry.OwnerID, docID)); err != nil && !IsNotFound(err) {
			return err
		}
	}
	if err := d.backend.Delete(ctx, d.entryKey(docID)); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Query lists the owner's entries newest first
func (d *ObjectDirectory) Query(ctx context.Context, q DirectoryQuery) ([]DirectoryEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var out []DirectoryEntry
	err := d.backend.ListPaginated(ctx, d.ownerPrefix(q.OwnerID), func(keys []string) error {
		for _, key := range keys {
			entry, err := d.read(ctx, key, path.Base(key))
			if err != nil {
				// Removed since listing, or unreadable
				if IsNotFound(err) || IsPermanent(err) {
					continue
				}
				return err
			}
			if q.Backend != "" && entry.Backend != q.Backend {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	newestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Scan walks every entry. Order is unspecified.
func (d *ObjectDirectory) Scan(ctx context.Context, fn func(DirectoryEntry) error) error {
	return d.backend.ListPaginated(ctx, path.Join(d.prefix, "directory", "entries")+"/", func(keys []string) error {
		for _, key := range keys {
			entry, err := d.read(ctx, key, path.Base(key))
			if err != nil {
				if IsNotFound(err) || IsPermanent(err) {
					continue
				}
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping checks the object backend
func (d *ObjectDirectory) Ping(ctx context.Context) error {
	return d.backend.Ping(ctx)
}

// Close is a no-op; the object backend belongs to the document collection
func (d *ObjectDirectory) Close() error { return nil }
