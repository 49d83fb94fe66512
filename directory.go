package polystore

import (
	"context"
	"sort"
	"sync"
)

// DirectoryQuery selects an owner's entries, newest first
type DirectoryQuery struct {
	OwnerID string
	// Backend restricts results to one backend when set
	Backend BackendType
	Limit   int
}

// Directory maps doc ids to their physical location and owner. It is the
// only component that knows where a document lives.
type Directory interface {
	Upsert(ctx context.Context, entry DirectoryEntry) error
	// Get returns ErrNotFound for an unknown doc id
	Get(ctx context.Context, docID string) (DirectoryEntry, error)
	// Delete is a no-op for an unknown doc id
	Delete(ctx context.Context, docID string) error
	Query(ctx context.Context, q DirectoryQuery) ([]DirectoryEntry, error)
	Scan(ctx context.Context, fn func(DirectoryEntry) error) error
	Ping(ctx context.Context) error
	Close() error
}

// newestFirst orders entries by creation time, then doc id, descending.
// Doc ids embed their timestamp, so equal times still sort stably.
func newestFirst(entries []DirectoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.DocID > b.DocID
	})
}

// MemoryDirectory is an in-process Directory for embedded use and tests
type MemoryDirectory struct {
	mu      sync.RWMutex
	entries map[string]DirectoryEntry
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{entries: make(map[string]DirectoryEntry)}
}

func (d *MemoryDirectory) Upsert(ctx context.Context, entry DirectoryEntry) error {
	if entry.DocID == "" {
		return WithContext(ErrInvalidData, map[string]interface{}{"reason": "entry has no doc id"})
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[entry.DocID] = entry
	return nil
}

func (d *MemoryDirectory) Get(ctx context.Context, docID string) (DirectoryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[docID]
	if !ok {
		return DirectoryEntry{}, WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	return entry, nil
}

func (d *MemoryDirectory) Delete(ctx context.Context, docID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, docID)
	return nil
}

func (d *MemoryDirectory) Query(ctx context.Context, q DirectoryQuery) ([]DirectoryEntry, error) {
	d.mu.RLock()
	var out []DirectoryEntry
	for _, e := range d.entries {
		if e.OwnerID != q.OwnerID {
			continue
		}
		if q.Backend != "" && e.Backend != q.Backend {
			continue
		}
		out = append(out, e)
	}
	d.mu.RUnlock()

	newestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (d *MemoryDirectory) Scan(ctx context.Context, fn func(DirectoryEntry) error) error {
	d.mu.RLock()
	entries := make([]DirectoryEntry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	newestFirst(entries)
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *MemoryDirectory) Ping(ctx context.Context) error { return nil }

func (d *MemoryDirectory) Close() error { return nil }
