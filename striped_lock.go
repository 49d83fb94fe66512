package polystore

import (
	"hash/fnv"
	"sync"
)

// StripedLocks serialises work per key without one global mutex. Keys are
// hashed onto a fixed set of RWMutex stripes: the same key always lands on
// the same stripe, different keys usually do not.
//
// The filesystem object backend uses it so that a document rewrite and a
// concurrent read of the same key never observe a half-renamed file.
type StripedLocks struct {
	stripes []sync.RWMutex
}

// NewStripedLocks creates n stripes. n <= 0 uses DefaultFilesystemStripes.
func NewStripedLocks(n int) *StripedLocks {
	if n <= 0 {
		n = DefaultFilesystemStripes
	}
	return &StripedLocks{stripes: make([]sync.RWMutex, n)}
}

// Lock takes the key's stripe exclusively and returns the release func.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (sl *StripedLocks) Lock(key string) func() {
	mu := sl.stripe(key)
	mu.Lock()
	return mu.Unlock
}

// RLock takes the key's stripe shared and returns the release func
func (sl *StripedLocks) RLock(key string) func() {
	mu := sl.stripe(key)
	mu.RLock()
	return mu.RUnlock
}

// Len reports the number of stripes
func (sl *StripedLocks) Len() int {
	return len(sl.stripes)
}

func (sl *StripedLocks) stripe(key string) *sync.RWMutex {
	return &sl.stripes[sl.index(key)]
}

// index hashes key with FNV-1a
func (sl *StripedLocks) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(sl.stripes)))
}
