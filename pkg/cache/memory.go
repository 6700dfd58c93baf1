package cache

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps entries in process memory. Entries are never evicted.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[Key]Entry)}
}

// Get returns a copy of the entry stored for key.
func (b *MemoryBackend) Get(_ context.Context, key Key) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Put upserts a copy of entry.
func (b *MemoryBackend) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Key] = *entry
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
