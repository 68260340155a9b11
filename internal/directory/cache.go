package directory

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by a Cache that holds no snapshot for a key.
var ErrCacheMiss = errors.New("directory snapshot not cached")

// Cache stores snapshots per admin session.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
	Set(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, sessionID)
		return nil, ErrCacheMiss
	}
	return e.snap, nil
}

func (c *MemoryCache) Set(ctx context.Context, sessionID string, snap *Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{snap: snap}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[sessionID] = e
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	return nil
}
