// Package cache memoises oid to local id lookups.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"andstatus/internal/database"
)

// DefaultTTL is how long a resolved id stays cached.
const DefaultTTL = 10 * time.Minute

// Key identifies one cached lookup.
type Key struct {
	Kind     database.OidKind
	OriginID int64
	Oid      string
}

func (k Key) String() string {
	return fmt.Sprintf("oid:%s:%d:%s", k.Kind, k.OriginID, k.Oid)
}

// IDCache stores positive lookup results only. A miss is never cached, so
// a row inserted later is always found through the store.
type IDCache interface {
	Get(ctx context.Context, key Key) (int64, bool)
	Set(ctx context.Context, key Key, id int64)
	Delete(ctx context.Context, key Key)
}

type memoryEntry struct {
	id      int64
	expires time.Time
}

// MemoryCache is a process-local IDCache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[Key]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an empty cache. A zero ttl means DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[Key]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (int64, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return 0, false
	}
	return e.id, true
}

func (c *MemoryCache) Set(_ context.Context, key Key, id int64) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{id: id, expires: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Delete(_ context.Context, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
