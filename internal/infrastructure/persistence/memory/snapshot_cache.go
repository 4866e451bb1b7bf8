package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
)

type cachedSnapshot struct {
	snap      leaderboard.Snapshot
	expiresAt time.Time
}

// SnapshotCache implements leaderboard.SnapshotCache with per-entry TTL.
type SnapshotCache struct {
	mu    sync.RWMutex
	items map[string]cachedSnapshot
	now   func() time.Time
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		items: make(map[string]cachedSnapshot),
		now:   time.Now,
	}
}

var _ leaderboard.SnapshotCache = (*SnapshotCache)(nil)

// Get implements leaderboard.SnapshotCache.
func (c *SnapshotCache) Get(ctx context.Context, key string) (*leaderboard.Snapshot, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return nil, nil
	}
	s := item.snap
	return &s, nil
}

// Put implements leaderboard.SnapshotCache.
func (c *SnapshotCache) Put(ctx context.Context, s *leaderboard.Snapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[s.Key] = cachedSnapshot{snap: *s, expiresAt: c.now().Add(ttl)}
	return nil
}

// InvalidateScope implements leaderboard.SnapshotCache.
func (c *SnapshotCache) InvalidateScope(ctx context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := scope + ":"
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

// Len returns the number of stored snapshots, expired ones included.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
