package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
)

// scopeIndexSlack продлевает жизнь индекса области дольше самих снимков.
const scopeIndexSlack = time.Minute

// SnapshotCache implements leaderboard.SnapshotCache on Redis.
//
// Каждый снимок хранится строкой JSON с TTL. Ключи снимков одной области
// дополнительно собираются в множество, чтобы InvalidateScope не сканировал
// всё пространство ключей.
type SnapshotCache struct {
	client *Client
}

// NewSnapshotCache creates a snapshot cache over client.
func NewSnapshotCache(client *Client) *SnapshotCache {
	return &SnapshotCache{client: client}
}

var _ leaderboard.SnapshotCache = (*SnapshotCache)(nil)

// Get implements leaderboard.SnapshotCache. A miss returns nil, nil.
func (c *SnapshotCache) Get(ctx context.Context, key string) (*leaderboard.Snapshot, error) {
	var data []byte
	err := c.client.guard(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.rdb.Get(ctx, c.client.key(PrefixSnapshot, key)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var s leaderboard.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return &s, nil
}

// Put implements leaderboard.SnapshotCache.
func (c *SnapshotCache) Put(ctx context.Context, s *leaderboard.Snapshot, ttl time.Duration) error {
	if s == nil || s.Key == "" {
		return errors.New("redis: snapshot without key")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	key := c.client.key(PrefixSnapshot, s.Key)
	index := c.client.key(PrefixScopeIndex, s.Scope)

	err = c.client.guard(ctx, func(ctx context.Context) error {
		pipe := c.client.rdb.TxPipeline()
		pipe.Set(ctx, key, data, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl+scopeIndexSlack)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: put snapshot: %w", err)
	}
	return nil
}

// InvalidateScope implements leaderboard.SnapshotCache.
func (c *SnapshotCache) InvalidateScope(ctx context.Context, scope string) error {
	index := c.client.key(PrefixScopeIndex, scope)

	err := c.client.guard(ctx, func(ctx context.Context) error {
		keys, err := c.client.rdb.SMembers(ctx, index).Result()
		if err != nil {
			return err
		}
		return c.client.rdb.Del(ctx, append(keys, index)...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate scope %s: %w", scope, err)
	}
	return nil
}
