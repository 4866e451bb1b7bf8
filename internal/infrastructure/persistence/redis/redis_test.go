package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/circuitbreaker"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFrom(rdb, cfg), mr
}

func snapshot(scope, key string) *leaderboard.Snapshot {
	return &leaderboard.Snapshot{
		Key:        key,
		Scope:      scope,
		Metric:     "xp",
		ComputedAt: time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC),
		Entries: []leaderboard.Entry{
			{Rank: 1, UserID: "bota", MetricValue: 120, TotalBooks: 2},
			{Rank: 2, UserID: "amir", MetricValue: 120, TotalBooks: 1},
		},
	}
}

func TestSnapshotCache_PutGet(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	got, err := cache.Get(ctx, "class-7b:xp:all_time")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Put(ctx, snapshot("class-7b", "class-7b:xp:all_time"), time.Minute))

	got, err = cache.Get(ctx, "class-7b:xp:all_time")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Entries, 2)
	assert.Equal(t, shared.UserID("bota"), got.Entries[0].UserID)
}

func TestSnapshotCache_Expires(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, snapshot("class-7b", "class-7b:xp:all_time"), time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "class-7b:xp:all_time")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotCache_InvalidateScope(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, snapshot("class-7b", "class-7b:xp:all_time"), time.Minute))
	require.NoError(t, cache.Put(ctx, snapshot("class-7b", "class-7b:pages:all_time"), time.Minute))
	require.NoError(t, cache.Put(ctx, snapshot("class-7a", "class-7a:xp:all_time"), time.Minute))

	require.NoError(t, cache.InvalidateScope(ctx, "class-7b"))

	got, err := cache.Get(ctx, "class-7b:pages:all_time")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cache.Get(ctx, "class-7a:xp:all_time")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Пустая область не ошибка.
	assert.NoError(t, cache.InvalidateScope(ctx, "nobody"))
}

func TestEventForwarder_Publishes(t *testing.T) {
	client, _ := newTestClient(t)
	fwd := NewEventForwarder(client, "reading-engine:events")
	ctx := context.Background()

	sub := fwd.Subscribe(ctx)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	env := shared.EventEnvelope{
		ID:          "evt-1",
		Type:        shared.EventBadgeAwarded,
		AggregateID: "u1",
		Timestamp:   time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC),
		Version:     1,
		Payload:     json.RawMessage(`{"badge_id":"first-book"}`),
	}
	require.NoError(t, fwd.Forward(ctx, env))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got shared.EventEnvelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Type, got.Type)
}

func TestSnapshotCache_BreakerOpensWhenRedisIsDown(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewSnapshotCache(client)
	ctx := context.Background()

	// misses never count as failures
	for i := 0; i < 5; i++ {
		s, err := cache.Get(ctx, "class-7b:xp:all_time")
		require.NoError(t, err)
		assert.Nil(t, s)
	}
	assert.Equal(t, circuitbreaker.StateClosed, client.Breaker().State())

	mr.Close()
	for i := 0; i < 3; i++ {
		_, err := cache.Get(ctx, "class-7b:xp:all_time")
		require.Error(t, err)
		assert.False(t, circuitbreaker.Rejected(err))
	}

	_, err := cache.Get(ctx, "class-7b:xp:all_time")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.StateOpen, client.Breaker().State())
}
