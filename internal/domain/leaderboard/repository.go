package leaderboard

import (
	"context"
	"time"
)

// SnapshotCache - кэш вычисленных лидербордов.
// Реализуется в infrastructure слое (Redis).
type SnapshotCache interface {
	// Get возвращает снапшот по ключу или nil, если его нет.
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Put сохраняет снапшот с TTL.
	Put(ctx context.Context, s *Snapshot, ttl time.Duration) error

	// InvalidateScope удаляет снапшоты области.
	InvalidateScope(ctx context.Context, scope string) error
}
