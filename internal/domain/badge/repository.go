package badge

import (
	"context"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// Repository persists badge awards.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// Award inserts the badge and its XP entry in one transaction if the user
	// does not hold it yet. When another writer inserted it first, Award
	// returns an error matching shared.ErrRaceLost and writes nothing.
	Award(ctx context.Context, ub UserBadge, entry *activity.LedgerEntry) error

	// ListByUser returns the user's badges ordered by EarnedAt.
	ListByUser(ctx context.Context, userID shared.UserID) ([]UserBadge, error)

	// MarkSeen clears IsNew on the given badges (all when ids is empty).
	// Returns how many records changed.
	MarkSeen(ctx context.Context, userID shared.UserID, ids []ID) (int, error)

	// SyncDefinitions upserts the configured catalog for reference by reporting tools.
	SyncDefinitions(ctx context.Context, defs []Definition) error
}
