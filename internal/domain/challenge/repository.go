package challenge

import (
	"context"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// Repository persists challenge definitions and completions.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// Create stores a new definition. Existing IDs fail with ErrAlreadyExists.
	Create(ctx context.Context, d Definition) error

	// Upsert stores or replaces a definition (used for configuration seeds).
	Upsert(ctx context.Context, d Definition) error

	// Get returns a definition by ID.
	Get(ctx context.Context, id ID) (*Definition, error)

	// ListAccepting returns definitions that accept progress on today.
	ListAccepting(ctx context.Context, today timeutil.Date, graceDays int) ([]Definition, error)

	// RecordCompletion inserts the completion and its XP entry atomically if
	// none exists for (challenge, user). A concurrent winner makes it return an
	// error matching shared.ErrRaceLost.
	RecordCompletion(ctx context.Context, c Completion, entry *activity.LedgerEntry) error

	// GetCompletion returns the completion or nil when there is none.
	GetCompletion(ctx context.Context, id ID, userID shared.UserID) (*Completion, error)

	// CompletionsByUser returns the user's completions keyed by challenge.
	CompletionsByUser(ctx context.Context, userID shared.UserID) (map[ID]Completion, error)
}
