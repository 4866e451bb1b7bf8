package activity

import (
	"context"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// AppendResult is the outcome of a guarded append.
type AppendResult struct {
	Event *Event
	// Entry is the XP entry written with the event; nil for duplicates and
	// for events that yield no XP.
	Entry *LedgerEntry
	// Duplicate is true when (user_id, idempotency_key) already existed and
	// Event is the previously stored event.
	Duplicate bool
}

// ReverseResult is the outcome of a reversal.
type ReverseResult struct {
	Event *Event
	Entry *LedgerEntry
	// AlreadyReversed is true when the event had been reversed before; Entry is
	// then the original reversal entry.
	AlreadyReversed bool
}

// Store is the append-only event ledger.
// This interface is implemented by the infrastructure layer.
type Store interface {
	// Append inserts ev unless an event with the same (user_id, idempotency_key)
	// exists. The check and the insert are one atomic conditional write. When
	// entry is non-nil it is written in the same transaction with SourceRef set
	// to the new event ID.
	Append(ctx context.Context, ev *Event, entry *LedgerEntry) (AppendResult, error)

	// Get returns a single event by ID.
	Get(ctx context.Context, eventID int64) (*Event, error)

	// ListByUser returns every event of the user ordered by ID, reversed ones included.
	ListByUser(ctx context.Context, userID shared.UserID) ([]*Event, error)

	// ListByUsers returns events of many users with OccurredOn inside r
	// (all dates when r is the zero range), reversed ones included.
	ListByUsers(ctx context.Context, userIDs []shared.UserID, r timeutil.DateRange) (map[shared.UserID][]*Event, error)

	// Reverse records a reversal and its negative ledger entry atomically.
	// Reversing twice returns the first reversal with AlreadyReversed set.
	Reverse(ctx context.Context, rev Reversal, entry *LedgerEntry) (ReverseResult, error)

	// UsersWithEventsSince returns up to limit users, ordered by ID and strictly
	// greater than after, that received events after since. An empty after
	// starts from the beginning.
	UsersWithEventsSince(ctx context.Context, since time.Time, after shared.UserID, limit int) ([]shared.UserID, error)
}

// Ledger reads the XP ledger.
type Ledger interface {
	// Entries returns every ledger entry of the user ordered by creation time.
	Entries(ctx context.Context, userID shared.UserID) ([]LedgerEntry, error)

	// EntriesForUsers returns ledger entries of many users.
	EntriesForUsers(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID][]LedgerEntry, error)
}
