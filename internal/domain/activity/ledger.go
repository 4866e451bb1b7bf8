package activity

import (
	"strconv"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// SourceType names what produced an XP ledger entry.
type SourceType string

const (
	SourceEvent     SourceType = "event"
	SourceReversal  SourceType = "reversal"
	SourceBadge     SourceType = "badge"
	SourceChallenge SourceType = "challenge"
)

// LedgerEntry is one signed XP movement. Entries are append-only and unique
// per (SourceType, SourceRef); only reversal entries carry a negative amount.
type LedgerEntry struct {
	ID         string
	UserID     shared.UserID
	Amount     int64
	Reason     string
	SourceType SourceType
	SourceRef  string
	// EffectiveOn is the calendar day the XP counts for in windowed views.
	EffectiveOn timeutil.Date
	CreatedAt   time.Time
}

// EventRef formats an event ID as a ledger source reference.
func EventRef(eventID int64) string {
	return strconv.FormatInt(eventID, 10)
}

// NewEventEntry is the XP entry of a freshly stored event.
// SourceRef is filled by the store once the event ID is known.
func NewEventEntry(id string, e *Event, amount int64, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:          id,
		UserID:      e.UserID,
		Amount:      amount,
		Reason:      string(e.Kind),
		SourceType:  SourceEvent,
		EffectiveOn: e.OccurredOn,
		CreatedAt:   now.UTC(),
	}
}

// NewReversalEntry negates the XP originally granted for e.
func NewReversalEntry(id string, e *Event, originalAmount int64, reason string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:          id,
		UserID:      e.UserID,
		Amount:      -originalAmount,
		Reason:      "reversal: " + reason,
		SourceType:  SourceReversal,
		SourceRef:   EventRef(e.ID),
		EffectiveOn: e.OccurredOn,
		CreatedAt:   now.UTC(),
	}
}

// NewAwardEntry is the XP reward of a badge or a challenge completion.
func NewAwardEntry(id string, userID shared.UserID, source SourceType, ref string, amount int64, on timeutil.Date, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		Reason:      string(source) + ": " + ref,
		SourceType:  source,
		SourceRef:   AwardRef(userID, ref),
		EffectiveOn: on,
		CreatedAt:   now.UTC(),
	}
}

// AwardRef scopes an award reference to its user so that (source, ref) is unique.
func AwardRef(userID shared.UserID, ref string) string {
	return string(userID) + "/" + ref
}

// Total sums ledger amounts.
func Total(entries []LedgerEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum
}

// TotalWithin sums entries whose EffectiveOn lies in r.
func TotalWithin(entries []LedgerEntry, r timeutil.DateRange) int64 {
	var sum int64
	for _, e := range entries {
		if r.Contains(e.EffectiveOn) {
			sum += e.Amount
		}
	}
	return sum
}

// EventAmount returns the XP granted for the given event in entries, if any.
func EventAmount(entries []LedgerEntry, eventID int64) (int64, bool) {
	ref := EventRef(eventID)
	for _, e := range entries {
		if e.SourceType == SourceEvent && e.SourceRef == ref {
			return e.Amount, true
		}
	}
	return 0, false
}
