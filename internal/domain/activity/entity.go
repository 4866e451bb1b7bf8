package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

const (
	maxBookIDLength = 128
	maxGenreLength  = 64
)

// Draft is a raw activity submission as received from a collaborator.
type Draft struct {
	UserID         shared.UserID
	Kind           Kind
	Quantity       int64
	OccurredOn     timeutil.Date
	IdempotencyKey shared.IdempotencyKey
	BookID         string
	Genre          string
	SchemaVersion  int
}

// Normalize fills defaults and canonicalizes free-text fields.
// It never makes an invalid draft valid except for the documented defaults.
func (d *Draft) Normalize() {
	d.BookID = strings.TrimSpace(d.BookID)
	d.Genre = strings.ToLower(strings.TrimSpace(d.Genre))
	if d.SchemaVersion == 0 {
		d.SchemaVersion = CurrentSchemaVersion
	}
	if s, ok := d.Kind.Schema(); ok && d.Quantity == 0 {
		d.Quantity = s.DefaultQuantity
	}
}

// Validate checks the draft against its kind schema. today is the current
// calendar day in the user's timezone; occurred_on may not be later than
// today + maxFutureDays. Backdated dates are accepted down to earliest
// (no lower bound when earliest is unset).
func (d Draft) Validate(today timeutil.Date, maxFutureDays int, earliest timeutil.Date) error {
	verr := &shared.ValidationError{Domain: "activity"}

	if !d.UserID.IsValid() {
		verr.Add("user_id", "invalid user id")
	}
	if !d.IdempotencyKey.IsValid() {
		verr.Add("idempotency_key", "must be 8-128 characters of [A-Za-z0-9_.:-]")
	}

	schema, ok := d.Kind.Schema()
	if !ok {
		verr.Add("kind", fmt.Sprintf("unknown kind %q", d.Kind))
		return verr.OrNil()
	}
	if !schema.SupportsVersion(d.SchemaVersion) {
		verr.Add("schema_version", fmt.Sprintf("version %d is not supported for %s", d.SchemaVersion, d.Kind))
	}

	switch {
	case d.Quantity < 0:
		verr.Add("quantity", "must not be negative")
	case d.Quantity < schema.MinQuantity:
		verr.Add("quantity", fmt.Sprintf("must be at least %d %s", schema.MinQuantity, schema.Unit))
	case d.Quantity > schema.MaxQuantity:
		verr.Add("quantity", fmt.Sprintf("must be at most %d %s", schema.MaxQuantity, schema.Unit))
	}

	switch {
	case d.OccurredOn.IsZero():
		verr.Add("occurred_on", "required")
	case d.OccurredOn.Sub(today) > maxFutureDays:
		verr.Add("occurred_on", fmt.Sprintf("more than %d day(s) in the future", maxFutureDays))
	case !earliest.IsZero() && d.OccurredOn.Before(earliest):
		verr.Add("occurred_on", "must not be before "+earliest.String())
	}

	if schema.RequiresBook && d.BookID == "" {
		verr.Add("book_id", "required for "+string(d.Kind))
	}
	if len(d.BookID) > maxBookIDLength {
		verr.Add("book_id", "too long")
	}
	if d.Genre != "" && !schema.AcceptsGenre {
		verr.Add("genre", "not accepted for "+string(d.Kind))
	}
	if len(d.Genre) > maxGenreLength {
		verr.Add("genre", "too long")
	}

	return verr.OrNil()
}

// Fingerprint is a stable hash of the normalized payload. Two submissions with
// the same idempotency key but different fingerprints are still duplicates; the
// mismatch is only reported.
func (d Draft) Fingerprint() string {
	raw := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%d",
		d.UserID, d.Kind, d.Quantity, d.OccurredOn, d.BookID, d.Genre, d.SchemaVersion)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Event is a stored activity fact. It is never mutated after the store assigns
// its ID; Reversed is a read-side flag joined from the reversal table.
type Event struct {
	ID             int64
	UserID         shared.UserID
	Kind           Kind
	Quantity       int64
	OccurredOn     timeutil.Date
	ReceivedAt     time.Time
	IdempotencyKey shared.IdempotencyKey
	BookID         string
	Genre          string
	SchemaVersion  int
	Fingerprint    string

	Reversed bool
}

// NewEvent builds an unsaved event from a validated draft.
func NewEvent(d Draft, receivedAt time.Time) *Event {
	return &Event{
		UserID:         d.UserID,
		Kind:           d.Kind,
		Quantity:       d.Quantity,
		OccurredOn:     d.OccurredOn,
		ReceivedAt:     receivedAt.UTC(),
		IdempotencyKey: d.IdempotencyKey,
		BookID:         d.BookID,
		Genre:          d.Genre,
		SchemaVersion:  d.SchemaVersion,
		Fingerprint:    d.Fingerprint(),
	}
}

// Counts reports whether the event contributes to aggregates.
func (e *Event) Counts() bool {
	return !e.Reversed
}

// Reversal records an administrative correction of one event.
type Reversal struct {
	EventID    int64
	UserID     shared.UserID
	Reason     string
	ReversedBy string
	CreatedAt  time.Time
}

// Validate checks the reversal request.
func (r Reversal) Validate() error {
	verr := &shared.ValidationError{Domain: "activity"}
	if r.EventID <= 0 {
		verr.Add("event_id", "must be positive")
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		verr.Add("reason", "required")
	} else if len(reason) > 500 {
		verr.Add("reason", "too long")
	}
	if r.ReversedBy == "" {
		verr.Add("reversed_by", "required")
	}
	return verr.OrNil()
}

// Filter returns the events for which keep returns true.
func Filter(events []*Event, keep func(*Event) bool) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Counting returns the non-reversed events.
func Counting(events []*Event) []*Event {
	return Filter(events, (*Event).Counts)
}
