// Package activity contains the reading activity ledger: the closed set of event
// kinds, submission drafts, stored events and XP ledger entries.
// This is a pure domain layer with zero external dependencies.
package activity

import "sort"

// Kind is the type of a reading activity. The set is closed: submissions with
// any other kind are rejected at the guard.
type Kind string

const (
	KindMinutesRead    Kind = "minutes_read"
	KindPagesRead      Kind = "pages_read"
	KindReviewWritten  Kind = "review_written"
	KindBookFinished   Kind = "book_finished"
	KindSocialReaction Kind = "social_reaction"
)

// CurrentSchemaVersion is the schema version assigned to drafts that omit it.
const CurrentSchemaVersion = 1

// KindSchema describes what a valid event of a kind looks like.
type KindSchema struct {
	Kind     Kind
	Versions []int
	// Unit is what Quantity measures ("minutes", "pages", "count").
	Unit string
	// DefaultQuantity is used when a draft omits the quantity.
	// Zero means the quantity is mandatory.
	DefaultQuantity int64
	MinQuantity     int64
	MaxQuantity     int64
	RequiresBook    bool
	AcceptsGenre    bool
}

var schemas = map[Kind]KindSchema{
	KindMinutesRead: {
		Kind: KindMinutesRead, Versions: []int{1}, Unit: "minutes",
		MinQuantity: 1, MaxQuantity: 24 * 60,
	},
	KindPagesRead: {
		Kind: KindPagesRead, Versions: []int{1}, Unit: "pages",
		MinQuantity: 1, MaxQuantity: 5000,
	},
	KindReviewWritten: {
		Kind: KindReviewWritten, Versions: []int{1}, Unit: "count",
		DefaultQuantity: 1, MinQuantity: 1, MaxQuantity: 1, RequiresBook: true,
	},
	KindBookFinished: {
		Kind: KindBookFinished, Versions: []int{1}, Unit: "count",
		DefaultQuantity: 1, MinQuantity: 1, MaxQuantity: 1, RequiresBook: true, AcceptsGenre: true,
	},
	KindSocialReaction: {
		Kind: KindSocialReaction, Versions: []int{1}, Unit: "count",
		DefaultQuantity: 1, MinQuantity: 1, MaxQuantity: 1,
	},
}

// Schema returns the schema of the kind.
func (k Kind) Schema() (KindSchema, bool) {
	s, ok := schemas[k]
	return s, ok
}

// IsValid reports whether k belongs to the closed kind set.
func (k Kind) IsValid() bool {
	_, ok := schemas[k]
	return ok
}

// String returns the string representation.
func (k Kind) String() string {
	return string(k)
}

// SupportsVersion reports whether the schema accepts the given version.
func (s KindSchema) SupportsVersion(v int) bool {
	for _, sv := range s.Versions {
		if sv == v {
			return true
		}
	}
	return false
}

// Kinds returns all known kinds in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(schemas))
	for k := range schemas {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
