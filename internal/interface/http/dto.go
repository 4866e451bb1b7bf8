package http

import (
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// EventDTO is the wire form of a stored activity event.
type EventDTO struct {
	EventID        int64         `json:"event_id"`
	UserID         shared.UserID `json:"user_id"`
	Kind           activity.Kind `json:"kind"`
	Quantity       int64         `json:"quantity"`
	OccurredOn     timeutil.Date `json:"occurred_on"`
	ReceivedAt     time.Time     `json:"received_at"`
	IdempotencyKey string        `json:"idempotency_key"`
	BookID         string        `json:"book_id,omitempty"`
	Genre          string        `json:"genre,omitempty"`
	SchemaVersion  int           `json:"schema_version"`
	Reversed       bool          `json:"reversed"`
}

func toEventDTO(e *activity.Event) *EventDTO {
	if e == nil {
		return nil
	}
	return &EventDTO{
		EventID:        e.ID,
		UserID:         e.UserID,
		Kind:           e.Kind,
		Quantity:       e.Quantity,
		OccurredOn:     e.OccurredOn,
		ReceivedAt:     e.ReceivedAt,
		IdempotencyKey: e.IdempotencyKey.String(),
		BookID:         e.BookID,
		Genre:          e.Genre,
		SchemaVersion:  e.SchemaVersion,
		Reversed:       e.Reversed,
	}
}

// LedgerEntryDTO is the wire form of an XP ledger entry.
type LedgerEntryDTO struct {
	EntryID     string              `json:"entry_id"`
	UserID      shared.UserID       `json:"user_id"`
	Amount      int64               `json:"amount"`
	Reason      string              `json:"reason"`
	SourceType  activity.SourceType `json:"source_type"`
	SourceRef   string              `json:"source_ref"`
	EffectiveOn timeutil.Date       `json:"effective_on"`
	CreatedAt   time.Time           `json:"created_at"`
}

func toLedgerEntryDTO(e *activity.LedgerEntry) *LedgerEntryDTO {
	if e == nil {
		return nil
	}
	return &LedgerEntryDTO{
		EntryID:     e.ID,
		UserID:      e.UserID,
		Amount:      e.Amount,
		Reason:      e.Reason,
		SourceType:  e.SourceType,
		SourceRef:   e.SourceRef,
		EffectiveOn: e.EffectiveOn,
		CreatedAt:   e.CreatedAt,
	}
}

// MemberDTO is the wire form of a mirrored member.
type MemberDTO struct {
	UserID    shared.UserID    `json:"user_id"`
	Timezone  string           `json:"timezone"`
	JoinedAt  time.Time        `json:"joined_at"`
	Role      shared.Role      `json:"role"`
	Scopes    []shared.ScopeID `json:"scopes"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func toMemberDTO(m *member.Member) *MemberDTO {
	if m == nil {
		return nil
	}
	return &MemberDTO{
		UserID:    m.UserID,
		Timezone:  m.Timezone,
		JoinedAt:  m.JoinedAt,
		Role:      m.Role,
		Scopes:    m.Scopes,
		UpdatedAt: m.UpdatedAt,
	}
}
