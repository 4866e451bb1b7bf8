package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY EVENTS
// ══════════════════════════════════════════════════════════════════════════════

type submitEventRequest struct {
	UserID         string `json:"user_id" validate:"required,max=64"`
	Kind           string `json:"kind" validate:"required"`
	Quantity       int64  `json:"quantity"`
	OccurredOn     string `json:"occurred_on" validate:"required,date"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,idemkey"`
	BookID         string `json:"book_id,omitempty" validate:"max=128"`
	Genre          string `json:"genre,omitempty" validate:"max=64"`
	SchemaVersion  int    `json:"schema_version,omitempty" validate:"gte=0"`
}

type submitEventResponse struct {
	Event               *EventDTO             `json:"event"`
	Duplicate           bool                  `json:"duplicate"`
	PayloadMismatch     bool                  `json:"payload_mismatch,omitempty"`
	XPAwarded           int64                 `json:"xp_awarded"`
	LevelState          *progress.LevelState  `json:"level_state,omitempty"`
	StreakState         *progress.StreakState `json:"streak_state,omitempty"`
	LeveledUp           bool                  `json:"leveled_up"`
	NewBadges           []string              `json:"new_badges"`
	CompletedChallenges []string              `json:"completed_challenges"`
}

// POST /api/v1/events
func (s *Server) handleSubmitEvent(c *gin.Context) {
	var req submitEventRequest
	if !s.bindSubmit(c, &req) {
		return
	}
	// проверено валидатором
	on, _ := timeutil.ParseDate(req.OccurredOn)

	res, err := s.deps.SubmitEvent.Handle(c.Request.Context(), command.SubmitEventCommand{
		Principal:      principalFrom(c),
		UserID:         shared.UserID(req.UserID),
		Kind:           activity.Kind(req.Kind),
		Quantity:       req.Quantity,
		OccurredOn:     on,
		IdempotencyKey: shared.IdempotencyKey(req.IdempotencyKey),
		BookID:         req.BookID,
		Genre:          req.Genre,
		SchemaVersion:  req.SchemaVersion,
		CorrelationID:  requestIDFrom(c),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	resp := submitEventResponse{
		Event:               toEventDTO(res.Event),
		Duplicate:           res.Duplicate,
		PayloadMismatch:     res.PayloadMismatch,
		XPAwarded:           res.XPAwarded,
		LevelState:          res.Level,
		StreakState:         res.Streak,
		LeveledUp:           res.LeveledUp,
		NewBadges:           nonNil(res.NewBadges),
		CompletedChallenges: nonNil(res.CompletedChallenges),
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeData(c, status, resp)
}

// bindSubmit accepts the idempotency key from the Idempotency-Key header
// when the body omits it.
func (s *Server) bindSubmit(c *gin.Context, req *submitEventRequest) bool {
	if !s.decode(c, req) {
		return false
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	return s.check(c, req)
}

type reverseEventRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type reverseEventResponse struct {
	Event           *EventDTO       `json:"event"`
	LedgerEntry     *LedgerEntryDTO `json:"ledger_entry"`
	AlreadyReversed bool            `json:"already_reversed"`
}

// POST /api/v1/admin/events/:event_id/reverse
func (s *Server) handleReverseEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "validation_error", "event_id must be a positive integer")
		return
	}
	var req reverseEventRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.deps.ReverseEvent.Handle(c.Request.Context(), command.ReverseEventCommand{
		Principal: principalFrom(c),
		EventID:   id,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyReversed {
		status = http.StatusOK
	}
	writeData(c, status, reverseEventResponse{
		Event:           toEventDTO(res.Event),
		LedgerEntry:     toLedgerEntryDTO(res.Entry),
		AlreadyReversed: res.AlreadyReversed,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
