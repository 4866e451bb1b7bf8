package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVERSE EVENT COMMAND
// Administrative correction: writes a negative ledger entry equal to the XP the
// event granted and excludes the event from aggregates. History stays intact;
// awards already written stay written.
// ══════════════════════════════════════════════════════════════════════════════

// ReverseEventCommand contains the data to reverse an event.
type ReverseEventCommand struct {
	Principal access.Principal
	EventID   int64
	Reason    string
}

// ReverseEventResult contains the outcome.
type ReverseEventResult struct {
	// Entry is the reversal ledger entry (the existing one on repeat calls).
	Entry *activity.LedgerEntry

	// Event is the reversed event.
	Event *activity.Event

	// AlreadyReversed is true when the event had been reversed before.
	AlreadyReversed bool
}

// ReverseEventHandler handles the ReverseEventCommand.
type ReverseEventHandler struct {
	store     activity.Store
	ledger    activity.Ledger
	loader    *userstate.Loader
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewReverseEventHandler creates a new ReverseEventHandler.
func NewReverseEventHandler(
	store activity.Store,
	ledger activity.Ledger,
	loader *userstate.Loader,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *ReverseEventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ReverseEventHandler{
		store:     store,
		ledger:    ledger,
		loader:    loader,
		publisher: publisher,
		log:       log.With(logger.Component("reverse_event")),
	}
}

// Handle executes the reverse event command.
func (h *ReverseEventHandler) Handle(ctx context.Context, cmd ReverseEventCommand) (*ReverseEventResult, error) {
	ctx, span := tracer.Start(ctx, "command.reverse_event")
	span.SetAttributes(attribute.Int64("event_id", cmd.EventID))
	defer span.End()

	if err := access.RequireRole(cmd.Principal, shared.RoleAdmin, shared.RoleService); err != nil {
		return nil, err
	}

	now := h.loader.Clock().Now()
	rev := activity.Reversal{
		EventID:    cmd.EventID,
		Reason:     strings.TrimSpace(cmd.Reason),
		ReversedBy: cmd.Principal.Subject,
		CreatedAt:  now.UTC(),
	}
	if err := rev.Validate(); err != nil {
		return nil, err
	}

	ev, err := h.store.Get(ctx, cmd.EventID)
	if err != nil {
		return nil, err
	}
	rev.UserID = ev.UserID

	entries, err := h.ledger.Entries(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("reverse_event: load ledger: %w", err)
	}
	granted, _ := activity.EventAmount(entries, ev.ID)
	entry := activity.NewReversalEntry(uuid.NewString(), ev, granted, rev.Reason, now)

	res, err := h.store.Reverse(ctx, rev, entry)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reverse_event: %w", err)
	}

	log := h.log.With(logger.UserID(string(ev.UserID)), logger.EventID(ev.ID))
	if res.AlreadyReversed {
		log.Info("event already reversed")
	} else {
		log.Info("event reversed",
			logger.XPAmount(res.Entry.Amount),
			logger.String("reversed_by", rev.ReversedBy))
		if h.publisher != nil {
			evt := shared.NewActivityReversedEvent(string(ev.UserID), ev.ID, res.Entry.Amount, rev.Reason, rev.ReversedBy)
			if err := h.publisher.Publish(evt); err != nil {
				log.Warn("publish event failed", logger.Err(err))
			}
		}
	}

	return &ReverseEventResult{
		Entry:           res.Entry,
		Event:           res.Event,
		AlreadyReversed: res.AlreadyReversed,
	}, nil
}
