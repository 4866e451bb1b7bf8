package command

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT EVENT COMMAND
// Accepts one activity submission through the idempotency guard. A retried or
// re-synced submission with a known key returns the stored event unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEventCommand contains a raw activity submission.
type SubmitEventCommand struct {
	// Principal is the authenticated caller.
	Principal access.Principal

	UserID         shared.UserID
	Kind           activity.Kind
	Quantity       int64
	OccurredOn     timeutil.Date
	IdempotencyKey shared.IdempotencyKey

	// Optional fields.
	BookID        string
	Genre         string
	SchemaVersion int

	// CorrelationID for tracing.
	CorrelationID string
}

// Draft converts the command into a domain draft.
func (c SubmitEventCommand) Draft() activity.Draft {
	return activity.Draft{
		UserID:         c.UserID,
		Kind:           c.Kind,
		Quantity:       c.Quantity,
		OccurredOn:     c.OccurredOn,
		IdempotencyKey: c.IdempotencyKey,
		BookID:         c.BookID,
		Genre:          c.Genre,
		SchemaVersion:  c.SchemaVersion,
	}
}

// SubmitEventResult contains the outcome of a submission.
type SubmitEventResult struct {
	// Event is the stored event (the earlier one for duplicates).
	Event *activity.Event

	// Duplicate is true when the idempotency key was already known.
	Duplicate bool

	// PayloadMismatch flags a duplicate whose payload differs from the stored one.
	PayloadMismatch bool

	// XPAwarded is the XP granted for this event (0 for duplicates).
	XPAwarded int64

	// Level and Streak after recomputation. Nil for duplicates or when the
	// post-append evaluation failed (the event is stored either way).
	Level  *progress.LevelState
	Streak *progress.StreakState

	// LeveledUp is true when this submission moved the user to a higher level.
	LeveledUp bool

	// Awards written by the post-append evaluation.
	NewBadges           []string
	CompletedChallenges []string
}

// SubmitEventHandlerConfig contains configuration for the handler.
type SubmitEventHandlerConfig struct {
	// MaxFutureDays is the clock-skew allowance for occurred_on.
	MaxFutureDays int

	// EarliestOccurredOn bounds backdating; unset means no bound.
	EarliestOccurredOn timeutil.Date
}

// SubmitEventHandler handles the SubmitEventCommand.
type SubmitEventHandler struct {
	store     activity.Store
	loader    *userstate.Loader
	policy    *access.Policy
	awards    *AwardEvaluator
	publisher shared.EventPublisher
	config    SubmitEventHandlerConfig
	log       *logger.Logger
}

// NewSubmitEventHandler creates a new SubmitEventHandler.
func NewSubmitEventHandler(
	store activity.Store,
	loader *userstate.Loader,
	policy *access.Policy,
	awards *AwardEvaluator,
	publisher shared.EventPublisher,
	config SubmitEventHandlerConfig,
	log *logger.Logger,
) *SubmitEventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitEventHandler{
		store:     store,
		loader:    loader,
		policy:    policy,
		awards:    awards,
		publisher: publisher,
		config:    config,
		log:       log.With(logger.Component("submit_event")),
	}
}

// Handle executes the submit event command.
func (h *SubmitEventHandler) Handle(ctx context.Context, cmd SubmitEventCommand) (*SubmitEventResult, error) {
	ctx, span := tracer.Start(ctx, "command.submit_event")
	defer span.End()

	if err := h.policy.CanSubmit(cmd.Principal, cmd.UserID); err != nil {
		return nil, err
	}

	draft := cmd.Draft()
	draft.Normalize()

	m, err := h.loader.Member(ctx, draft.UserID)
	if err != nil {
		return nil, fmt.Errorf("submit_event: load member: %w", err)
	}
	now := h.loader.Clock().Now()
	if err := draft.Validate(m.Today(now), h.config.MaxFutureDays, h.config.EarliestOccurredOn); err != nil {
		return nil, err
	}

	ev := activity.NewEvent(draft, now)
	xp := h.loader.Calculator().XPFor(ev)

	var entry *activity.LedgerEntry
	if xp > 0 {
		entry = activity.NewEventEntry(uuid.NewString(), ev, xp, now)
	}

	res, err := h.store.Append(ctx, ev, entry)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("submit_event: append: %w", err)
	}

	log := h.log.With(logger.UserID(string(draft.UserID)), logger.EventID(res.Event.ID))
	if cmd.CorrelationID != "" {
		log = log.With(logger.String("correlation_id", cmd.CorrelationID))
	}
	span.SetAttributes(
		attribute.Int64("event_id", res.Event.ID),
		attribute.Bool("duplicate", res.Duplicate),
	)

	if res.Duplicate {
		result := &SubmitEventResult{
			Event:           res.Event,
			Duplicate:       true,
			PayloadMismatch: res.Event.Fingerprint != ev.Fingerprint,
		}
		if result.PayloadMismatch {
			log.Warn("duplicate submission with different payload",
				logger.String("idempotency_key", string(draft.IdempotencyKey)))
		} else {
			log.Debug("duplicate submission")
		}
		return result, nil
	}

	log.Info("activity accepted",
		logger.String("kind", string(ev.Kind)),
		logger.Int64("quantity", ev.Quantity),
		logger.XPAmount(xp))

	h.publish(shared.NewActivityAcceptedEvent(
		string(ev.UserID), res.Event.ID, string(ev.Kind), ev.Quantity, ev.OccurredOn.String(), xp,
	))

	result := &SubmitEventResult{Event: res.Event, XPAwarded: xp}
	var own string
	if entry != nil {
		own = entry.ID
	}
	h.evaluate(ctx, draft.UserID, own, result, log)
	return result, nil
}

// evaluate runs award evaluation after a successful append. Failures are
// logged only: the event is committed and the reconciliation job repairs awards.
// own is the ledger entry the append wrote, empty for a zero-XP event.
func (h *SubmitEventHandler) evaluate(ctx context.Context, userID shared.UserID, own string, result *SubmitEventResult, log *logger.Logger) {
	if h.awards == nil {
		return
	}
	start := time.Now()
	out, err := h.awards.Evaluate(ctx, userID)
	if err != nil {
		log.Error("award evaluation failed", logger.Err(err), logger.Latency(time.Since(start)))
		return
	}

	st := out.State.Snapshot
	result.Level = &st.Level
	result.Streak = &st.Streak
	for _, b := range out.NewBadges {
		result.NewBadges = append(result.NewBadges, string(b.ID))
	}
	for _, c := range out.CompletedChallenges {
		result.CompletedChallenges = append(result.CompletedChallenges, string(c.ID))
	}

	prior, mine := splitLedger(out.State.Entries, own, out.EntryIDs)
	calc := h.loader.Calculator()
	before, after := calc.Level(prior), calc.Level(prior+mine)
	if after.Level > before.Level {
		result.LeveledUp = true
		h.publish(shared.NewLevelUpEvent(string(userID), before.Level, after.Level, after.TotalXP))
	}
}

// splitLedger делит леджер на XP до записи own и XP этой отправки (own плюс
// награды этого прохода). Записи параллельных отправок, сделанные после own,
// не входят ни туда, ни туда: их порог засчитает та отправка.
func splitLedger(entries []activity.LedgerEntry, own string, awards []string) (prior, mine int64) {
	reached := false
	for _, e := range entries {
		switch {
		case e.ID == own:
			mine += e.Amount
			reached = true
		case slices.Contains(awards, e.ID):
			mine += e.Amount
		case own == "" || !reached:
			prior += e.Amount
		}
	}
	return prior, mine
}

func (h *SubmitEventHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("publish event failed", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
