// Package command contains write operations (CQRS - Commands).
// Commands append facts to the ledger; every derived value is recomputed
// from it afterwards.
package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
	"github.com/alem-hub/reading-engine/pkg/retry"
)

var tracer = otel.Tracer("github.com/alem-hub/reading-engine/internal/application/command")

// ══════════════════════════════════════════════════════════════════════════════
// AWARD EVALUATOR
// Recomputes a user's aggregates and writes any badge or challenge completion
// that is now due. Awards are write-once: an award written by a concurrent
// pass counts as success.
// ══════════════════════════════════════════════════════════════════════════════

// AwardOutcome describes what one evaluation pass wrote.
type AwardOutcome struct {
	// NewBadges are badges this pass inserted.
	NewBadges []badge.Definition

	// CompletedChallenges are challenges this pass completed.
	CompletedChallenges []challenge.Definition

	// AwardedXP is the XP granted by this pass.
	AwardedXP int64

	// EntryIDs are the ledger entries this pass wrote.
	EntryIDs []string

	// RacesLost counts awards another writer inserted first.
	RacesLost int

	// State is the recomputed state after the pass.
	State *userstate.State
}

// AwardEvaluatorConfig contains configuration for the evaluator.
type AwardEvaluatorConfig struct {
	// ChallengeGraceDays keeps challenges open for backdated events after end_date.
	ChallengeGraceDays int

	// MaxRetries bounds retries of transient award write failures.
	MaxRetries int
}

// AwardEvaluator evaluates badges and challenges for one user.
type AwardEvaluator struct {
	loader     *userstate.Loader
	catalog    *badge.Catalog
	badges     badge.Repository
	challenges challenge.Repository
	publisher  shared.EventPublisher
	retrier    *retry.Retrier
	config     AwardEvaluatorConfig
	log        *logger.Logger
}

// NewAwardEvaluator creates a new AwardEvaluator.
func NewAwardEvaluator(
	loader *userstate.Loader,
	catalog *badge.Catalog,
	badges badge.Repository,
	challenges challenge.Repository,
	publisher shared.EventPublisher,
	config AwardEvaluatorConfig,
	log *logger.Logger,
) *AwardEvaluator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AwardEvaluator{
		loader:     loader,
		catalog:    catalog,
		badges:     badges,
		challenges: challenges,
		publisher:  publisher,
		retrier:    retry.AwardRetrier(config.MaxRetries, shared.IsRetryable),
		config:     config,
		log:        log.With(logger.Component("award_evaluator")),
	}
}

// Evaluate runs one evaluation pass for the user.
func (e *AwardEvaluator) Evaluate(ctx context.Context, userID shared.UserID) (*AwardOutcome, error) {
	ctx, span := tracer.Start(ctx, "awards.evaluate")
	span.SetAttributes(attribute.String("user_id", string(userID)))
	defer span.End()

	st, err := e.loader.Load(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluate_awards: load state: %w", err)
	}

	out := &AwardOutcome{State: st}
	earned := badge.EarnedSet(st.Badges)

	if err := e.evaluateBadges(ctx, st, earned, out); err != nil {
		span.RecordError(err)
		return out, err
	}
	xpBeforeChallenges := out.AwardedXP
	if err := e.evaluateChallenges(ctx, st, earned, out); err != nil {
		span.RecordError(err)
		return out, err
	}

	if out.AwardedXP > xpBeforeChallenges {
		// Награда за челлендж может перевести через порог уровня; бейджи проверяются ещё раз.
		fresh, err := e.loader.Load(ctx, userID)
		if err != nil {
			span.RecordError(err)
			return out, fmt.Errorf("evaluate_awards: reload state: %w", err)
		}
		for id := range badge.EarnedSet(fresh.Badges) {
			earned[id] = struct{}{}
		}
		if err := e.evaluateBadges(ctx, fresh, earned, out); err != nil {
			span.RecordError(err)
			return out, err
		}
	}

	if out.AwardedXP > 0 || len(out.NewBadges) > 0 {
		// Awards changed the ledger; recompute so callers see the final state.
		fresh, err := e.loader.Load(ctx, userID)
		if err != nil {
			return out, fmt.Errorf("evaluate_awards: reload state: %w", err)
		}
		out.State = fresh
	}

	span.SetAttributes(
		attribute.Int("badges.new", len(out.NewBadges)),
		attribute.Int("challenges.completed", len(out.CompletedChallenges)),
	)
	return out, nil
}

// evaluateBadges repeats evaluation while awards keep raising XP, so that a
// badge reward pushing the user over a level threshold is seen in the same pass.
func (e *AwardEvaluator) evaluateBadges(ctx context.Context, st *userstate.State, earned map[badge.ID]struct{}, out *AwardOutcome) error {
	calc := e.loader.Calculator()
	agg := make(progress.Aggregates, len(st.Snapshot.Aggregates))
	for k, v := range st.Snapshot.Aggregates {
		agg[k] = v
	}

	for pass := 0; pass < 4; pass++ {
		due := e.catalog.Evaluate(agg, earned)
		if len(due) == 0 {
			return nil
		}
		for _, def := range due {
			won, err := e.awardBadge(ctx, st, def, out)
			if err != nil {
				return err
			}
			earned[def.ID] = struct{}{}
			if !won {
				out.RacesLost++
				continue
			}
			out.NewBadges = append(out.NewBadges, def)
			out.AwardedXP += def.XPReward
			agg[progress.StatTotalXP] += def.XPReward
		}
		agg[progress.StatLevel] = int64(calc.Level(agg[progress.StatTotalXP]).Level)
	}
	return nil
}

func (e *AwardEvaluator) evaluateChallenges(ctx context.Context, st *userstate.State, earned map[badge.ID]struct{}, out *AwardOutcome) error {
	defs, err := e.challenges.ListAccepting(ctx, st.Today, e.config.ChallengeGraceDays)
	if err != nil {
		return fmt.Errorf("evaluate_awards: list challenges: %w", err)
	}
	if len(defs) == 0 {
		return nil
	}
	done, err := e.challenges.CompletionsByUser(ctx, st.Member.UserID)
	if err != nil {
		return fmt.Errorf("evaluate_awards: list completions: %w", err)
	}

	calc := e.loader.Calculator()
	for _, def := range defs {
		if _, ok := done[def.ID]; ok {
			continue
		}
		if !def.Scope.Includes(st.Member.UserID, st.Member.Scopes) {
			continue
		}
		measured := st.Measure(calc, def.Metric, def.Window())
		p := challenge.Evaluate(def, st.Member.UserID, measured, nil)
		if !challenge.ShouldComplete(p) {
			continue
		}

		won, err := e.completeChallenge(ctx, st, def, p.Progress, out)
		if err != nil {
			return err
		}
		if !won {
			out.RacesLost++
			continue
		}
		out.CompletedChallenges = append(out.CompletedChallenges, def)
		out.AwardedXP += def.XPReward

		if def.BadgeID == "" {
			continue
		}
		if _, ok := earned[def.BadgeID]; ok {
			continue
		}
		bdef, ok := e.catalog.Get(def.BadgeID)
		if !ok {
			e.log.Warn("challenge references unknown badge",
				logger.ChallengeID(string(def.ID)), logger.BadgeID(string(def.BadgeID)))
			continue
		}
		won, err = e.awardBadge(ctx, st, bdef, out)
		if err != nil {
			return err
		}
		earned[bdef.ID] = struct{}{}
		if won {
			out.NewBadges = append(out.NewBadges, bdef)
			out.AwardedXP += bdef.XPReward
		} else {
			out.RacesLost++
		}
	}
	return nil
}

// awardBadge inserts the badge with its XP entry. It returns false when a
// concurrent writer already holds the award.
func (e *AwardEvaluator) awardBadge(ctx context.Context, st *userstate.State, def badge.Definition, out *AwardOutcome) (bool, error) {
	userID := st.Member.UserID
	ub := badge.UserBadge{UserID: userID, BadgeID: def.ID, EarnedAt: st.Now.UTC(), IsNew: true}

	var entry *activity.LedgerEntry
	if def.XPReward > 0 {
		entry = activity.NewAwardEntry(uuid.NewString(), userID, activity.SourceBadge, string(def.ID), def.XPReward, st.Today, st.Now)
	}

	won, err := e.writeOnce(ctx, func(ctx context.Context) error {
		return e.badges.Award(ctx, ub, entry)
	})
	if err != nil {
		return false, fmt.Errorf("evaluate_awards: award badge %s: %w", def.ID, err)
	}
	if !won {
		e.log.Debug("badge award race lost", logger.UserID(string(userID)), logger.BadgeID(string(def.ID)))
		return false, nil
	}
	if entry != nil {
		out.EntryIDs = append(out.EntryIDs, entry.ID)
	}

	e.log.Info("badge awarded",
		logger.UserID(string(userID)), logger.BadgeID(string(def.ID)), logger.XPAmount(def.XPReward))
	e.publish(shared.NewBadgeAwardedEvent(string(userID), string(def.ID), def.XPReward, string(def.Rarity)))
	return true, nil
}

func (e *AwardEvaluator) completeChallenge(ctx context.Context, st *userstate.State, def challenge.Definition, capped int64, out *AwardOutcome) (bool, error) {
	userID := st.Member.UserID
	c := challenge.Completion{ChallengeID: def.ID, UserID: userID, CompletedAt: st.Now.UTC(), Progress: capped}

	var entry *activity.LedgerEntry
	if def.XPReward > 0 {
		entry = activity.NewAwardEntry(uuid.NewString(), userID, activity.SourceChallenge, string(def.ID), def.XPReward, st.Today, st.Now)
	}

	won, err := e.writeOnce(ctx, func(ctx context.Context) error {
		return e.challenges.RecordCompletion(ctx, c, entry)
	})
	if err != nil {
		return false, fmt.Errorf("evaluate_awards: complete challenge %s: %w", def.ID, err)
	}
	if !won {
		e.log.Debug("challenge completion race lost", logger.UserID(string(userID)), logger.ChallengeID(string(def.ID)))
		return false, nil
	}
	if entry != nil {
		out.EntryIDs = append(out.EntryIDs, entry.ID)
	}

	e.log.Info("challenge completed",
		logger.UserID(string(userID)), logger.ChallengeID(string(def.ID)), logger.XPAmount(def.XPReward))
	e.publish(shared.NewChallengeCompletedEvent(string(userID), string(def.ID), def.XPReward, string(def.BadgeID)))
	return true, nil
}

// writeOnce runs an insert-if-not-exists. Transient failures are retried; a
// lost race is success without a write and is never retried.
func (e *AwardEvaluator) writeOnce(ctx context.Context, insert func(ctx context.Context) error) (bool, error) {
	err := e.retrier.Do(ctx, insert)
	switch {
	case err == nil:
		return true, nil
	case shared.IsRaceLost(err):
		return false, nil
	default:
		return false, err
	}
}

func (e *AwardEvaluator) publish(event shared.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(event); err != nil {
		e.log.Warn("publish event failed", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
