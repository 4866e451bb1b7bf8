package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE AWARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AwardEvaluator re-runs badge and challenge evaluation for one user.
type AwardEvaluator interface {
	Evaluate(ctx context.Context, userID shared.UserID) (*command.AwardOutcome, error)
}

// ActiveUserLister finds users with recent events.
type ActiveUserLister interface {
	UsersWithEventsSince(ctx context.Context, since time.Time, after shared.UserID, limit int) ([]shared.UserID, error)
}

// ReconcileAwardsConfig configures the reconcile job.
type ReconcileAwardsConfig struct {
	Lookback    time.Duration
	// Batch - размер страницы; прогон проходит все страницы.
	Batch       int
	Concurrency int
}

// ReconcileStats - итог одного прогона.
type ReconcileStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Users     int
	Pages     int
	Badges    int
	Completed int
	XP        int64
	Failed    int
}

// ReconcileAwardsJob доначисляет награды, которые не удалось записать сразу
// после приёма события. Оценка идемпотентна, поэтому повторный прогон безопасен.
type ReconcileAwardsJob struct {
	evaluator AwardEvaluator
	users     ActiveUserLister
	clock     shared.Clock
	config    ReconcileAwardsConfig
	log       *logger.Logger

	last atomic.Pointer[ReconcileStats]
}

// NewReconcileAwardsJob creates the job.
func NewReconcileAwardsJob(evaluator AwardEvaluator, users ActiveUserLister, clock shared.Clock, cfg ReconcileAwardsConfig, log *logger.Logger) *ReconcileAwardsJob {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 48 * time.Hour
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &ReconcileAwardsJob{
		evaluator: evaluator,
		users:     users,
		clock:     clock,
		config:    cfg,
		log:       log.With(logger.Component("job.reconcile_awards")),
	}
}

// Name implements scheduler.Job.
func (j *ReconcileAwardsJob) Name() string { return "reconcile_awards" }

// Description implements scheduler.Job.
func (j *ReconcileAwardsJob) Description() string {
	return "Re-evaluates badges and challenges for recently active users"
}

// Run implements scheduler.Job.
func (j *ReconcileAwardsJob) Run(ctx context.Context) error {
	started := time.Now()
	stats := &ReconcileStats{StartedAt: j.clock.Now()}

	since := stats.StartedAt.Add(-j.config.Lookback)

	var badges, completed, failed atomic.Int64
	var xp atomic.Int64

	// Keyset-пагинация по user_id: каждый активный пользователь попадает в
	// прогон, сколько бы их ни было.
	var (
		cursor shared.UserID
		err    error
	)
	for {
		var users []shared.UserID
		users, err = j.users.UsersWithEventsSince(ctx, since, cursor, j.config.Batch)
		if err != nil {
			err = fmt.Errorf("reconcile_awards: list users after %q: %w", cursor, err)
			break
		}
		if len(users) == 0 {
			break
		}
		stats.Pages++
		stats.Users += len(users)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.config.Concurrency)
		for _, userID := range users {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out, err := j.evaluator.Evaluate(gctx, userID)
				if err != nil {
					failed.Add(1)
					j.log.Warn("reconcile failed", logger.UserID(string(userID)), logger.Err(err))
					return nil
				}
				badges.Add(int64(len(out.NewBadges)))
				completed.Add(int64(len(out.CompletedChallenges)))
				xp.Add(out.AwardedXP)
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			break
		}
		if len(users) < j.config.Batch {
			break
		}
		cursor = users[len(users)-1]
	}

	stats.Badges = int(badges.Load())
	stats.Completed = int(completed.Load())
	stats.XP = xp.Load()
	stats.Failed = int(failed.Load())
	stats.Duration = time.Since(started)
	j.last.Store(stats)

	if stats.Badges > 0 || stats.Completed > 0 {
		j.log.Info("missed awards repaired",
			logger.Int("users", stats.Users),
			logger.Int("pages", stats.Pages),
			logger.Int("badges", stats.Badges),
			logger.Int("challenges", stats.Completed),
			logger.XPAmount(stats.XP))
	}
	return err
}

// LastStats returns the stats of the previous run, or nil.
func (j *ReconcileAwardsJob) LastStats() *ReconcileStats {
	return j.last.Load()
}
