// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRefresher recomputes and caches one snapshot.
type LeaderboardRefresher interface {
	Refresh(ctx context.Context, scope shared.ScopeID, window string, metric progress.Metric) (*leaderboard.Snapshot, error)
}

// ScopeLister lists known scopes.
type ScopeLister interface {
	ListScopes(ctx context.Context) ([]shared.ScopeID, error)
}

// RefreshLeaderboardsConfig контролирует, какие снимки прогреваются.
type RefreshLeaderboardsConfig struct {
	Windows     []string
	Metrics     []progress.Metric
	IncludeAll  bool
	Concurrency int
}

// DefaultRefreshLeaderboardsConfig returns sensible defaults.
func DefaultRefreshLeaderboardsConfig() RefreshLeaderboardsConfig {
	return RefreshLeaderboardsConfig{
		Windows:     []string{string(leaderboard.WindowWeek), string(leaderboard.WindowMonth), string(leaderboard.WindowAllTime)},
		Metrics:     []progress.Metric{progress.MetricXP, progress.MetricBooks, progress.MetricMinutes, progress.MetricPages},
		IncludeAll:  true,
		Concurrency: 4,
	}
}

// RefreshStats - итог одного прогона.
type RefreshStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Scopes    int
	Refreshed int
	Failed    int
}

// RefreshLeaderboardsJob прогревает кэш снимков для всех областей, окон и метрик.
// Ошибка одного снимка не останавливает остальные.
type RefreshLeaderboardsJob struct {
	refresher LeaderboardRefresher
	scopes    ScopeLister
	config    RefreshLeaderboardsConfig
	log       *logger.Logger

	last atomic.Pointer[RefreshStats]
}

// NewRefreshLeaderboardsJob creates the job.
func NewRefreshLeaderboardsJob(refresher LeaderboardRefresher, scopes ScopeLister, cfg RefreshLeaderboardsConfig, log *logger.Logger) *RefreshLeaderboardsJob {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &RefreshLeaderboardsJob{
		refresher: refresher,
		scopes:    scopes,
		config:    cfg,
		log:       log.With(logger.Component("job.refresh_leaderboards")),
	}
}

// Name implements scheduler.Job.
func (j *RefreshLeaderboardsJob) Name() string { return "refresh_leaderboards" }

// Description implements scheduler.Job.
func (j *RefreshLeaderboardsJob) Description() string {
	return "Recomputes cached leaderboard snapshots for every scope"
}

// Run implements scheduler.Job.
func (j *RefreshLeaderboardsJob) Run(ctx context.Context) error {
	stats := &RefreshStats{StartedAt: time.Now()}

	scopes, err := j.scopes.ListScopes(ctx)
	if err != nil {
		return fmt.Errorf("refresh_leaderboards: list scopes: %w", err)
	}
	if j.config.IncludeAll {
		scopes = append(scopes, shared.ScopeAll)
	}
	stats.Scopes = len(scopes)

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, scope := range scopes {
		for _, window := range j.config.Windows {
			for _, metric := range j.config.Metrics {
				g.Go(func() error {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if _, err := j.refresher.Refresh(gctx, scope, window, metric); err != nil {
						failed.Add(1)
						j.log.Warn("snapshot refresh failed",
							logger.String("scope", string(scope)),
							logger.String("window", window),
							logger.String("metric", string(metric)),
							logger.Err(err))
						return nil
					}
					refreshed.Add(1)
					return nil
				})
			}
		}
	}
	err = g.Wait()

	stats.Refreshed = int(refreshed.Load())
	stats.Failed = int(failed.Load())
	stats.Duration = time.Since(stats.StartedAt)
	j.last.Store(stats)

	j.log.Info("leaderboards refreshed",
		logger.Int("scopes", stats.Scopes),
		logger.Int("refreshed", stats.Refreshed),
		logger.Int("failed", stats.Failed),
		logger.Latency(stats.Duration))
	return err
}

// LastStats returns the stats of the previous run, or nil.
func (j *RefreshLeaderboardsJob) LastStats() *RefreshStats {
	return j.last.Load()
}
