// Package userstate loads everything needed to recompute one user's progress
// and runs the pure calculators over it. Commands and queries share it so that
// both see exactly the same derived state.
package userstate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/retry"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// State is a user's committed log plus the values derived from it.
type State struct {
	Member  *member.Member
	Now     time.Time
	Today   timeutil.Date
	Events  []*activity.Event
	Entries []activity.LedgerEntry
	Badges  []badge.UserBadge

	Snapshot progress.Snapshot
}

// Loader reads a user's log and recomputes the snapshot.
type Loader struct {
	events  activity.Store
	ledger  activity.Ledger
	members member.Directory
	badges  badge.Repository
	calc    *progress.Calculator
	clock   shared.Clock
	retrier *retry.Retrier
}

// NewLoader creates a Loader.
func NewLoader(
	events activity.Store,
	ledger activity.Ledger,
	members member.Directory,
	badges badge.Repository,
	calc *progress.Calculator,
	clock shared.Clock,
) *Loader {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Loader{
		events:  events,
		ledger:  ledger,
		members: members,
		badges:  badges,
		calc:    calc,
		clock:   clock,
		retrier: retry.DatabaseRetrier(),
	}
}

// Calculator returns the calculator in use.
func (l *Loader) Calculator() *progress.Calculator {
	return l.calc
}

// Clock returns the clock in use.
func (l *Loader) Clock() shared.Clock {
	return l.clock
}

// Member returns the directory entry, or a default member (UTC, student, no
// scopes) when the account service has not synced the user yet.
func (l *Loader) Member(ctx context.Context, userID shared.UserID) (*member.Member, error) {
	m, err := l.members.Get(ctx, userID)
	if err == nil {
		return m, nil
	}
	if shared.IsNotFound(err) {
		return &member.Member{UserID: userID, Role: shared.RoleStudent}, nil
	}
	return nil, err
}

// Load reads the member, events, ledger and badges concurrently and computes
// the snapshot. Transient storage errors are retried; the reads are
// side-effect free so a retry cannot double count.
func (l *Loader) Load(ctx context.Context, userID shared.UserID) (*State, error) {
	var st *State
	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		s, err := l.load(ctx, userID)
		if err != nil {
			if shared.IsRetryable(err) {
				return retry.Retryable(err)
			}
			return err
		}
		st = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (l *Loader) load(ctx context.Context, userID shared.UserID) (*State, error) {
	st := &State{Now: l.clock.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := l.Member(gctx, userID)
		st.Member = m
		return err
	})
	g.Go(func() error {
		events, err := l.events.ListByUser(gctx, userID)
		st.Events = events
		return err
	})
	g.Go(func() error {
		entries, err := l.ledger.Entries(gctx, userID)
		st.Entries = entries
		return err
	})
	g.Go(func() error {
		badges, err := l.badges.ListByUser(gctx, userID)
		st.Badges = badges
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st.Today = st.Member.Today(st.Now)
	st.Snapshot = l.calc.Snapshot(st.Events, st.Entries, st.Today)
	return st, nil
}

// Measure evaluates a windowed metric over the loaded log.
func (s *State) Measure(calc *progress.Calculator, m progress.Metric, r timeutil.DateRange) int64 {
	return calc.Measure(m, s.Events, s.Entries, r)
}

// TotalXP is the ledger sum.
func (s *State) TotalXP() int64 {
	return s.Snapshot.Level.TotalXP
}
