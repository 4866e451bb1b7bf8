package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/config"
	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

var now = time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

type env struct {
	db      *memory.DB
	store   *memory.EventStore
	members *memory.MemberDirectory
	badges  *memory.BadgeRepo
	chs     *memory.ChallengeRepo
	cache   *memory.SnapshotCache
	policy  *access.Policy
	calc    *progress.Calculator
	loader  *userstate.Loader
	catalog *badge.Catalog
	clock   shared.FixedClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cat, err := config.DefaultCatalog()
	require.NoError(t, err)

	e := &env{db: memory.NewDB(), cache: memory.NewSnapshotCache(), clock: shared.FixedClock{T: now}}
	e.store = memory.NewEventStore(e.db)
	e.members = memory.NewMemberDirectory(e.db)
	e.badges = memory.NewBadgeRepo(e.db)
	e.chs = memory.NewChallengeRepo(e.db)
	e.policy = access.NewPolicy(e.members)
	e.calc = progress.NewCalculator(cat.Rules())
	e.catalog = cat.BadgeCatalog()
	e.loader = userstate.NewLoader(e.store, e.store, e.members, e.badges, e.calc, e.clock)
	return e
}

func (e *env) member(t *testing.T, id shared.UserID, joined string, scopes ...shared.ScopeID) {
	t.Helper()
	m, err := member.New(id, "", timeutil.MustParseDate(joined).Time(time.UTC), shared.RoleStudent, scopes)
	require.NoError(t, err)
	require.NoError(t, e.members.Upsert(context.Background(), m))
}

// seed appends an event with its XP entry, bypassing award evaluation.
func (e *env) seed(t *testing.T, id shared.UserID, kind activity.Kind, qty int64, on, key string) {
	t.Helper()
	d := activity.Draft{
		UserID: id, Kind: kind, Quantity: qty, OccurredOn: timeutil.MustParseDate(on),
		IdempotencyKey: shared.IdempotencyKey(key), SchemaVersion: 1,
	}
	if kind == activity.KindBookFinished {
		d.BookID = "book-" + key
	}
	ev := activity.NewEvent(d, now)
	var entry *activity.LedgerEntry
	if xp := e.calc.XPFor(ev); xp > 0 {
		entry = activity.NewEventEntry(key, ev, xp, now)
	}
	_, err := e.store.Append(context.Background(), ev, entry)
	require.NoError(t, err)
}

func (e *env) leaderboard(useCache bool) *query.GetLeaderboardHandler {
	return query.NewGetLeaderboardHandler(e.members, e.store, e.store, e.cache, e.policy, e.calc, e.clock,
		query.GetLeaderboardHandlerConfig{CacheTTL: time.Minute, UseCache: useCache}, nil)
}

var teacher = access.Principal{Subject: "t1", Role: shared.RoleTeacher, Scopes: []shared.ScopeID{"class-7b"}}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestLeaderboard_XPTieBrokenByBooks(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.member(t, "bota", "2025-09-02", "class-7b")
	e.seed(t, "amir", activity.KindMinutesRead, 50, "2026-03-10", "amir-000001")
	e.seed(t, "bota", activity.KindBookFinished, 1, "2026-03-10", "bota-000001")

	res, err := e.leaderboard(false).Handle(context.Background(), query.GetLeaderboardQuery{
		Principal: teacher, Scope: "class-7b", Window: "week", Metric: progress.MetricXP,
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.Equal(t, shared.UserID("bota"), res.Entries[0].UserID)
	assert.Equal(t, leaderboard.Rank(1), res.Entries[0].Rank)
	assert.Equal(t, shared.UserID("amir"), res.Entries[1].UserID)
	assert.Equal(t, leaderboard.Rank(2), res.Entries[1].Rank)
	assert.Equal(t, res.Entries[0].MetricValue, res.Entries[1].MetricValue)
	assert.Equal(t, timeutil.MustParseDate("2026-03-09"), res.From)
}

func TestLeaderboard_WindowExcludesOlderEvents(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.member(t, "bota", "2025-09-02", "class-7b")
	e.seed(t, "amir", activity.KindMinutesRead, 300, "2026-02-10", "amir-000001")
	e.seed(t, "bota", activity.KindMinutesRead, 20, "2026-03-11", "bota-000001")

	h := e.leaderboard(false)
	week, err := h.Handle(context.Background(), query.GetLeaderboardQuery{
		Principal: teacher, Scope: "class-7b", Window: "week", Metric: progress.MetricMinutes,
	})
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("bota"), week.Entries[0].UserID)
	assert.Equal(t, int64(0), week.Entries[1].MetricValue)

	all, err := h.Handle(context.Background(), query.GetLeaderboardQuery{
		Principal: teacher, Scope: "class-7b", Window: "all_time", Metric: progress.MetricMinutes,
	})
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("amir"), all.Entries[0].UserID)
}

func TestLeaderboard_AllTimeMatchesTotalXP(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")
	// Imported history predating any configured backdating bound.
	e.seed(t, "amir", activity.KindMinutesRead, 30, "1969-12-31", "amir-000001")
	e.seed(t, "amir", activity.KindMinutesRead, 10, "1970-01-01", "amir-000002")
	e.seed(t, "amir", activity.KindMinutesRead, 5, "2026-03-11", "amir-000003")

	res, err := e.leaderboard(false).Handle(context.Background(), query.GetLeaderboardQuery{
		Principal: teacher, Scope: "class-7b", Window: "all_time", Metric: progress.MetricXP,
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	st, err := e.loader.Load(context.Background(), "amir")
	require.NoError(t, err)
	assert.Equal(t, int64(45), st.TotalXP())
	assert.Equal(t, st.TotalXP(), res.Entries[0].MetricValue)
	assert.True(t, res.From.IsZero())
}

func TestLeaderboard_ScopeDenied(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")

	_, err := e.leaderboard(false).Handle(context.Background(), query.GetLeaderboardQuery{
		Principal: access.Principal{Subject: "zara", Role: shared.RoleStudent, Scopes: []shared.ScopeID{"class-7a"}},
		Scope:     "class-7b",
	})
	assert.True(t, shared.IsScope(err))
}

func TestLeaderboard_InvalidMetricAndWindow(t *testing.T) {
	e := newEnv(t)
	h := e.leaderboard(false)

	_, err := h.Handle(context.Background(), query.GetLeaderboardQuery{Principal: teacher, Scope: "class-7b", Metric: "likes"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), query.GetLeaderboardQuery{Principal: teacher, Scope: "class-7b", Window: "custom"})
	assert.True(t, shared.IsValidation(err))
}

func TestLeaderboard_CachedSnapshotAndMe(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.seed(t, "amir", activity.KindPagesRead, 50, "2026-03-10", "amir-000001")
	h := e.leaderboard(true)
	q := query.GetLeaderboardQuery{
		Principal: access.Principal{Subject: "amir", Role: shared.RoleStudent},
		Scope:     "class-7b", Window: "month", Metric: progress.MetricPages,
	}

	first, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.NotNil(t, first.Me)
	assert.Equal(t, int64(50), first.Me.MetricValue)

	second, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Entries, second.Entries)

	snap, err := h.Refresh(context.Background(), "class-7b", "month", progress.MetricPages)
	require.NoError(t, err)
	assert.Equal(t, "class-7b:pages:month:2026-03-01:2026-04-01", snap.Key)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestUserProgress_DerivedFromLedger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.seed(t, "amir", activity.KindMinutesRead, 90, "2026-03-11", "amir-000001")
	e.seed(t, "amir", activity.KindMinutesRead, 30, "2026-03-12", "amir-000002")
	require.NoError(t, e.badges.Award(ctx, badge.UserBadge{UserID: "amir", BadgeID: "first-book", EarnedAt: now, IsNew: true}, nil))

	h := query.NewGetUserProgressHandler(e.loader, e.policy, e.catalog)
	res, err := h.Handle(ctx, query.GetUserProgressQuery{Principal: teacher, UserID: "amir"})
	require.NoError(t, err)

	assert.Equal(t, int64(120), res.XPTotal)
	assert.Equal(t, 2, res.Level.Level)
	assert.Equal(t, int64(20), res.Level.XPIntoLevel)
	assert.Equal(t, 2, res.Streak.CurrentStreak)
	require.Len(t, res.Badges, 1)
	assert.Equal(t, "First Chapter Closed", res.Badges[0].Name)
	assert.Equal(t, 1, res.NewBadges)
}

func TestUserProgress_ParentSeesWardOnly(t *testing.T) {
	e := newEnv(t)
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.member(t, "bota", "2025-09-01", "class-7b")
	parent := access.Principal{Subject: "p1", Role: shared.RoleParent, Wards: []shared.UserID{"amir"}}
	h := query.NewGetUserProgressHandler(e.loader, e.policy, e.catalog)

	_, err := h.Handle(context.Background(), query.GetUserProgressQuery{Principal: parent, UserID: "amir"})
	assert.NoError(t, err)

	_, err = h.Handle(context.Background(), query.GetUserProgressQuery{Principal: parent, UserID: "bota"})
	assert.True(t, shared.IsScope(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func marchChallenge() challenge.Definition {
	return challenge.Definition{
		ID:        "march-minutes",
		Name:      "Read 200 minutes in March",
		Metric:    progress.MetricMinutes,
		Target:    200,
		StartDate: timeutil.MustParseDate("2026-03-01"),
		EndDate:   timeutil.MustParseDate("2026-04-01"),
		Scope:     challenge.Scope{ScopeIDs: []shared.ScopeID{"class-7b"}},
		XPReward:  100,
	}
}

func TestChallengeProgress_CappedAndScoped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.member(t, "amir", "2025-09-01", "class-7b")
	e.member(t, "zara", "2025-09-01", "class-7a")
	require.NoError(t, e.chs.Create(ctx, marchChallenge()))
	e.seed(t, "amir", activity.KindMinutesRead, 150, "2026-02-28", "amir-000001")
	e.seed(t, "amir", activity.KindMinutesRead, 120, "2026-03-02", "amir-000002")
	e.seed(t, "amir", activity.KindMinutesRead, 100, "2026-03-05", "amir-000003")

	h := query.NewGetChallengeProgressHandler(e.chs, e.loader, e.policy)
	admin := access.Principal{Subject: "root", Role: shared.RoleAdmin}

	p, err := h.Handle(ctx, query.GetChallengeProgressQuery{Principal: admin, ChallengeID: "march-minutes", UserID: "amir"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.Progress.Progress)
	assert.False(t, p.Completed())

	_, err = h.Handle(ctx, query.GetChallengeProgressQuery{Principal: admin, ChallengeID: "march-minutes", UserID: "zara"})
	assert.True(t, shared.IsScope(err))

	_, err = h.Handle(ctx, query.GetChallengeProgressQuery{Principal: admin, ChallengeID: "nope", UserID: "amir"})
	assert.True(t, shared.IsNotFound(err))

	list := query.NewListUserChallengesHandler(e.chs, e.loader, e.policy, 3)
	rows, err := list.Handle(ctx, query.ListUserChallengesQuery{Principal: admin, UserID: "amir"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-01", rows[0].StartDate)
}
