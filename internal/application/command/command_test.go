package command_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/config"
	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(day string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := timeutil.MustParseDate(day)
	c.t = d.Time(time.UTC).Add(18 * time.Hour)
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) count(t shared.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db         *memory.DB
	store      *memory.EventStore
	badges     *memory.BadgeRepo
	challenges *memory.ChallengeRepo
	members    *memory.MemberDirectory
	clock      *testClock
	bus        *recordingBus
	loader     *userstate.Loader
	awards     *command.AwardEvaluator
	submit     *command.SubmitEventHandler
	reverse    *command.ReverseEventHandler
	create     *command.CreateChallengeHandler
}

func newFixture(t *testing.T, tune func(*progress.Rules)) *fixture {
	t.Helper()
	cat, err := config.DefaultCatalog()
	require.NoError(t, err)
	rules := cat.Rules()
	if tune != nil {
		tune(&rules)
	}

	f := &fixture{db: memory.NewDB(), clock: &testClock{}, bus: &recordingBus{}}
	f.clock.Set("2026-02-01")
	f.store = memory.NewEventStore(f.db)
	f.badges = memory.NewBadgeRepo(f.db)
	f.challenges = memory.NewChallengeRepo(f.db)
	f.members = memory.NewMemberDirectory(f.db)

	policy := access.NewPolicy(f.members)
	f.loader = userstate.NewLoader(f.store, f.store, f.members, f.badges, progress.NewCalculator(rules), f.clock)
	f.awards = command.NewAwardEvaluator(f.loader, cat.BadgeCatalog(), f.badges, f.challenges, f.bus,
		command.AwardEvaluatorConfig{ChallengeGraceDays: 3, MaxRetries: 3}, nil)
	f.submit = command.NewSubmitEventHandler(f.store, f.loader, policy, f.awards, f.bus,
		command.SubmitEventHandlerConfig{MaxFutureDays: 1, EarliestOccurredOn: timeutil.MustParseDate("2000-01-01")}, nil)
	f.reverse = command.NewReverseEventHandler(f.store, f.store, f.loader, f.bus, nil)
	f.create = command.NewCreateChallengeHandler(f.challenges, cat.BadgeCatalog(), policy, f.clock, nil)
	return f
}

var service = access.Principal{Subject: "ingest", Role: shared.RoleService}

func (f *fixture) log(t *testing.T, user shared.UserID, kind activity.Kind, qty int64, on, key string) *command.SubmitEventResult {
	t.Helper()
	cmd := command.SubmitEventCommand{
		Principal:      service,
		UserID:         user,
		Kind:           kind,
		Quantity:       qty,
		OccurredOn:     timeutil.MustParseDate(on),
		IdempotencyKey: shared.IdempotencyKey(key),
	}
	if kind == activity.KindBookFinished || kind == activity.KindReviewWritten {
		cmd.BookID = "book-" + key
	}
	res, err := f.submit.Handle(context.Background(), cmd)
	require.NoError(t, err)
	return res
}

func (f *fixture) state(t *testing.T, user shared.UserID) *userstate.State {
	t.Helper()
	st, err := f.loader.Load(context.Background(), user)
	require.NoError(t, err)
	return st
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_TwoDaysBuildStreakAndXP(t *testing.T) {
	f := newFixture(t, nil)

	f.log(t, "u1", activity.KindMinutesRead, 35, "2026-02-01", "session-0001")
	f.clock.Set("2026-02-02")
	res := f.log(t, "u1", activity.KindMinutesRead, 28, "2026-02-02", "session-0002")

	require.NotNil(t, res.Streak)
	assert.Equal(t, 2, res.Streak.CurrentStreak)
	assert.Equal(t, int64(28), res.XPAwarded)
	assert.Equal(t, int64(63), res.Level.TotalXP)
	assert.Equal(t, 2, f.bus.count(shared.EventActivityAccepted))
}

func TestSubmit_FreezeBridgesMissedDay(t *testing.T) {
	f := newFixture(t, nil)

	f.log(t, "u1", activity.KindMinutesRead, 20, "2026-02-01", "session-0001")
	f.clock.Set("2026-02-03")
	res := f.log(t, "u1", activity.KindMinutesRead, 20, "2026-02-03", "session-0003")

	assert.Equal(t, 3, res.Streak.CurrentStreak)
	assert.Equal(t, 0, res.Streak.FreezesAvailable)
	assert.Equal(t, []timeutil.Date{timeutil.MustParseDate("2026-02-02")}, res.Streak.FreezeUsedOn)
}

func TestSubmit_RetriedRequestIsStoredOnce(t *testing.T) {
	f := newFixture(t, nil)

	first := f.log(t, "u1", activity.KindMinutesRead, 30, "2026-02-01", "retry-me-01")
	second := f.log(t, "u1", activity.KindMinutesRead, 30, "2026-02-01", "retry-me-01")

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.False(t, second.PayloadMismatch)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Zero(t, second.XPAwarded)

	st := f.state(t, "u1")
	assert.Len(t, st.Events, 1)
	assert.Equal(t, int64(30), activity.TotalWithin(st.Entries, timeutil.DateRange{
		From: timeutil.MustParseDate("2026-02-01"), To: timeutil.MustParseDate("2026-02-02"),
	}))
}

func TestSubmit_DuplicateWithDifferentPayloadIsFlagged(t *testing.T) {
	f := newFixture(t, nil)

	f.log(t, "u1", activity.KindMinutesRead, 30, "2026-02-01", "retry-me-01")
	res := f.log(t, "u1", activity.KindMinutesRead, 45, "2026-02-01", "retry-me-01")

	assert.True(t, res.Duplicate)
	assert.True(t, res.PayloadMismatch)
	assert.Equal(t, int64(30), res.Event.Quantity)
}

func TestSubmit_ConcurrentRetriesStoreOneEvent(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.submit.Handle(context.Background(), command.SubmitEventCommand{
				Principal:      service,
				UserID:         "u1",
				Kind:           activity.KindBookFinished,
				OccurredOn:     timeutil.MustParseDate("2026-02-01"),
				IdempotencyKey: "tablet-sync-42",
				BookID:         "dune",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st := f.state(t, "u1")
	assert.Len(t, st.Events, 1)

	// 50 for the book, 25 for first-book, awarded once each.
	assert.Equal(t, int64(75), st.TotalXP())
	assert.Len(t, st.Badges, 1)
	assert.Equal(t, 1, f.bus.count(shared.EventBadgeAwarded))
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.submit.Handle(ctx, command.SubmitEventCommand{
		Principal: service, UserID: "u1", Kind: "audiobook", Quantity: 5,
		OccurredOn: timeutil.MustParseDate("2026-02-01"), IdempotencyKey: "key-00000001",
	})
	assert.True(t, shared.IsValidation(err))

	_, err = f.submit.Handle(ctx, command.SubmitEventCommand{
		Principal: service, UserID: "u1", Kind: activity.KindMinutesRead, Quantity: -5,
		OccurredOn: timeutil.MustParseDate("2026-02-01"), IdempotencyKey: "key-00000002",
	})
	assert.True(t, shared.IsValidation(err))

	_, err = f.submit.Handle(ctx, command.SubmitEventCommand{
		Principal: service, UserID: "u1", Kind: activity.KindMinutesRead, Quantity: 5,
		OccurredOn: timeutil.MustParseDate("2026-02-05"), IdempotencyKey: "key-00000003",
	})
	assert.True(t, shared.IsValidation(err))

	_, err = f.submit.Handle(ctx, command.SubmitEventCommand{
		Principal: service, UserID: "u1", Kind: activity.KindMinutesRead, Quantity: 5,
		OccurredOn: timeutil.MustParseDate("1999-12-31"), IdempotencyKey: "key-00000004",
	})
	assert.True(t, shared.IsValidation(err))

	st := f.state(t, "u1")
	assert.Empty(t, st.Events)
}

func TestSubmit_StudentCannotSubmitForOthers(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.submit.Handle(context.Background(), command.SubmitEventCommand{
		Principal:      access.Principal{Subject: "u2", Role: shared.RoleStudent},
		UserID:         "u1",
		Kind:           activity.KindMinutesRead,
		Quantity:       10,
		OccurredOn:     timeutil.MustParseDate("2026-02-01"),
		IdempotencyKey: "key-00000001",
	})
	assert.True(t, shared.IsScope(err))
}

func TestSubmit_BackdatedEventFillsGap(t *testing.T) {
	f := newFixture(t, func(r *progress.Rules) { r.Streak.InitialFreezes = 0 })

	f.log(t, "u1", activity.KindBookFinished, 1, "2026-02-01", "book-000001")
	f.clock.Set("2026-02-04")
	f.log(t, "u1", activity.KindMinutesRead, 10, "2026-02-03", "session-0003")
	before := f.log(t, "u1", activity.KindMinutesRead, 10, "2026-02-04", "session-0004")
	assert.Equal(t, 2, before.Streak.CurrentStreak)

	f.clock.Set("2026-02-05")
	after := f.log(t, "u1", activity.KindMinutesRead, 10, "2026-02-02", "session-0002")
	assert.Equal(t, 4, after.Streak.CurrentStreak)
	assert.Equal(t, 4, after.Streak.LongestStreak)
	assert.Empty(t, after.NewBadges)

	st := f.state(t, "u1")
	assert.Len(t, st.Badges, 1)
}

func TestSubmit_LevelUpIsReported(t *testing.T) {
	f := newFixture(t, nil)

	res := f.log(t, "u1", activity.KindMinutesRead, 120, "2026-02-01", "session-0001")

	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.Level.Level)
	assert.Equal(t, 1, f.bus.count(shared.EventLevelUp))
}

// interleavingStore lets another device's submission land right after the
// wrapped append commits and before the caller evaluates awards.
type interleavingStore struct {
	*memory.EventStore
	once  sync.Once
	other func()
}

func (s *interleavingStore) Append(ctx context.Context, ev *activity.Event, entry *activity.LedgerEntry) (activity.AppendResult, error) {
	res, err := s.EventStore.Append(ctx, ev, entry)
	if err == nil {
		s.once.Do(s.other)
	}
	return res, err
}

func TestSubmit_ConcurrentAppendDoesNotShiftLevelUp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var tablet *command.SubmitEventResult
	store := &interleavingStore{EventStore: f.store, other: func() {
		tablet = f.log(t, "u1", activity.KindMinutesRead, 90, "2026-02-01", "tablet-0001")
	}}
	phone := command.NewSubmitEventHandler(store, f.loader, access.NewPolicy(f.members), f.awards, f.bus,
		command.SubmitEventHandlerConfig{MaxFutureDays: 1}, nil)

	res, err := phone.Handle(ctx, command.SubmitEventCommand{
		Principal:      service,
		UserID:         "u1",
		Kind:           activity.KindMinutesRead,
		Quantity:       20,
		OccurredOn:     timeutil.MustParseDate("2026-02-01"),
		IdempotencyKey: "phone-0001",
	})
	require.NoError(t, err)
	require.NotNil(t, tablet)

	// 20 XP от телефона не пересекают порог 100; его пересекает планшет.
	assert.Equal(t, int64(110), res.Level.TotalXP)
	assert.False(t, res.LeveledUp)
	assert.True(t, tablet.LeveledUp)
	assert.Equal(t, 1, f.bus.count(shared.EventLevelUp))
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARDS
// ══════════════════════════════════════════════════════════════════════════════

func TestAwards_EvaluatingTwiceAwardsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.log(t, "u1", activity.KindBookFinished, 1, "2026-02-01", "book-000001")

	out, err := f.awards.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, out.NewBadges)

	badges, _ := f.badges.ListByUser(ctx, "u1")
	assert.Len(t, badges, 1)
}

// staleBadgeRepo hides existing awards from reads, as a concurrent pass
// that loaded state before the other writer committed would see it.
type staleBadgeRepo struct {
	*memory.BadgeRepo
}

func (staleBadgeRepo) ListByUser(context.Context, shared.UserID) ([]badge.UserBadge, error) {
	return nil, nil
}

func TestAwards_RaceLostCountsAsSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.log(t, "u1", activity.KindBookFinished, 1, "2026-02-01", "book-000001")

	cat, _ := config.DefaultCatalog()
	stale := staleBadgeRepo{f.badges}
	loader := userstate.NewLoader(f.store, f.store, f.members, stale, f.loader.Calculator(), f.clock)
	racer := command.NewAwardEvaluator(loader, cat.BadgeCatalog(), stale, f.challenges, f.bus,
		command.AwardEvaluatorConfig{ChallengeGraceDays: 3}, nil)

	out, err := racer.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.RacesLost)
	assert.Empty(t, out.NewBadges)

	st := f.state(t, "u1")
	assert.Equal(t, int64(75), st.TotalXP())
}

func TestAwards_TransientFailureIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.db.FailNext("award_badge", shared.ErrServiceUnavailable)

	res := f.log(t, "u1", activity.KindBookFinished, 1, "2026-02-01", "book-000001")

	assert.Equal(t, []string{"first-book"}, res.NewBadges)
}

func TestAwards_FailedEvaluationKeepsEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.db.FailNext("award_badge", assert.AnError)

	res := f.log(t, "u1", activity.KindBookFinished, 1, "2026-02-01", "book-000001")
	assert.Nil(t, res.Level)

	out, err := f.awards.Evaluate(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out.NewBadges, 1)
	assert.Equal(t, badge.ID("first-book"), out.NewBadges[0].ID)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES AND REVERSAL
// ══════════════════════════════════════════════════════════════════════════════

func booksChallenge() challenge.Definition {
	return challenge.Definition{
		ID:        "feb-books",
		Name:      "Four books in two weeks",
		Metric:    progress.MetricBooks,
		Target:    4,
		StartDate: timeutil.MustParseDate("2026-02-01"),
		EndDate:   timeutil.MustParseDate("2026-02-15"),
		Scope:     challenge.Scope{ScopeIDs: []shared.ScopeID{"class-7b"}},
		XPReward:  200,
		BadgeID:   "challenge-finisher",
	}
}

func TestChallenge_CompletionSurvivesReversal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.members.Upsert(ctx, &member.Member{
		UserID: "u1", Role: shared.RoleStudent, JoinedAt: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Scopes: []shared.ScopeID{"class-7b"},
	}))
	_, err := f.create.Handle(ctx, command.CreateChallengeCommand{
		Principal:  access.Principal{Subject: "root", Role: shared.RoleAdmin},
		Definition: booksChallenge(),
	})
	require.NoError(t, err)

	f.clock.Set("2026-02-10")
	var last *command.SubmitEventResult
	for i, day := range []string{"2026-02-02", "2026-02-04", "2026-02-07", "2026-02-10"} {
		last = f.log(t, "u1", activity.KindBookFinished, 1, day, "book-00000"+string(rune('1'+i)))
	}
	assert.Equal(t, []string{"feb-books"}, last.CompletedChallenges)

	done, err := f.challenges.GetCompletion(ctx, "feb-books", "u1")
	require.NoError(t, err)
	require.NotNil(t, done)
	xpBefore := f.state(t, "u1").TotalXP()

	rev, err := f.reverse.Handle(ctx, command.ReverseEventCommand{
		Principal: access.Principal{Subject: "root", Role: shared.RoleAdmin},
		EventID:   last.Event.ID,
		Reason:    "duplicate entry from import",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-50), rev.Entry.Amount)

	out, err := f.awards.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, out.CompletedChallenges)

	still, err := f.challenges.GetCompletion(ctx, "feb-books", "u1")
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, done.CompletedAt, still.CompletedAt)
	assert.Equal(t, xpBefore-50, f.state(t, "u1").TotalXP())
	assert.Equal(t, 1, f.bus.count(shared.EventChallengeCompleted))
}

func TestReverse_SecondCallReturnsExistingEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	admin := access.Principal{Subject: "root", Role: shared.RoleAdmin}

	res := f.log(t, "u1", activity.KindMinutesRead, 40, "2026-02-01", "session-0001")

	first, err := f.reverse.Handle(ctx, command.ReverseEventCommand{Principal: admin, EventID: res.Event.ID, Reason: "bot"})
	require.NoError(t, err)
	second, err := f.reverse.Handle(ctx, command.ReverseEventCommand{Principal: admin, EventID: res.Event.ID, Reason: "bot"})
	require.NoError(t, err)

	assert.True(t, second.AlreadyReversed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(0), f.state(t, "u1").TotalXP())
	assert.Equal(t, 1, f.bus.count(shared.EventActivityReversed))
}

func TestReverse_RequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	res := f.log(t, "u1", activity.KindMinutesRead, 40, "2026-02-01", "session-0001")

	_, err := f.reverse.Handle(context.Background(), command.ReverseEventCommand{
		Principal: access.Principal{Subject: "t1", Role: shared.RoleTeacher},
		EventID:   res.Event.ID,
		Reason:    "nope",
	})
	assert.True(t, shared.IsScope(err))

	_, err = f.reverse.Handle(context.Background(), command.ReverseEventCommand{
		Principal: access.Principal{Subject: "root", Role: shared.RoleAdmin},
		EventID:   999,
		Reason:    "missing",
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestChallenge_RewardCrossingLevelAwardsBadgeSamePass(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.members.Upsert(ctx, &member.Member{
		UserID: "u1", Role: shared.RoleStudent, JoinedAt: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Scopes: []shared.ScopeID{"class-7b"},
	}))
	def := booksChallenge()
	def.ID = "feb-minutes"
	def.Name = "Thirty minutes, big reward"
	def.Metric = progress.MetricMinutes
	def.Target = 30
	def.XPReward = progress.Cumulative(20)
	def.BadgeID = ""
	_, err := f.create.Handle(ctx, command.CreateChallengeCommand{
		Principal:  access.Principal{Subject: "root", Role: shared.RoleAdmin},
		Definition: def,
	})
	require.NoError(t, err)

	f.clock.Set("2026-02-02")
	res := f.log(t, "u1", activity.KindMinutesRead, 30, "2026-02-02", "session-0001")

	assert.Equal(t, []string{"feb-minutes"}, res.CompletedChallenges)
	assert.Contains(t, res.NewBadges, "level-20")
	assert.Equal(t, 20, res.Level.Level)
	assert.True(t, res.LeveledUp)

	out, err := f.awards.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, out.NewBadges)
}
