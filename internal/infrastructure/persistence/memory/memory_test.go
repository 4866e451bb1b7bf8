package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func minutesEvent(user shared.UserID, key string, qty int64, on string) *activity.Event {
	return activity.NewEvent(activity.Draft{
		UserID:         user,
		Kind:           activity.KindMinutesRead,
		Quantity:       qty,
		OccurredOn:     timeutil.MustParseDate(on),
		IdempotencyKey: shared.IdempotencyKey(key),
		SchemaVersion:  1,
	}, t0)
}

func TestEventStore_AppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(NewDB())

	ev := minutesEvent("u1", "key-00000001", 30, "2026-03-10")
	first, err := store.Append(ctx, ev, activity.NewEventEntry("e1", ev, 30, t0))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(1), first.Event.ID)
	require.NotNil(t, first.Entry)
	assert.Equal(t, "1", first.Entry.SourceRef)

	again := minutesEvent("u1", "key-00000001", 45, "2026-03-10")
	second, err := store.Append(ctx, again, activity.NewEventEntry("e2", again, 45, t0))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(1), second.Event.ID)
	assert.Equal(t, int64(30), second.Event.Quantity)
	assert.Nil(t, second.Entry)

	entries, err := store.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Another user may reuse the key.
	other, err := store.Append(ctx, minutesEvent("u2", "key-00000001", 10, "2026-03-10"), nil)
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestEventStore_ConcurrentAppendStoresOnce(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(NewDB())

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := minutesEvent("u1", "retry-key-1", 20, "2026-03-10")
			res, err := store.Append(ctx, ev, activity.NewEventEntry("x", ev, 20, t0))
			assert.NoError(t, err)
			if !res.Duplicate {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	events, _ := store.ListByUser(ctx, "u1")
	assert.Len(t, events, 1)
}

func TestEventStore_ReverseOnce(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(NewDB())

	ev := minutesEvent("u1", "key-00000001", 30, "2026-03-10")
	res, err := store.Append(ctx, ev, activity.NewEventEntry("e1", ev, 30, t0))
	require.NoError(t, err)

	rev := activity.Reversal{EventID: res.Event.ID, UserID: "u1", Reason: "fraud", ReversedBy: "admin", CreatedAt: t0}
	out, err := store.Reverse(ctx, rev, activity.NewReversalEntry("r1", res.Event, 30, "fraud", t0))
	require.NoError(t, err)
	assert.False(t, out.AlreadyReversed)
	assert.True(t, out.Event.Reversed)
	assert.Equal(t, int64(-30), out.Entry.Amount)

	again, err := store.Reverse(ctx, rev, activity.NewReversalEntry("r2", res.Event, 30, "fraud", t0))
	require.NoError(t, err)
	assert.True(t, again.AlreadyReversed)
	assert.Equal(t, "r1", again.Entry.ID)

	entries, _ := store.Entries(ctx, "u1")
	assert.Equal(t, int64(0), activity.Total(entries))

	_, err = store.Reverse(ctx, activity.Reversal{EventID: 99}, nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEventStore_ListByUsersFiltersRange(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(NewDB())

	_, _ = store.Append(ctx, minutesEvent("u1", "key-00000001", 10, "2026-03-01"), nil)
	_, _ = store.Append(ctx, minutesEvent("u1", "key-00000002", 10, "2026-03-09"), nil)
	_, _ = store.Append(ctx, minutesEvent("u2", "key-00000001", 10, "2026-03-10"), nil)

	week := timeutil.DateRange{From: timeutil.MustParseDate("2026-03-09"), To: timeutil.MustParseDate("2026-03-16")}
	got, err := store.ListByUsers(ctx, []shared.UserID{"u1", "u2"}, week)
	require.NoError(t, err)
	assert.Len(t, got["u1"], 1)
	assert.Len(t, got["u2"], 1)

	all, err := store.ListByUsers(ctx, []shared.UserID{"u1"}, timeutil.DateRange{})
	require.NoError(t, err)
	assert.Len(t, all["u1"], 2)
}

func TestEventStore_UsersWithEventsSinceKeyset(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(NewDB())
	for i, u := range []shared.UserID{"u3", "u1", "u2", "u1"} {
		key := "key-0000000" + string(rune('1'+i))
		_, err := store.Append(ctx, minutesEvent(u, key, 10, "2026-03-10"), nil)
		require.NoError(t, err)
	}
	since := t0.Add(-time.Hour)

	page, err := store.UsersWithEventsSince(ctx, since, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u1", "u2"}, page)

	page, err = store.UsersWithEventsSince(ctx, since, "u2", 2)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u3"}, page)

	page, err = store.UsersWithEventsSince(ctx, t0, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestEventStore_FaultInjection(t *testing.T) {
	db := NewDB()
	store := NewEventStore(db)
	boom := errors.New("connection reset")
	db.FailNext("append", boom)

	_, err := store.Append(context.Background(), minutesEvent("u1", "key-00000001", 10, "2026-03-10"), nil)
	assert.ErrorIs(t, err, boom)

	_, err = store.Append(context.Background(), minutesEvent("u1", "key-00000001", 10, "2026-03-10"), nil)
	assert.NoError(t, err)
}

func TestBadgeRepo_AwardOnce(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	repo := NewBadgeRepo(db)
	ledger := NewEventStore(db)

	ub := badge.UserBadge{UserID: "u1", BadgeID: "first-book", EarnedAt: t0, IsNew: true}
	entry := activity.NewAwardEntry("b1", "u1", activity.SourceBadge, "first-book", 25, timeutil.MustParseDate("2026-03-10"), t0)

	require.NoError(t, repo.Award(ctx, ub, entry))
	assert.ErrorIs(t, repo.Award(ctx, ub, entry), shared.ErrRaceLost)

	entries, _ := ledger.Entries(ctx, "u1")
	assert.Len(t, entries, 1)

	n, err := repo.MarkSeen(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := repo.ListByUser(ctx, "u1")
	require.Len(t, list, 1)
	assert.False(t, list[0].IsNew)
}

func TestChallengeRepo_CompletionWriteOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepo(NewDB())

	def := challenge.Definition{
		ID: "feb-books", StartDate: timeutil.MustParseDate("2026-02-01"), EndDate: timeutil.MustParseDate("2026-02-15"),
	}
	require.NoError(t, repo.Create(ctx, def))
	assert.ErrorIs(t, repo.Create(ctx, def), shared.ErrAlreadyExists)

	c := challenge.Completion{ChallengeID: "feb-books", UserID: "u1", CompletedAt: t0, Progress: 4}
	require.NoError(t, repo.RecordCompletion(ctx, c, nil))
	assert.ErrorIs(t, repo.RecordCompletion(ctx, c, nil), shared.ErrRaceLost)

	got, err := repo.GetCompletion(ctx, "feb-books", "u2")
	require.NoError(t, err)
	assert.Nil(t, got)

	open, _ := repo.ListAccepting(ctx, timeutil.MustParseDate("2026-02-16"), 3)
	assert.Len(t, open, 1)
	closed, _ := repo.ListAccepting(ctx, timeutil.MustParseDate("2026-02-20"), 3)
	assert.Empty(t, closed)
}

func TestSnapshotCache_TTLAndInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := NewSnapshotCache()
	now := t0
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Put(ctx, &leaderboard.Snapshot{Key: "class-7b:books:all_time"}, time.Minute))
	require.NoError(t, cache.Put(ctx, &leaderboard.Snapshot{Key: "class-7a:books:all_time"}, time.Minute))

	got, _ := cache.Get(ctx, "class-7b:books:all_time")
	assert.NotNil(t, got)

	require.NoError(t, cache.InvalidateScope(ctx, "class-7b"))
	got, _ = cache.Get(ctx, "class-7b:books:all_time")
	assert.Nil(t, got)

	now = now.Add(2 * time.Minute)
	got, _ = cache.Get(ctx, "class-7a:books:all_time")
	assert.Nil(t, got)
}
