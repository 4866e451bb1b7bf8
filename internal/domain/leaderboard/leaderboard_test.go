package leaderboard

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

func TestBuild_TieBreakOrder(t *testing.T) {
	jan := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// A and B tie on weekly minutes; A has read more books overall.
	ranking := Build([]Candidate{
		{UserID: "B", MetricValue: 120, TotalBooks: 3, JoinedAt: jan},
		{UserID: "A", MetricValue: 120, TotalBooks: 5, JoinedAt: mar},
		{UserID: "C", MetricValue: 90, TotalBooks: 9, JoinedAt: jan},
		{UserID: "E", MetricValue: 90, TotalBooks: 9, JoinedAt: jan},
		{UserID: "D", MetricValue: 90, TotalBooks: 9, JoinedAt: mar},
	})

	order := make([]shared.UserID, 0, ranking.Count())
	for _, e := range ranking.All() {
		order = append(order, e.UserID)
	}
	assert.Equal(t, []shared.UserID{"A", "B", "C", "E", "D"}, order)

	a, ok := ranking.GetByID("A")
	require.True(t, ok)
	assert.Equal(t, Rank(1), a.Rank)
}

func TestBuild_RanksAreDistinctAndDeterministic(t *testing.T) {
	joined := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var candidates []Candidate
	for i := 0; i < 50; i++ {
		candidates = append(candidates, Candidate{
			UserID:      shared.UserID(fmt.Sprintf("u%02d", i)),
			MetricValue: int64(i % 3),
			TotalBooks:  int64(i % 2),
			JoinedAt:    joined,
		})
	}

	first := Build(candidates).All()

	shuffled := append([]Candidate(nil), candidates...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	second := Build(shuffled).All()

	assert.Equal(t, first, second)
	for i, e := range first {
		assert.Equal(t, Rank(i+1), e.Rank)
	}
}

func TestBuild_DropsDuplicateUsers(t *testing.T) {
	r := Build([]Candidate{{UserID: "a", MetricValue: 1}, {UserID: "a", MetricValue: 5}})
	assert.Equal(t, 1, r.Count())
}

func TestRanking_Navigation(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{UserID: shared.UserID(fmt.Sprintf("u%d", i)), MetricValue: int64(100 - i)})
	}
	r := Build(candidates)

	assert.Len(t, r.Top(3), 3)
	assert.Len(t, r.Podium(), 3)
	assert.Len(t, r.Top(50), 10)
	assert.Empty(t, r.Slice(12, 20))

	n := r.Neighbors("u0", 2)
	require.Len(t, n, 3)
	assert.Equal(t, shared.UserID("u0"), n[0].UserID)

	n = r.Neighbors("u5", 1)
	require.Len(t, n, 3)
	assert.Equal(t, Rank(5), n[0].Rank)
	assert.Nil(t, r.Neighbors("nobody", 1))
}

func TestResolveWindow(t *testing.T) {
	today := timeutil.MustParseDate("2026-03-12") // Thursday

	w, err := ResolveWindow("week", today, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", w.Range.From.String())
	assert.Equal(t, "2026-03-16", w.Range.To.String())

	w, err = ResolveWindow("month", today, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", w.Range.From.String())
	assert.Equal(t, "2026-04-01", w.Range.To.String())

	from, to := timeutil.MustParseDate("2026-01-01"), timeutil.MustParseDate("2026-01-15")
	w, err = ResolveWindow("custom", today, &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 14, w.Range.Days())

	w, err = ResolveWindow("all_time", today, nil, nil)
	require.NoError(t, err)
	assert.True(t, w.Range.IsUnbounded())
	assert.True(t, w.Range.Contains(timeutil.MustParseDate("1969-12-31")))
	assert.True(t, w.Range.Contains(timeutil.MustParseDate("1970-01-01")))

	_, err = ResolveWindow("custom", today, &to, &from)
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)
	_, err = ResolveWindow("fortnight", today, nil, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidWindow)
}

func TestSnapshot_RoundTripsRanking(t *testing.T) {
	today := timeutil.MustParseDate("2026-03-12")
	w, _ := ResolveWindow("all_time", today, nil, nil)
	q := Query{Scope: "class-7b", Window: w, Metric: progress.MetricBooks}
	require.NoError(t, q.Validate())

	r := Build([]Candidate{{UserID: "a", MetricValue: 2}, {UserID: "b", MetricValue: 4}})
	s := NewSnapshot(q, r, time.Now())

	assert.Equal(t, "class-7b:books:all_time", s.Key)
	got, ok := s.Ranking().GetByID("b")
	require.True(t, ok)
	assert.Equal(t, Rank(1), got.Rank)
}
