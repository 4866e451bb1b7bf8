package progress

import (
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// Stat - имя агрегированной метрики, над которой строятся условия бейджей.
type Stat string

const (
	StatTotalXP         Stat = "total_xp"
	StatLevel           Stat = "level"
	StatBooksFinished   Stat = "books_finished"
	StatMinutesRead     Stat = "minutes_read"
	StatPagesRead       Stat = "pages_read"
	StatReviewsWritten  Stat = "reviews_written"
	StatSocialReactions Stat = "social_reactions"
	StatDistinctGenres  Stat = "distinct_genres"
	StatPagesThisWeek   Stat = "pages_this_week"
	StatMinutesThisWeek Stat = "minutes_this_week"
	StatBooksThisMonth  Stat = "books_this_month"
	StatCurrentStreak   Stat = "current_streak"
	StatLongestStreak   Stat = "longest_streak"
	StatActiveDays      Stat = "active_days"
)

var knownStats = map[Stat]struct{}{
	StatTotalXP: {}, StatLevel: {}, StatBooksFinished: {}, StatMinutesRead: {},
	StatPagesRead: {}, StatReviewsWritten: {}, StatSocialReactions: {},
	StatDistinctGenres: {}, StatPagesThisWeek: {}, StatMinutesThisWeek: {},
	StatBooksThisMonth: {}, StatCurrentStreak: {}, StatLongestStreak: {}, StatActiveDays: {},
}

// IsValid сообщает, входит ли метрика в фиксированный словарь.
func (s Stat) IsValid() bool {
	_, ok := knownStats[s]
	return ok
}

// Aggregates - снимок метрик пользователя. Вычисляется, не хранится.
type Aggregates map[Stat]int64

// Get возвращает значение метрики (0, если её нет).
func (a Aggregates) Get(s Stat) int64 {
	return a[s]
}

// Snapshot - всё производное состояние пользователя на момент today.
type Snapshot struct {
	Level      LevelState
	Streak     StreakState
	Aggregates Aggregates
}

// Rules объединяет все правила расчёта прогресса.
type Rules struct {
	XP          XPTable
	Streak      StreakRules
	LevelTitles []LevelTitle
}

// DefaultRules возвращает правила по умолчанию.
func DefaultRules() Rules {
	return Rules{
		XP:          DefaultXPTable(),
		Streak:      DefaultStreakRules(),
		LevelTitles: DefaultLevelTitles,
	}
}

// Calculator - чистый калькулятор прогресса.
type Calculator struct {
	rules Rules
}

// NewCalculator создаёт калькулятор.
func NewCalculator(rules Rules) *Calculator {
	if rules.XP == nil {
		rules.XP = DefaultXPTable()
	}
	if len(rules.LevelTitles) == 0 {
		rules.LevelTitles = DefaultLevelTitles
	}
	return &Calculator{rules: rules}
}

// Rules возвращает действующие правила.
func (c *Calculator) Rules() Rules {
	return c.rules
}

// XPFor - XP за одно событие.
func (c *Calculator) XPFor(e *activity.Event) int64 {
	return c.rules.XP.ForEvent(e)
}

// Level - состояние уровня по сумме XP, с косметическим именем.
func (c *Calculator) Level(total int64) LevelState {
	st := LevelForTotalXP(total)
	st.Title = TitleFor(c.rules.LevelTitles, st.Level)
	return st
}

// Snapshot пересчитывает всё состояние пользователя из событий и леджера.
// Результат не зависит от порядка элементов в events и entries.
func (c *Calculator) Snapshot(events []*activity.Event, entries []activity.LedgerEntry, today timeutil.Date) Snapshot {
	counting := activity.Counting(events)

	level := c.Level(activity.Total(entries))
	streak := Streak(counting, today, c.rules.Streak)

	week := timeutil.DateRange{From: today.StartOfWeek(), To: today.StartOfWeek().AddDays(7)}
	month := timeutil.DateRange{From: today.StartOfMonth(), To: today.StartOfMonth().AddDays(32).StartOfMonth()}

	agg := Aggregates{
		StatTotalXP:         level.TotalXP,
		StatLevel:           int64(level.Level),
		StatBooksFinished:   sumKind(counting, activity.KindBookFinished, nil),
		StatMinutesRead:     sumKind(counting, activity.KindMinutesRead, nil),
		StatPagesRead:       sumKind(counting, activity.KindPagesRead, nil),
		StatReviewsWritten:  sumKind(counting, activity.KindReviewWritten, nil),
		StatSocialReactions: sumKind(counting, activity.KindSocialReaction, nil),
		StatDistinctGenres:  distinctGenres(counting, nil),
		StatPagesThisWeek:   sumKind(counting, activity.KindPagesRead, &week),
		StatMinutesThisWeek: sumKind(counting, activity.KindMinutesRead, &week),
		StatBooksThisMonth:  sumKind(counting, activity.KindBookFinished, &month),
		StatCurrentStreak:   int64(streak.CurrentStreak),
		StatLongestStreak:   int64(streak.LongestStreak),
		StatActiveDays:      int64(len(QualifyingDays(counting, c.rules.Streak))),
	}

	return Snapshot{Level: level, Streak: streak, Aggregates: agg}
}

// Measure - значение оконной метрики за [r.From, r.To). Используется и
// челленджами, и лидербордом. Отменённые события не учитываются.
// Нулевой r (окно all_time) фильтр по датам не применяет.
func (c *Calculator) Measure(m Metric, events []*activity.Event, entries []activity.LedgerEntry, r timeutil.DateRange) int64 {
	counting := activity.Counting(events)
	switch m {
	case MetricXP:
		return activity.TotalWithin(entries, r)
	case MetricBooks:
		return sumKind(counting, activity.KindBookFinished, &r)
	case MetricMinutes:
		return sumKind(counting, activity.KindMinutesRead, &r)
	case MetricPages:
		return sumKind(counting, activity.KindPagesRead, &r)
	case MetricReviews:
		return sumKind(counting, activity.KindReviewWritten, &r)
	case MetricStreakDays:
		var n int64
		for _, d := range QualifyingDays(counting, c.rules.Streak) {
			if r.Contains(d) {
				n++
			}
		}
		return n
	case MetricDistinctGenres:
		return distinctGenres(counting, &r)
	}
	return 0
}

// TotalBooks - число прочитанных книг за всё время (для тай-брейка).
func TotalBooks(events []*activity.Event) int64 {
	return sumKind(activity.Counting(events), activity.KindBookFinished, nil)
}

func sumKind(events []*activity.Event, kind activity.Kind, r *timeutil.DateRange) int64 {
	var sum int64
	for _, e := range events {
		if e.Kind != kind {
			continue
		}
		if r != nil && !r.Contains(e.OccurredOn) {
			continue
		}
		sum += e.Quantity
	}
	return sum
}

func distinctGenres(events []*activity.Event, r *timeutil.DateRange) int64 {
	genres := make(map[string]struct{})
	for _, e := range events {
		if e.Kind != activity.KindBookFinished || e.Genre == "" {
			continue
		}
		if r != nil && !r.Contains(e.OccurredOn) {
			continue
		}
		genres[e.Genre] = struct{}{}
	}
	return int64(len(genres))
}
