package progress

import (
	"sort"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// StreakRules - настройки серии дней.
type StreakRules struct {
	// DailyFloors: день засчитывается, если суммарное количество
	// хотя бы одного вида за день >= порога. Виды без порога не засчитываются.
	DailyFloors map[activity.Kind]int64 `yaml:"daily_floors" json:"daily_floors"`

	InitialFreezes      int `yaml:"initial_freezes" json:"initial_freezes"`
	MaxFreezes          int `yaml:"max_freezes" json:"max_freezes"`
	FreezeReplenishDays int `yaml:"freeze_replenish_days" json:"freeze_replenish_days"`
}

// DefaultStreakRules: 5 минут чтения, или любая страница, или законченная книга.
func DefaultStreakRules() StreakRules {
	return StreakRules{
		DailyFloors: map[activity.Kind]int64{
			activity.KindMinutesRead:  5,
			activity.KindPagesRead:    1,
			activity.KindBookFinished: 1,
		},
		InitialFreezes:      1,
		MaxFreezes:          2,
		FreezeReplenishDays: 7,
	}
}

// StreakState - производное состояние серии.
type StreakState struct {
	CurrentStreak     int             `json:"current_streak"`
	LongestStreak     int             `json:"longest_streak"`
	LastQualifyingDay *timeutil.Date  `json:"last_qualifying_day,omitempty"`
	FreezesAvailable  int             `json:"freezes_available"`
	FreezeUsedOn      []timeutil.Date `json:"freeze_used_on"`
}

// QualifyingDays возвращает отсортированное множество засчитанных дней.
// Несколько событий за день дают один день. Отменённые события не учитываются.
func QualifyingDays(events []*activity.Event, rules StreakRules) []timeutil.Date {
	type dayKind struct {
		day  timeutil.Date
		kind activity.Kind
	}
	sums := make(map[dayKind]int64)
	for _, e := range events {
		if !e.Counts() {
			continue
		}
		if _, ok := rules.DailyFloors[e.Kind]; !ok {
			continue
		}
		sums[dayKind{e.OccurredOn, e.Kind}] += e.Quantity
	}

	seen := make(map[timeutil.Date]struct{})
	for dk, sum := range sums {
		if sum >= rules.DailyFloors[dk.kind] {
			seen[dk.day] = struct{}{}
		}
	}

	days := make([]timeutil.Date, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// ComputeStreak - полный пересчёт серии по множеству дней относительно today
// (в часовом поясе пользователя). Порядок и повторы в days не важны.
//
// Пропуск ровно одного дня между засчитанными днями закрывается заморозкой,
// если она есть; пропуск длиннее рвёт серию. Заморозки начисляются по одной
// каждые FreezeReplenishDays дней от первого засчитанного дня, не больше MaxFreezes.
func ComputeStreak(days []timeutil.Date, today timeutil.Date, rules StreakRules) StreakState {
	sorted := dedupeDays(days)

	st := StreakState{
		FreezesAvailable: clampInt(rules.InitialFreezes, 0, rules.MaxFreezes),
		FreezeUsedOn:     []timeutil.Date{},
	}
	if len(sorted) == 0 {
		return st
	}

	balance := st.FreezesAvailable
	anchor := sorted[0]
	credited := 0
	credit := func(upTo timeutil.Date) {
		if rules.FreezeReplenishDays <= 0 {
			return
		}
		due := upTo.Sub(anchor) / rules.FreezeReplenishDays
		for credited < due {
			credited++
			if balance < rules.MaxFreezes {
				balance++
			}
		}
	}

	run := 1
	longest := 1
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		credit(cur.AddDays(-1))

		switch gap := cur.Sub(prev) - 1; {
		case gap == 0:
			run++
		case gap == 1 && balance > 0:
			balance--
			st.FreezeUsedOn = append(st.FreezeUsedOn, prev.AddDays(1))
			run += 2
		default:
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	last := sorted[len(sorted)-1]
	if today.After(last) {
		credit(today)
	}

	st.LongestStreak = longest
	st.LastQualifyingDay = &last
	st.FreezesAvailable = balance

	switch since := today.Sub(last); {
	case since <= 1:
		st.CurrentStreak = run
	case since == 2 && balance > 0:
		// Вчерашний пропуск ещё может быть закрыт заморозкой.
		st.CurrentStreak = run
	default:
		st.CurrentStreak = 0
	}
	return st
}

// Streak - удобная обёртка: события -> состояние серии.
func Streak(events []*activity.Event, today timeutil.Date, rules StreakRules) StreakState {
	return ComputeStreak(QualifyingDays(events, rules), today, rules)
}

func dedupeDays(days []timeutil.Date) []timeutil.Date {
	out := make([]timeutil.Date, len(days))
	copy(out, days)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	n := 0
	for i, d := range out {
		if i == 0 || !d.Equal(out[n-1]) {
			out[n] = d
			n++
		}
	}
	return out[:n]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}
