// Package leaderboard содержит доменную модель лидерборда: окно, метрику,
// строгий порядок участников и снимки. Лидерборд не хранится как состояние,
// он каждый раз пересчитывается из агрегатов.
package leaderboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет позицию в лидерборде. Начинается с 1.
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsPodium возвращает true для первых трёх мест.
func (r Rank) IsPodium() bool {
	return r >= 1 && r <= 3
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// WindowKind - тип временного окна.
type WindowKind string

const (
	WindowWeek    WindowKind = "week"
	WindowMonth   WindowKind = "month"
	WindowAllTime WindowKind = "all_time"
	WindowCustom  WindowKind = "custom"
)

// Window - полуоткрытый интервал дат [From, To). Для all_time интервал нулевой
// и означает "без ограничений": фильтр по датам не применяется.
type Window struct {
	Kind  WindowKind
	Range timeutil.DateRange
}

// ResolveWindow строит окно. today - календарная дата в поясе лидерборда.
// Для custom нужны from и to.
func ResolveWindow(kind string, today timeutil.Date, from, to *timeutil.Date) (Window, error) {
	switch WindowKind(strings.ToLower(strings.TrimSpace(kind))) {
	case WindowWeek, "":
		start := today.StartOfWeek()
		return Window{Kind: WindowWeek, Range: timeutil.DateRange{From: start, To: start.AddDays(7)}}, nil
	case WindowMonth:
		start := today.StartOfMonth()
		return Window{Kind: WindowMonth, Range: timeutil.DateRange{From: start, To: start.AddDays(32).StartOfMonth()}}, nil
	case WindowAllTime:
		return Window{Kind: WindowAllTime}, nil
	case WindowCustom:
		if from == nil || to == nil {
			return Window{}, shared.ErrInvalidWindow
		}
		r := timeutil.DateRange{From: *from, To: *to}
		if r.IsUnbounded() || !r.IsValid() || r.Days() > 366 {
			return Window{}, shared.ErrInvalidWindow
		}
		return Window{Kind: WindowCustom, Range: r}, nil
	}
	return Window{}, shared.ErrInvalidWindow
}

// Key - стабильный идентификатор окна для кэша.
func (w Window) Key() string {
	if w.Kind == WindowAllTime {
		return string(WindowAllTime)
	}
	return fmt.Sprintf("%s:%s:%s", w.Kind, w.Range.From, w.Range.To)
}

// Query - параметры лидерборда.
type Query struct {
	Scope  shared.ScopeID
	Window Window
	Metric progress.Metric
}

// Validate проверяет запрос.
func (q Query) Validate() error {
	if !q.Scope.IsValid() {
		return shared.NewValidationError("leaderboard", "scope", "invalid scope")
	}
	if !q.Metric.IsValid() {
		return shared.ErrInvalidMetric
	}
	if !q.Window.Range.IsValid() {
		return shared.ErrInvalidWindow
	}
	return nil
}

// CacheKey - ключ снимка в кэше.
func (q Query) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s", q.Scope, q.Metric, q.Window.Key())
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// Candidate - данные участника для сортировки.
type Candidate struct {
	UserID      shared.UserID
	MetricValue int64
	TotalBooks  int64
	JoinedAt    time.Time
}

// Entry - строка лидерборда.
type Entry struct {
	Rank        Rank          `json:"rank"`
	UserID      shared.UserID `json:"user_id"`
	MetricValue int64         `json:"metric_value"`
	TotalBooks  int64         `json:"total_books"`
}

// less задаёт строгий полный порядок: метрика по убыванию, затем книги за всё
// время по убыванию, затем более ранняя регистрация, затем user_id.
func less(a, b Candidate) bool {
	if a.MetricValue != b.MetricValue {
		return a.MetricValue > b.MetricValue
	}
	if a.TotalBooks != b.TotalBooks {
		return a.TotalBooks > b.TotalBooks
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking - упорядоченный список записей с уникальными рангами 1..n.
type Ranking struct {
	entries []Entry
	byID    map[shared.UserID]int
}

// Build сортирует кандидатов и присваивает ранги. Дубликаты user_id
// отбрасываются (остаётся первый). Одинаковых рангов не бывает.
func Build(candidates []Candidate) *Ranking {
	uniq := make([]Candidate, 0, len(candidates))
	seen := make(map[shared.UserID]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		uniq = append(uniq, c)
	}

	sort.Slice(uniq, func(i, j int) bool { return less(uniq[i], uniq[j]) })

	r := &Ranking{
		entries: make([]Entry, len(uniq)),
		byID:    make(map[shared.UserID]int, len(uniq)),
	}
	for i, c := range uniq {
		r.entries[i] = Entry{
			Rank:        Rank(i + 1),
			UserID:      c.UserID,
			MetricValue: c.MetricValue,
			TotalBooks:  c.TotalBooks,
		}
		r.byID[c.UserID] = i
	}
	return r
}

// FromEntries восстанавливает Ranking из уже упорядоченных записей (снимок).
func FromEntries(entries []Entry) *Ranking {
	r := &Ranking{
		entries: make([]Entry, len(entries)),
		byID:    make(map[shared.UserID]int, len(entries)),
	}
	copy(r.entries, entries)
	for i, e := range r.entries {
		r.byID[e.UserID] = i
	}
	return r
}

// GetByID возвращает запись участника.
func (r *Ranking) GetByID(userID shared.UserID) (Entry, bool) {
	i, ok := r.byID[userID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Top возвращает топ-N записей.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	return r.Slice(0, n)
}

// Podium - первые три места.
func (r *Ranking) Podium() []Entry {
	return r.Top(3)
}

// Slice возвращает срез записей [from:to).
func (r *Ranking) Slice(from, to int) []Entry {
	if from < 0 {
		from = 0
	}
	if to > len(r.entries) {
		to = len(r.entries)
	}
	if from >= to {
		return []Entry{}
	}
	result := make([]Entry, to-from)
	copy(result, r.entries[from:to])
	return result
}

// Neighbors возвращает соседей участника по рангу (±rangeSize), включая его самого.
func (r *Ranking) Neighbors(userID shared.UserID, rangeSize int) []Entry {
	idx, ok := r.byID[userID]
	if !ok {
		return nil
	}
	return r.Slice(idx-rangeSize, idx+rangeSize+1)
}

// Count возвращает количество записей.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// All возвращает копию всех записей.
func (r *Ranking) All() []Entry {
	return r.Slice(0, len(r.entries))
}
