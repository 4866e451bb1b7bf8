package leaderboard

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - вычисленный лидерборд на момент ComputedAt.
// Снапшоты кладутся в кэш для быстрого чтения (CQRS Read Model); источник
// истины по-прежнему журнал событий.
type Snapshot struct {
	// Key - ключ запроса (Query.CacheKey).
	Key string `json:"key"`

	// Scope, Metric, From, To - параметры, по которым считали.
	Scope  string `json:"scope"`
	Metric string `json:"metric"`
	Window string `json:"window"`
	From   string `json:"from"`
	To     string `json:"to"`

	// ComputedAt - время расчёта.
	ComputedAt time.Time `json:"computed_at"`

	// Entries - все участники области в порядке рангов.
	Entries []Entry `json:"entries"`
}

// NewSnapshot создаёт снапшот из Ranking.
func NewSnapshot(q Query, ranking *Ranking, now time.Time) *Snapshot {
	s := &Snapshot{
		Key:        q.CacheKey(),
		Scope:      q.Scope.String(),
		Metric:     q.Metric.String(),
		Window:     string(q.Window.Kind),
		From:       q.Window.Range.From.String(),
		To:         q.Window.Range.To.String(),
		ComputedAt: now.UTC(),
		Entries:    []Entry{},
	}
	if ranking != nil {
		s.Entries = ranking.All()
	}
	return s
}

// Ranking восстанавливает Ranking для навигации по снапшоту.
func (s *Snapshot) Ranking() *Ranking {
	return FromEntries(s.Entries)
}

// Count возвращает количество записей.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}

// IsStale проверяет, старше ли снапшот maxAge.
func (s *Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.ComputedAt) > maxAge
}

// String возвращает строковое представление.
func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot{key=%s, entries=%d, at=%s}",
		s.Key, len(s.Entries), s.ComputedAt.Format(time.RFC3339))
}
