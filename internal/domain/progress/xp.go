package progress

import "github.com/alem-hub/reading-engine/internal/domain/activity"

// XPRule - правило начисления XP для одного вида события:
// amount = Flat + PerUnit * quantity / UnitsPer (целочисленное деление).
type XPRule struct {
	Flat     int64 `yaml:"flat" json:"flat"`
	PerUnit  int64 `yaml:"per_unit" json:"per_unit"`
	UnitsPer int64 `yaml:"units_per" json:"units_per"`
}

// Amount считает XP для указанного количества.
func (r XPRule) Amount(quantity int64) int64 {
	if quantity < 0 {
		return 0
	}
	units := r.UnitsPer
	if units <= 0 {
		units = 1
	}
	return r.Flat + r.PerUnit*quantity/units
}

// XPTable - фиксированная таблица начислений по видам событий.
type XPTable map[activity.Kind]XPRule

// DefaultXPTable: 1 XP за минуту, 1 XP за 5 страниц, 15 за рецензию,
// 50 за прочитанную книгу, 1 за реакцию.
func DefaultXPTable() XPTable {
	return XPTable{
		activity.KindMinutesRead:    {PerUnit: 1},
		activity.KindPagesRead:      {PerUnit: 1, UnitsPer: 5},
		activity.KindReviewWritten:  {Flat: 15},
		activity.KindBookFinished:   {Flat: 50},
		activity.KindSocialReaction: {Flat: 1},
	}
}

// ForEvent - XP за событие. Чистая функция вида и количества.
func (t XPTable) ForEvent(e *activity.Event) int64 {
	rule, ok := t[e.Kind]
	if !ok {
		return 0
	}
	return rule.Amount(e.Quantity)
}
