// Package progress содержит чистые функции расчёта прогресса читателя:
// XP за событие, уровень по сумме XP, серии дней (streak) и агрегаты для бейджей,
// челленджей и лидерборда. Всё здесь пересчитывается из множества событий
// и не хранит изменяемого состояния.
package progress

import (
	"math/big"
	"sort"
)

// MaxLevel - последний достижимый уровень. Дальше XP копится без повышения.
const MaxLevel = 200

var (
	// levelCost[L] - XP для перехода с уровня L на L+1, L in [1, MaxLevel-1].
	levelCost []int64
	// levelFloor[L] - суммарный XP, с которого начинается уровень L.
	levelFloor []int64
)

func init() {
	levelCost = make([]int64, MaxLevel)
	levelFloor = make([]int64, MaxLevel+1)

	// cost(L) = floor(100 * 1.15^(L-1)) = floor(100 * 115^(L-1) / 100^(L-1)).
	// Считаем в целых числах, чтобы не было ошибок округления float.
	num := big.NewInt(100)
	den := big.NewInt(1)
	n115 := big.NewInt(115)
	n100 := big.NewInt(100)
	q := new(big.Int)

	levelFloor[1] = 0
	for l := 1; l < MaxLevel; l++ {
		q.Quo(num, den)
		levelCost[l] = q.Int64()
		levelFloor[l+1] = levelFloor[l] + levelCost[l]
		num.Mul(num, n115)
		den.Mul(den, n100)
	}
}

// Cost возвращает XP, нужный для перехода с уровня level на следующий.
// Для MaxLevel и выше возвращает 0.
func Cost(level int) int64 {
	if level < 1 || level >= MaxLevel {
		return 0
	}
	return levelCost[level]
}

// Cumulative возвращает суммарный XP, необходимый для достижения уровня level.
func Cumulative(level int) int64 {
	if level <= 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return levelFloor[level]
}

// LevelState - производное состояние уровня. Никогда не хранится отдельно.
type LevelState struct {
	TotalXP     int64  `json:"total_xp"`
	Level       int    `json:"level"`
	XPIntoLevel int64  `json:"xp_into_level"`
	XPToNext    int64  `json:"xp_to_next"`
	Title       string `json:"title"`
}

// LevelForTotalXP - наибольший L, для которого Cumulative(L) <= total.
// Отрицательный total трактуется как 0.
func LevelForTotalXP(total int64) LevelState {
	clamped := total
	if clamped < 0 {
		clamped = 0
	}

	// Первый индекс в [1, MaxLevel], где floor > total, минус один.
	idx := sort.Search(MaxLevel, func(i int) bool {
		return levelFloor[i+1] > clamped
	})
	level := idx
	if level < 1 {
		level = 1
	}

	st := LevelState{
		TotalXP:     total,
		Level:       level,
		XPIntoLevel: clamped - levelFloor[level],
	}
	if level < MaxLevel {
		st.XPToNext = levelFloor[level+1] - clamped
	}
	return st
}

// LevelTitle - косметическое имя уровня.
type LevelTitle struct {
	FromLevel int    `yaml:"from_level" json:"from_level"`
	Name      string `yaml:"name" json:"name"`
}

// DefaultLevelTitles - имена уровней по умолчанию.
var DefaultLevelTitles = []LevelTitle{
	{FromLevel: 1, Name: "Page Turner"},
	{FromLevel: 5, Name: "Bookworm"},
	{FromLevel: 10, Name: "Story Seeker"},
	{FromLevel: 20, Name: "Chapter Champion"},
	{FromLevel: 35, Name: "Library Legend"},
	{FromLevel: 50, Name: "Grand Archivist"},
}

// TitleFor выбирает имя с наибольшим FromLevel <= level.
func TitleFor(titles []LevelTitle, level int) string {
	best := ""
	bestFrom := 0
	for _, t := range titles {
		if t.FromLevel <= level && t.FromLevel >= bestFrom {
			best = t.Name
			bestFrom = t.FromLevel
		}
	}
	return best
}
