// Package badge defines badge definitions and the stateless evaluator that
// decides which badges a user has newly earned from their aggregates.
package badge

import (
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// ID identifies a badge definition.
type ID string

// Rarity is a cosmetic badge tier.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid checks if the rarity is known.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Criterion is a single threshold: aggregate Stat >= Min.
type Criterion struct {
	Stat progress.Stat `yaml:"stat" json:"stat"`
	Min  int64         `yaml:"min" json:"min"`
}

// Holds evaluates the criterion against aggregates.
func (c Criterion) Holds(agg progress.Aggregates) bool {
	return agg.Get(c.Stat) >= c.Min
}

// String renders the criterion as "stat >= min".
func (c Criterion) String() string {
	return fmt.Sprintf("%s >= %d", c.Stat, c.Min)
}

// Definition is a badge from configuration. All criteria must hold.
type Definition struct {
	ID          ID          `yaml:"id" json:"badge_id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Criteria    []Criterion `yaml:"criteria" json:"criteria"`
	XPReward    int64       `yaml:"xp_reward" json:"xp_reward"`
	Rarity      Rarity      `yaml:"rarity" json:"rarity"`
	// AwardOnly badges have no criteria and are granted by challenges.
	AwardOnly bool `yaml:"award_only" json:"award_only"`
}

// Validate checks the definition.
func (d Definition) Validate() error {
	verr := &shared.ValidationError{Domain: "badge"}
	if d.ID == "" {
		verr.Add("id", "required")
	}
	if d.Name == "" {
		verr.Add("name", "required")
	}
	if d.XPReward < 0 {
		verr.Add("xp_reward", "must not be negative")
	}
	if !d.Rarity.IsValid() {
		verr.Add("rarity", fmt.Sprintf("unknown rarity %q", d.Rarity))
	}
	if !d.AwardOnly && len(d.Criteria) == 0 {
		verr.Add("criteria", "at least one criterion required")
	}
	for i, c := range d.Criteria {
		if !c.Stat.IsValid() {
			verr.Add(fmt.Sprintf("criteria[%d].stat", i), fmt.Sprintf("unknown stat %q", c.Stat))
		}
		if c.Min <= 0 {
			verr.Add(fmt.Sprintf("criteria[%d].min", i), "must be positive")
		}
	}
	return verr.OrNil()
}

// Earned reports whether every criterion holds.
func (d Definition) Earned(agg progress.Aggregates) bool {
	if d.AwardOnly || len(d.Criteria) == 0 {
		return false
	}
	for _, c := range d.Criteria {
		if !c.Holds(agg) {
			return false
		}
	}
	return true
}

// UserBadge is a write-once award record.
type UserBadge struct {
	UserID   shared.UserID `json:"user_id"`
	BadgeID  ID            `json:"badge_id"`
	EarnedAt time.Time     `json:"earned_at"`
	IsNew    bool          `json:"is_new"`
}

// Catalog is the set of configured badges.
type Catalog struct {
	defs  []Definition
	index map[ID]int
}

// NewCatalog validates definitions and rejects duplicate IDs.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{index: make(map[ID]int, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[d.ID]; dup {
			return nil, shared.NewValidationError("badge", "id", fmt.Sprintf("duplicate badge %q", d.ID))
		}
		c.index[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Get returns a definition by ID.
func (c *Catalog) Get(id ID) (Definition, bool) {
	i, ok := c.index[id]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// All returns every definition in configuration order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Evaluate returns badges newly earned by agg. Badges in alreadyEarned are
// skipped without evaluating their criteria. The result is sorted by ID.
func (c *Catalog) Evaluate(agg progress.Aggregates, alreadyEarned map[ID]struct{}) []Definition {
	var out []Definition
	for _, d := range c.defs {
		if _, ok := alreadyEarned[d.ID]; ok {
			continue
		}
		if d.Earned(agg) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EarnedSet builds the lookup set used by Evaluate.
func EarnedSet(badges []UserBadge) map[ID]struct{} {
	set := make(map[ID]struct{}, len(badges))
	for _, b := range badges {
		set[b.BadgeID] = struct{}{}
	}
	return set
}
