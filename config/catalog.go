package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
)

//go:embed catalog.default.yaml
var defaultCatalogYAML []byte

// Catalog holds the rule tables: XP per kind, streak rules, level titles,
// badge definitions and challenges seeded at startup.
type Catalog struct {
	XP          progress.XPTable       `yaml:"xp"`
	Streak      progress.StreakRules   `yaml:"streak"`
	LevelTitles []progress.LevelTitle  `yaml:"level_titles"`
	Badges      []badge.Definition     `yaml:"badges"`
	Challenges  []challenge.Definition `yaml:"challenges"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads the catalog file, or the built-in one when path is empty.
// Sections missing from the file keep their built-in values.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML over the built-in defaults and validates the result.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(defaultCatalogYAML, c); err != nil {
		return nil, fmt.Errorf("decode default catalog: %w", err)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if override.XP != nil {
		c.XP = override.XP
	}
	if override.Streak.DailyFloors != nil {
		c.Streak = override.Streak
	}
	if override.LevelTitles != nil {
		c.LevelTitles = override.LevelTitles
	}
	if override.Badges != nil {
		c.Badges = override.Badges
	}
	if override.Challenges != nil {
		c.Challenges = override.Challenges
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the tables for unknown kinds and inconsistent values.
func (c *Catalog) Validate() error {
	for kind, rule := range c.XP {
		if !kind.IsValid() {
			return fmt.Errorf("catalog xp: unknown kind %q", kind)
		}
		if rule.Flat < 0 || rule.PerUnit < 0 || rule.UnitsPer < 0 {
			return fmt.Errorf("catalog xp %s: values must not be negative", kind)
		}
	}
	for _, k := range activity.Kinds() {
		if _, ok := c.XP[k]; !ok {
			return fmt.Errorf("catalog xp: missing rule for %s", k)
		}
	}

	for kind, floor := range c.Streak.DailyFloors {
		if !kind.IsValid() || floor <= 0 {
			return fmt.Errorf("catalog streak: invalid floor %s=%d", kind, floor)
		}
	}
	if c.Streak.InitialFreezes < 0 || c.Streak.MaxFreezes < c.Streak.InitialFreezes {
		return fmt.Errorf("catalog streak: need 0 <= initial_freezes <= max_freezes")
	}
	if c.Streak.MaxFreezes > 0 && c.Streak.FreezeReplenishDays <= 0 {
		return fmt.Errorf("catalog streak: freeze_replenish_days must be positive")
	}

	if len(c.LevelTitles) == 0 {
		return fmt.Errorf("catalog: at least one level title required")
	}

	cat, err := badge.NewCatalog(c.Badges)
	if err != nil {
		return fmt.Errorf("catalog badges: %w", err)
	}

	seen := make(map[challenge.ID]struct{}, len(c.Challenges))
	for _, ch := range c.Challenges {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("catalog challenge %s: %w", ch.ID, err)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("catalog: duplicate challenge %s", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		if ch.BadgeID != "" {
			if _, ok := cat.Get(ch.BadgeID); !ok {
				return fmt.Errorf("catalog challenge %s: unknown badge %s", ch.ID, ch.BadgeID)
			}
		}
	}
	return nil
}

// Rules returns the progress rules described by the catalog.
func (c *Catalog) Rules() progress.Rules {
	return progress.Rules{
		XP:          c.XP,
		Streak:      c.Streak,
		LevelTitles: c.LevelTitles,
	}
}

// BadgeCatalog builds the badge catalog. The catalog was validated on load.
func (c *Catalog) BadgeCatalog() *badge.Catalog {
	cat, err := badge.NewCatalog(c.Badges)
	if err != nil {
		panic(fmt.Sprintf("catalog: badges not validated: %v", err))
	}
	return cat
}
