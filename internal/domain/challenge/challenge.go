// Package challenge defines time-boxed reading challenges and the rules for
// turning measured progress into a write-once completion.
package challenge

import (
	"fmt"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ID identifies a challenge.
type ID string

// Scope lists who may take part: members of any listed scope, plus listed users.
type Scope struct {
	ScopeIDs []shared.ScopeID `yaml:"scopes" json:"scopes"`
	UserIDs  []shared.UserID  `yaml:"users" json:"users"`
}

// IsEmpty reports whether the scope admits nobody.
func (s Scope) IsEmpty() bool {
	return len(s.ScopeIDs) == 0 && len(s.UserIDs) == 0
}

// Includes reports whether userID, belonging to memberScopes, is in scope.
func (s Scope) Includes(userID shared.UserID, memberScopes []shared.ScopeID) bool {
	for _, u := range s.UserIDs {
		if u == userID {
			return true
		}
	}
	for _, sid := range s.ScopeIDs {
		if sid == shared.ScopeAll {
			return true
		}
		for _, ms := range memberScopes {
			if ms == sid {
				return true
			}
		}
	}
	return false
}

// Definition is a challenge.
type Definition struct {
	ID        ID              `yaml:"id" json:"challenge_id"`
	Name      string          `yaml:"name" json:"name"`
	Metric    progress.Metric `yaml:"metric" json:"metric"`
	Target    int64           `yaml:"target" json:"target"`
	StartDate timeutil.Date   `yaml:"start_date" json:"start_date"`
	EndDate   timeutil.Date   `yaml:"end_date" json:"end_date"`
	Scope     Scope           `yaml:"scope" json:"scope"`
	XPReward  int64           `yaml:"xp_reward" json:"xp_reward"`
	BadgeID   badge.ID        `yaml:"badge_id" json:"badge_id,omitempty"`
	CreatedBy string          `yaml:"-" json:"created_by,omitempty"`
	CreatedAt time.Time       `yaml:"-" json:"created_at"`
}

// Validate checks the definition.
func (d Definition) Validate() error {
	verr := &shared.ValidationError{Domain: "challenge"}
	if d.ID == "" {
		verr.Add("challenge_id", "required")
	}
	if d.Name == "" {
		verr.Add("name", "required")
	}
	if !d.Metric.IsChallengeMetric() {
		verr.Add("metric", fmt.Sprintf("must be one of books, minutes, streak_days, distinct_genres; got %q", d.Metric))
	}
	if d.Target <= 0 {
		verr.Add("target", "must be positive")
	}
	switch {
	case d.StartDate.IsZero():
		verr.Add("start_date", "required")
	case d.EndDate.IsZero():
		verr.Add("end_date", "required")
	case !d.EndDate.After(d.StartDate):
		verr.Add("end_date", "must be after start_date")
	}
	if d.Scope.IsEmpty() {
		verr.Add("scope", "at least one scope or user required")
	}
	if d.XPReward < 0 {
		verr.Add("xp_reward", "must not be negative")
	}
	return verr.OrNil()
}

// Window is the half-open date range [StartDate, EndDate).
func (d Definition) Window() timeutil.DateRange {
	return timeutil.DateRange{From: d.StartDate, To: d.EndDate}
}

// AcceptsProgress reports whether completions may still be recorded on today.
// Backdated events for the window keep counting for grace days after EndDate.
func (d Definition) AcceptsProgress(today timeutil.Date, graceDays int) bool {
	return !today.Before(d.StartDate) && today.Before(d.EndDate.AddDays(graceDays))
}

// Completion is the write-once record of a finished challenge.
type Completion struct {
	ChallengeID ID
	UserID      shared.UserID
	CompletedAt time.Time
	// Progress is the capped value observed when the completion was written.
	Progress int64
}

// Progress is the derived view for one (challenge, user).
type Progress struct {
	ChallengeID ID              `json:"challenge_id"`
	UserID      shared.UserID   `json:"user_id"`
	Metric      progress.Metric `json:"metric"`
	Progress    int64           `json:"progress"`
	Target      int64           `json:"target"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Completed reports whether a completion exists.
func (p Progress) Completed() bool {
	return p.CompletedAt != nil
}

// Evaluate caps measured at the target and attaches an existing completion.
// A completion stays attached even if measured has since dropped.
func Evaluate(d Definition, userID shared.UserID, measured int64, existing *Completion) Progress {
	capped := measured
	if capped > d.Target {
		capped = d.Target
	}
	if capped < 0 {
		capped = 0
	}
	p := Progress{
		ChallengeID: d.ID,
		UserID:      userID,
		Metric:      d.Metric,
		Progress:    capped,
		Target:      d.Target,
	}
	if existing != nil {
		at := existing.CompletedAt
		p.CompletedAt = &at
	}
	return p
}

// ShouldComplete reports whether p reached its target without a completion yet.
func ShouldComplete(p Progress) bool {
	return p.CompletedAt == nil && p.Progress >= p.Target
}
