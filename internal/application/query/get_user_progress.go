package query

import (
	"context"
	"sort"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER PROGRESS QUERY
// Level, streak, badges and XP total, all recomputed from the committed log.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserProgressQuery identifies the user.
type GetUserProgressQuery struct {
	Principal access.Principal
	UserID    shared.UserID
}

// BadgeDTO is a UserBadge joined with its definition.
type BadgeDTO struct {
	badge.UserBadge
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Rarity      badge.Rarity `json:"rarity"`
	XPReward    int64        `json:"xp_reward"`
}

// GetUserProgressResult is the user-progress view.
type GetUserProgressResult struct {
	UserID     shared.UserID        `json:"user_id"`
	XPTotal    int64                `json:"xp_total"`
	Level      progress.LevelState  `json:"level_state"`
	Streak     progress.StreakState `json:"streak_state"`
	Badges     []BadgeDTO           `json:"badges"`
	Aggregates progress.Aggregates  `json:"aggregates"`
	Today      timeutil.Date        `json:"today"`
	NewBadges  int                  `json:"new_badges"`
}

// GetUserProgressHandler handles GetUserProgressQuery.
type GetUserProgressHandler struct {
	loader  *userstate.Loader
	policy  *access.Policy
	catalog *badge.Catalog
}

// NewGetUserProgressHandler creates a new GetUserProgressHandler.
func NewGetUserProgressHandler(loader *userstate.Loader, policy *access.Policy, catalog *badge.Catalog) *GetUserProgressHandler {
	return &GetUserProgressHandler{loader: loader, policy: policy, catalog: catalog}
}

// Handle executes the query.
func (h *GetUserProgressHandler) Handle(ctx context.Context, q GetUserProgressQuery) (*GetUserProgressResult, error) {
	ctx, span := tracer.Start(ctx, "query.get_user_progress")
	defer span.End()

	if !q.UserID.IsValid() {
		return nil, shared.NewValidationError("progress", "user_id", "invalid user id")
	}
	if err := h.policy.CanViewUser(ctx, q.Principal, q.UserID); err != nil {
		return nil, err
	}

	st, err := h.loader.Load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	result := &GetUserProgressResult{
		UserID:     q.UserID,
		XPTotal:    st.TotalXP(),
		Level:      st.Snapshot.Level,
		Streak:     st.Snapshot.Streak,
		Aggregates: st.Snapshot.Aggregates,
		Today:      st.Today,
		Badges:     make([]BadgeDTO, 0, len(st.Badges)),
	}
	if result.Streak.FreezeUsedOn == nil {
		result.Streak.FreezeUsedOn = []timeutil.Date{}
	}

	for _, ub := range st.Badges {
		dto := BadgeDTO{UserBadge: ub}
		if def, ok := h.catalog.Get(ub.BadgeID); ok {
			dto.Name = def.Name
			dto.Description = def.Description
			dto.Rarity = def.Rarity
			dto.XPReward = def.XPReward
		}
		if ub.IsNew {
			result.NewBadges++
		}
		result.Badges = append(result.Badges, dto)
	}
	sort.SliceStable(result.Badges, func(i, j int) bool {
		return result.Badges[i].EarnedAt.Before(result.Badges[j].EarnedAt)
	})
	return result, nil
}
