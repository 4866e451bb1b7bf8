package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CHALLENGE PROGRESS QUERY
// Progress is measured inside the challenge window and capped at the target.
// A recorded completion is always reported, even if progress later dropped.
// ══════════════════════════════════════════════════════════════════════════════

// GetChallengeProgressQuery identifies the (challenge, user) pair.
type GetChallengeProgressQuery struct {
	Principal   access.Principal
	ChallengeID challenge.ID
	UserID      shared.UserID
}

// ChallengeProgressDTO is a progress row with the challenge's display fields.
type ChallengeProgressDTO struct {
	challenge.Progress
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	XPReward  int64  `json:"xp_reward"`
	BadgeID   string `json:"badge_id,omitempty"`
}

func newChallengeProgressDTO(d challenge.Definition, p challenge.Progress) ChallengeProgressDTO {
	return ChallengeProgressDTO{
		Progress:  p,
		Name:      d.Name,
		StartDate: d.StartDate.String(),
		EndDate:   d.EndDate.String(),
		XPReward:  d.XPReward,
		BadgeID:   string(d.BadgeID),
	}
}

// GetChallengeProgressHandler handles GetChallengeProgressQuery.
type GetChallengeProgressHandler struct {
	challenges challenge.Repository
	loader     *userstate.Loader
	policy     *access.Policy
}

// NewGetChallengeProgressHandler creates a new GetChallengeProgressHandler.
func NewGetChallengeProgressHandler(challenges challenge.Repository, loader *userstate.Loader, policy *access.Policy) *GetChallengeProgressHandler {
	return &GetChallengeProgressHandler{challenges: challenges, loader: loader, policy: policy}
}

// Handle executes the query.
func (h *GetChallengeProgressHandler) Handle(ctx context.Context, q GetChallengeProgressQuery) (*ChallengeProgressDTO, error) {
	ctx, span := tracer.Start(ctx, "query.get_challenge_progress")
	defer span.End()

	if err := h.policy.CanViewUser(ctx, q.Principal, q.UserID); err != nil {
		return nil, err
	}

	def, err := h.challenges.Get(ctx, q.ChallengeID)
	if err != nil {
		return nil, err
	}

	st, err := h.loader.Load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	if !def.Scope.Includes(q.UserID, st.Member.Scopes) {
		return nil, shared.NewScopeError("challenge", "Progress", string(def.ID))
	}

	completion, err := h.challenges.GetCompletion(ctx, def.ID, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_challenge_progress: %w", err)
	}

	measured := st.Measure(h.loader.Calculator(), def.Metric, def.Window())
	dto := newChallengeProgressDTO(*def, challenge.Evaluate(*def, q.UserID, measured, completion))
	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST USER CHALLENGES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListUserChallengesQuery lists progress on every open challenge the user is in.
type ListUserChallengesQuery struct {
	Principal access.Principal
	UserID    shared.UserID
}

// ListUserChallengesHandler handles ListUserChallengesQuery.
type ListUserChallengesHandler struct {
	challenges challenge.Repository
	loader     *userstate.Loader
	policy     *access.Policy
	graceDays  int
}

// NewListUserChallengesHandler creates a new ListUserChallengesHandler.
func NewListUserChallengesHandler(challenges challenge.Repository, loader *userstate.Loader, policy *access.Policy, graceDays int) *ListUserChallengesHandler {
	return &ListUserChallengesHandler{challenges: challenges, loader: loader, policy: policy, graceDays: graceDays}
}

// Handle executes the query.
func (h *ListUserChallengesHandler) Handle(ctx context.Context, q ListUserChallengesQuery) ([]ChallengeProgressDTO, error) {
	if err := h.policy.CanViewUser(ctx, q.Principal, q.UserID); err != nil {
		return nil, err
	}

	st, err := h.loader.Load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	defs, err := h.challenges.ListAccepting(ctx, st.Today, h.graceDays)
	if err != nil {
		return nil, fmt.Errorf("list_user_challenges: %w", err)
	}
	done, err := h.challenges.CompletionsByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_user_challenges: %w", err)
	}

	calc := h.loader.Calculator()
	out := make([]ChallengeProgressDTO, 0, len(defs))
	for _, d := range defs {
		if !d.Scope.Includes(q.UserID, st.Member.Scopes) {
			continue
		}
		var existing *challenge.Completion
		if c, ok := done[d.ID]; ok {
			existing = &c
		}
		p := challenge.Evaluate(d, q.UserID, st.Measure(calc, d.Metric, d.Window()), existing)
		out = append(out, newChallengeProgressDTO(d, p))
	}
	return out, nil
}
