package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

type challengeScopeRequest struct {
	Scopes []string `json:"scopes" validate:"max=50,dive,scope"`
	Users  []string `json:"users" validate:"max=500,dive,required,max=64"`
}

type createChallengeRequest struct {
	ChallengeID string                `json:"challenge_id" validate:"required,max=64"`
	Name        string                `json:"name" validate:"required,max=200"`
	Metric      string                `json:"metric" validate:"required,oneof=books minutes streak_days distinct_genres"`
	Target      int64                 `json:"target" validate:"required,gt=0"`
	StartDate   string                `json:"start_date" validate:"required,date"`
	EndDate     string                `json:"end_date" validate:"required,date"`
	Scope       challengeScopeRequest `json:"scope"`
	XPReward    int64                 `json:"xp_reward" validate:"gte=0"`
	BadgeID     string                `json:"badge_id,omitempty" validate:"max=64"`
}

func (r createChallengeRequest) definition() challenge.Definition {
	start, _ := timeutil.ParseDate(r.StartDate)
	end, _ := timeutil.ParseDate(r.EndDate)
	d := challenge.Definition{
		ID:        challenge.ID(r.ChallengeID),
		Name:      r.Name,
		Metric:    progress.Metric(r.Metric),
		Target:    r.Target,
		StartDate: start,
		EndDate:   end,
		XPReward:  r.XPReward,
		BadgeID:   badge.ID(r.BadgeID),
	}
	for _, sc := range r.Scope.Scopes {
		d.Scope.ScopeIDs = append(d.Scope.ScopeIDs, shared.ScopeID(sc))
	}
	for _, u := range r.Scope.Users {
		d.Scope.UserIDs = append(d.Scope.UserIDs, shared.UserID(u))
	}
	return d
}

// POST /api/v1/challenges
func (s *Server) handleCreateChallenge(c *gin.Context) {
	var req createChallengeRequest
	if !s.bind(c, &req) {
		return
	}

	def, err := s.deps.CreateChallenge.Handle(c.Request.Context(), command.CreateChallengeCommand{
		Principal:  principalFrom(c),
		Definition: req.definition(),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusCreated, def)
}

// GET /api/v1/challenges/:challenge_id/progress/:user_id
func (s *Server) handleChallengeProgress(c *gin.Context) {
	res, err := s.deps.GetChallengeProgress.Handle(c.Request.Context(), query.GetChallengeProgressQuery{
		Principal:   principalFrom(c),
		ChallengeID: challenge.ID(c.Param("challenge_id")),
		UserID:      userParam(c),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusOK, res)
}

// GET /api/v1/users/:user_id/challenges
func (s *Server) handleListUserChallenges(c *gin.Context) {
	rows, err := s.deps.ListUserChallenges.Handle(c.Request.Context(), query.ListUserChallengesQuery{
		Principal: principalFrom(c),
		UserID:    userParam(c),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	if rows == nil {
		rows = []query.ChallengeProgressDTO{}
	}
	writeData(c, http.StatusOK, rows)
}
