package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

type leaderboardParams struct {
	Window  string `form:"window" validate:"omitempty,oneof=week month all_time custom"`
	From    string `form:"from" validate:"omitempty,date"`
	To      string `form:"to" validate:"omitempty,date"`
	Metric  string `form:"metric"`
	Limit   string `form:"limit" validate:"omitempty,number"`
	Refresh bool   `form:"refresh"`
}

// GET /api/v1/leaderboards/:scope?window=week&metric=xp&limit=20
func (s *Server) handleLeaderboard(c *gin.Context) {
	var p leaderboardParams
	if err := c.ShouldBindQuery(&p); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid query", err.Error())
		return
	}
	if !s.check(c, &p) {
		return
	}

	q := query.GetLeaderboardQuery{
		Principal: principalFrom(c),
		Scope:     shared.ScopeID(c.Param("scope")),
		Window:    p.Window,
		Metric:    progress.Metric(p.Metric),
		SkipCache: p.Refresh,
	}
	if q.Metric == "" {
		q.Metric = progress.MetricXP
	}
	if p.From != "" {
		d, _ := timeutil.ParseDate(p.From)
		q.From = &d
	}
	if p.To != "" {
		d, _ := timeutil.ParseDate(p.To)
		q.To = &d
	}
	if p.Limit != "" {
		n, err := strconv.Atoi(p.Limit)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}

	res, err := s.deps.GetLeaderboard.Handle(c.Request.Context(), q)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusOK, res)
}
