package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// GET /api/v1/users/:user_id/progress
func (s *Server) handleUserProgress(c *gin.Context) {
	res, err := s.deps.GetUserProgress.Handle(c.Request.Context(), query.GetUserProgressQuery{
		Principal: principalFrom(c),
		UserID:    userParam(c),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusOK, res)
}

type acknowledgeBadgesRequest struct {
	BadgeIDs []string `json:"badge_ids" validate:"max=100,dive,required,max=64"`
}

// POST /api/v1/users/:user_id/badges/ack
// Пустой список отмечает все значки как просмотренные.
func (s *Server) handleAcknowledgeBadges(c *gin.Context) {
	var req acknowledgeBadgesRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}

	ids := make([]badge.ID, 0, len(req.BadgeIDs))
	for _, id := range req.BadgeIDs {
		ids = append(ids, badge.ID(id))
	}
	n, err := s.deps.AcknowledgeBadges.Handle(c.Request.Context(), command.AcknowledgeBadgesCommand{
		Principal: principalFrom(c),
		UserID:    userParam(c),
		BadgeIDs:  ids,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"acknowledged": n})
}

func userParam(c *gin.Context) shared.UserID {
	id := c.Param("user_id")
	if id == "me" {
		return shared.UserID(principalFrom(c).Subject)
	}
	return shared.UserID(id)
}
