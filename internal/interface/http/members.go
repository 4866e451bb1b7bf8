package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

type syncMemberRequest struct {
	Timezone string   `json:"timezone" validate:"max=64"`
	JoinedAt string   `json:"joined_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Role     string   `json:"role" validate:"omitempty,oneof=student teacher parent admin"`
	Scopes   []string `json:"scopes" validate:"max=50,dive,scope"`
}

type syncMemberResponse struct {
	Member        *MemberDTO `json:"member"`
	Created       bool       `json:"created"`
	ScopesChanged bool       `json:"scopes_changed"`
}

// PUT /internal/members/:user_id
func (s *Server) handleSyncMember(c *gin.Context) {
	var req syncMemberRequest
	if !s.bind(c, &req) {
		return
	}
	joined, err := time.Parse(time.RFC3339, req.JoinedAt)
	if err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "joined_at: must be an RFC 3339 timestamp")
		return
	}

	scopes := make([]shared.ScopeID, 0, len(req.Scopes))
	for _, sc := range req.Scopes {
		scopes = append(scopes, shared.ScopeID(sc))
	}
	res, err := s.deps.SyncMember.Handle(c.Request.Context(), command.SyncMemberCommand{
		Principal: principalFrom(c),
		UserID:    shared.UserID(c.Param("user_id")),
		Timezone:  req.Timezone,
		JoinedAt:  joined,
		Role:      shared.Role(req.Role),
		Scopes:    scopes,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeData(c, status, syncMemberResponse{
		Member:        toMemberDTO(res.Member),
		Created:       res.Created,
		ScopesChanged: res.ScopesChanged,
	})
}
