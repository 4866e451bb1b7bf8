package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// AcknowledgeBadgesCommand clears the "new" marker of a user's badges.
// An empty BadgeIDs list acknowledges all of them.
type AcknowledgeBadgesCommand struct {
	Principal access.Principal
	UserID    shared.UserID
	BadgeIDs  []badge.ID
}

// AcknowledgeBadgesHandler handles the AcknowledgeBadgesCommand.
type AcknowledgeBadgesHandler struct {
	badges badge.Repository
	log    *logger.Logger
}

// NewAcknowledgeBadgesHandler creates a new AcknowledgeBadgesHandler.
func NewAcknowledgeBadgesHandler(badges badge.Repository, log *logger.Logger) *AcknowledgeBadgesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AcknowledgeBadgesHandler{badges: badges, log: log.With(logger.Component("ack_badges"))}
}

// Handle marks badges as seen and returns how many changed.
func (h *AcknowledgeBadgesHandler) Handle(ctx context.Context, cmd AcknowledgeBadgesCommand) (int, error) {
	// Only the owner (or a trusted service acting for them) acknowledges.
	if !cmd.Principal.IsPrivileged() && cmd.Principal.Subject != string(cmd.UserID) {
		return 0, shared.NewScopeError("badge", "Acknowledge", string(cmd.UserID))
	}
	n, err := h.badges.MarkSeen(ctx, cmd.UserID, cmd.BadgeIDs)
	if err != nil {
		return 0, fmt.Errorf("ack_badges: %w", err)
	}
	h.log.Debug("badges acknowledged", logger.UserID(string(cmd.UserID)), logger.Int("count", n))
	return n, nil
}
