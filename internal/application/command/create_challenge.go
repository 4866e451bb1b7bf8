package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// CreateChallengeCommand defines a new challenge.
type CreateChallengeCommand struct {
	Principal  access.Principal
	Definition challenge.Definition
}

// CreateChallengeHandler handles the CreateChallengeCommand.
type CreateChallengeHandler struct {
	challenges challenge.Repository
	catalog    *badge.Catalog
	policy     *access.Policy
	clock      shared.Clock
	log        *logger.Logger
}

// NewCreateChallengeHandler creates a new CreateChallengeHandler.
func NewCreateChallengeHandler(
	challenges challenge.Repository,
	catalog *badge.Catalog,
	policy *access.Policy,
	clock shared.Clock,
	log *logger.Logger,
) *CreateChallengeHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CreateChallengeHandler{
		challenges: challenges,
		catalog:    catalog,
		policy:     policy,
		clock:      clock,
		log:        log.With(logger.Component("create_challenge")),
	}
}

// Handle validates and stores the definition.
func (h *CreateChallengeHandler) Handle(ctx context.Context, cmd CreateChallengeCommand) (*challenge.Definition, error) {
	d := cmd.Definition
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.BadgeID != "" {
		if _, ok := h.catalog.Get(d.BadgeID); !ok {
			return nil, shared.NewValidationError("challenge", "badge_id", fmt.Sprintf("unknown badge %q", d.BadgeID))
		}
	}
	if err := h.policy.CanManageChallenge(ctx, cmd.Principal, d); err != nil {
		return nil, err
	}

	d.CreatedBy = cmd.Principal.Subject
	d.CreatedAt = h.clock.Now().UTC()
	if err := h.challenges.Create(ctx, d); err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, shared.ErrChallengeExists
		}
		return nil, fmt.Errorf("create_challenge: %w", err)
	}

	h.log.Info("challenge created",
		logger.ChallengeID(string(d.ID)),
		logger.String("metric", string(d.Metric)),
		logger.Int64("target", d.Target),
		logger.String("created_by", d.CreatedBy))
	return &d, nil
}
