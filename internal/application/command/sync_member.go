package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC MEMBER COMMAND
// Mirrors a user pushed by the account service: timezone, creation date, role
// and class/school membership. The account service stays the source of truth.
// ══════════════════════════════════════════════════════════════════════════════

// SyncMemberCommand contains the mirrored member data.
type SyncMemberCommand struct {
	Principal access.Principal

	UserID   shared.UserID
	Timezone string
	JoinedAt time.Time
	Role     shared.Role
	Scopes   []shared.ScopeID
}

// SyncMemberResult contains the stored member.
type SyncMemberResult struct {
	Member *member.Member

	// Created is true when the member was not known before.
	Created bool

	// ScopesChanged is true when membership differs from the previous copy.
	ScopesChanged bool
}

// SyncMemberHandler handles the SyncMemberCommand.
type SyncMemberHandler struct {
	members   member.Directory
	publisher shared.EventPublisher
	clock     shared.Clock
	log       *logger.Logger
}

// NewSyncMemberHandler creates a new SyncMemberHandler.
func NewSyncMemberHandler(members member.Directory, publisher shared.EventPublisher, clock shared.Clock, log *logger.Logger) *SyncMemberHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SyncMemberHandler{
		members:   members,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("sync_member")),
	}
}

// Handle executes the sync member command.
func (h *SyncMemberHandler) Handle(ctx context.Context, cmd SyncMemberCommand) (*SyncMemberResult, error) {
	if err := access.RequireRole(cmd.Principal, shared.RoleService, shared.RoleAdmin); err != nil {
		return nil, err
	}

	m, err := member.New(cmd.UserID, cmd.Timezone, cmd.JoinedAt, cmd.Role, cmd.Scopes)
	if err != nil {
		return nil, err
	}
	m.UpdatedAt = h.clock.Now().UTC()

	result := &SyncMemberResult{Member: m}
	prev, err := h.members.Get(ctx, cmd.UserID)
	switch {
	case err == nil:
		result.ScopesChanged = !sameScopes(prev.Scopes, m.Scopes)
	case shared.IsNotFound(err):
		result.Created = true
		result.ScopesChanged = len(m.Scopes) > 0
	default:
		return nil, fmt.Errorf("sync_member: load: %w", err)
	}

	if err := h.members.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("sync_member: upsert: %w", err)
	}

	h.log.Info("member synced",
		logger.UserID(string(m.UserID)),
		logger.Bool("created", result.Created),
		logger.Bool("scopes_changed", result.ScopesChanged))

	if h.publisher != nil {
		scopes := make([]string, len(m.Scopes))
		for i, s := range m.Scopes {
			scopes[i] = string(s)
		}
		if err := h.publisher.Publish(shared.NewMemberSyncedEvent(string(m.UserID), scopes)); err != nil {
			h.log.Warn("publish event failed", logger.Err(err))
		}
	}
	return result, nil
}

// sameScopes compares normalized (sorted, unique) scope lists.
func sameScopes(a, b []shared.ScopeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
