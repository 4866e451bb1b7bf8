// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACTIVITY CHANGED HANDLER
// Сбрасывает кэшированные лидерборды областей пользователя, когда меняется
// его журнал (новое событие, отмена) или членство в классах.
// Кэш допускает устаревание, поэтому ошибки только логируются.
// ═══════════════════════════════════════════════════════════════════════════

// OnActivityChangedHandler инвалидирует снапшоты лидербордов.
type OnActivityChangedHandler struct {
	members member.Directory
	cache   leaderboard.SnapshotCache
	timeout time.Duration
	log     *logger.Logger
}

// NewOnActivityChangedHandler создаёт обработчик.
func NewOnActivityChangedHandler(members member.Directory, cache leaderboard.SnapshotCache, log *logger.Logger) *OnActivityChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnActivityChangedHandler{
		members: members,
		cache:   cache,
		timeout: 3 * time.Second,
		log:     log.With(logger.Component("on_activity_changed")),
	}
}

// Register подписывает обработчик на нужные события.
func (h *OnActivityChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventActivityAccepted,
		shared.EventActivityReversed,
		shared.EventMemberSynced,
		shared.EventBadgeAwarded,
		shared.EventChallengeCompleted,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
func (h *OnActivityChangedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	userID := shared.UserID(event.AggregateID())

	// "all" содержит всех участников, его сбрасываем всегда.
	scopes := []shared.ScopeID{shared.ScopeAll}
	m, err := h.members.Get(ctx, userID)
	switch {
	case err == nil:
		scopes = append(scopes, m.Scopes...)
	case shared.IsNotFound(err):
	default:
		h.log.Warn("failed to load member", logger.UserID(string(userID)), logger.Err(err))
	}

	for _, s := range scopes {
		if err := h.cache.InvalidateScope(ctx, string(s)); err != nil {
			h.log.Warn("failed to invalidate leaderboard cache",
				logger.String("scope", string(s)),
				logger.String("event_type", string(event.EventType())),
				logger.Err(err))
		}
	}
	return nil
}
