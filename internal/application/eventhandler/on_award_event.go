package eventhandler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON AWARD EVENT HANDLER
// Пересылает награды и повышения уровня внешним сервисам уведомлений.
// Движок сам ничего не рассылает: он только публикует конверт события.
// ═══════════════════════════════════════════════════════════════════════════

// Forwarder доставляет конверт события во внешний канал.
type Forwarder interface {
	Forward(ctx context.Context, env shared.EventEnvelope) error
}

// OnAwardEventHandler пересылает события наград.
type OnAwardEventHandler struct {
	forwarder Forwarder
	timeout   time.Duration
	log       *logger.Logger
}

// NewOnAwardEventHandler создаёт обработчик.
func NewOnAwardEventHandler(forwarder Forwarder, log *logger.Logger) *OnAwardEventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAwardEventHandler{
		forwarder: forwarder,
		timeout:   3 * time.Second,
		log:       log.With(logger.Component("on_award_event")),
	}
}

// Register подписывает обработчик на события наград.
func (h *OnAwardEventHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventBadgeAwarded,
		shared.EventChallengeCompleted,
		shared.EventLevelUp,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler.
func (h *OnAwardEventHandler) Handle(event shared.Event) error {
	env, err := shared.NewEnvelope(uuid.NewString(), event)
	if err != nil {
		h.log.Error("failed to build envelope", logger.Err(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.forwarder.Forward(ctx, env); err != nil {
		h.log.Warn("failed to forward award event",
			logger.String("event_type", string(env.Type)),
			logger.UserID(env.AggregateID),
			logger.Err(err))
		return err
	}

	h.log.Debug("award event forwarded",
		logger.String("event_type", string(env.Type)),
		logger.UserID(env.AggregateID))
	return nil
}
