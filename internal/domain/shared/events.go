package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is published after the corresponding write committed.
const (
	// Activity events
	EventActivityAccepted EventType = "activity.accepted"
	EventActivityReversed EventType = "activity.reversed"

	// Progress events
	EventLevelUp EventType = "progress.level_up"

	// Award events
	EventBadgeAwarded       EventType = "award.badge_awarded"
	EventChallengeCompleted EventType = "award.challenge_completed"

	// Member events
	EventMemberSynced EventType = "member.synced"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityAcceptedEvent is emitted once per newly stored activity event.
// Duplicate submissions never emit it.
type ActivityAcceptedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	EventID    int64  `json:"event_id"`
	Kind       string `json:"kind"`
	Quantity   int64  `json:"quantity"`
	OccurredOn string `json:"occurred_on"`
	XPAwarded  int64  `json:"xp_awarded"`
}

// Payload implements Event interface.
func (e ActivityAcceptedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"event_id":    e.EventID,
		"kind":        e.Kind,
		"quantity":    e.Quantity,
		"occurred_on": e.OccurredOn,
		"xp_awarded":  e.XPAwarded,
	}
}

// NewActivityAcceptedEvent creates a new ActivityAcceptedEvent.
func NewActivityAcceptedEvent(userID string, eventID int64, kind string, quantity int64, occurredOn string, xp int64) ActivityAcceptedEvent {
	return ActivityAcceptedEvent{
		BaseEvent:  NewBaseEvent(EventActivityAccepted, userID),
		UserID:     userID,
		EventID:    eventID,
		Kind:       kind,
		Quantity:   quantity,
		OccurredOn: occurredOn,
		XPAwarded:  xp,
	}
}

// ActivityReversedEvent is emitted when an administrator reverses an event.
type ActivityReversedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	EventID    int64  `json:"event_id"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	ReversedBy string `json:"reversed_by"`
}

// Payload implements Event interface.
func (e ActivityReversedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"event_id":    e.EventID,
		"amount":      e.Amount,
		"reason":      e.Reason,
		"reversed_by": e.ReversedBy,
	}
}

// NewActivityReversedEvent creates a new ActivityReversedEvent.
func NewActivityReversedEvent(userID string, eventID, amount int64, reason, reversedBy string) ActivityReversedEvent {
	return ActivityReversedEvent{
		BaseEvent:  NewBaseEvent(EventActivityReversed, userID),
		UserID:     userID,
		EventID:    eventID,
		Amount:     amount,
		Reason:     reason,
		ReversedBy: reversedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelUpEvent is emitted when a submission moves a user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	TotalXP  int64  `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, totalXP int64) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Award Events
// ═══════════════════════════════════════════════════════════════════════════

// BadgeAwardedEvent is emitted exactly once per (user, badge).
type BadgeAwardedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	BadgeID  string `json:"badge_id"`
	XPReward int64  `json:"xp_reward"`
	Rarity   string `json:"rarity"`
}

// Payload implements Event interface.
func (e BadgeAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"badge_id":  e.BadgeID,
		"xp_reward": e.XPReward,
		"rarity":    e.Rarity,
	}
}

// NewBadgeAwardedEvent creates a new BadgeAwardedEvent.
func NewBadgeAwardedEvent(userID, badgeID string, xpReward int64, rarity string) BadgeAwardedEvent {
	return BadgeAwardedEvent{
		BaseEvent: NewBaseEvent(EventBadgeAwarded, userID),
		UserID:    userID,
		BadgeID:   badgeID,
		XPReward:  xpReward,
		Rarity:    rarity,
	}
}

// ChallengeCompletedEvent is emitted exactly once per (challenge, user).
type ChallengeCompletedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	XPReward    int64  `json:"xp_reward"`
	BadgeID     string `json:"badge_id,omitempty"`
}

// Payload implements Event interface.
func (e ChallengeCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"xp_reward":    e.XPReward,
		"badge_id":     e.BadgeID,
	}
}

// NewChallengeCompletedEvent creates a new ChallengeCompletedEvent.
func NewChallengeCompletedEvent(userID, challengeID string, xpReward int64, badgeID string) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, userID),
		UserID:      userID,
		ChallengeID: challengeID,
		XPReward:    xpReward,
		BadgeID:     badgeID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Member Events
// ═══════════════════════════════════════════════════════════════════════════

// MemberSyncedEvent is emitted when a collaborator pushes member data.
type MemberSyncedEvent struct {
	BaseEvent
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes"`
}

// Payload implements Event interface.
func (e MemberSyncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"scopes":  e.Scopes,
	}
}

// NewMemberSyncedEvent creates a new MemberSyncedEvent.
func NewMemberSyncedEvent(userID string, scopes []string) MemberSyncedEvent {
	return MemberSyncedEvent{
		BaseEvent: NewBaseEvent(EventMemberSynced, userID),
		UserID:    userID,
		Scopes:    scopes,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event's payload into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	return env, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
