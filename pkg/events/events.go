package events

import (
	"context"
	"time"

	"reclock/pkg/model"
)

// Event types on the lock audit stream.
const (
	TypeLockAcquired      = "lock.acquired"
	TypeLockRenewed       = "lock.renewed"
	TypeLockReleased      = "lock.released"
	TypeLockForceReleased = "lock.force_released"
	TypeLocksExpired      = "lock.expired_swept"
)

// LockEvent is the payload published for every lock lifecycle transition.
// The stream is fire-and-forget audit data; delivery semantics beyond that
// are out of scope for the coordinator.
type LockEvent struct {
	EventType   string           `json:"event_type"`
	LockID      string           `json:"lock_id,omitempty"`
	EntityType  model.EntityType `json:"entity_type,omitempty"`
	EntityID    string           `json:"entity_id,omitempty"`
	LockMode    model.LockMode   `json:"lock_mode,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	AdminUserID string           `json:"admin_user_id,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	SweptCount  int64            `json:"swept_count,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Publisher emits lock lifecycle events. Publish failures must never fail
// the lock operation itself; implementations log and move on.
type Publisher interface {
	Publish(ctx context.Context, event LockEvent)
	Close() error
}

// NoopPublisher is used when no event topic is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, LockEvent) {}
func (NoopPublisher) Close() error                       { return nil }
