package models

import "time"

// NotificationStatus is the coarse result announced to interested parties.
type NotificationStatus string

const (
	NotificationCommitted NotificationStatus = "committed"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification announces the end of one confirmed change.
type Notification struct {
	Kind           EntityKind         `json:"kind"`
	EntityID       string             `json:"entity_id"`
	Status         NotificationStatus `json:"status"`
	Outcome        OutcomeKind        `json:"outcome"`
	Operation      Operation          `json:"operation"`
	IdempotencyKey string             `json:"idempotency_key"`
	ActorID        string             `json:"actor_id,omitempty"`
	RequestID      string             `json:"request_id,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
