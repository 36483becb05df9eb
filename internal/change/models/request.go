package models

import (
	"maps"
	"time"
)

// EntityKind names a family of records sharing validation and sync rules,
// e.g. "banner" or "refreshment_point".
type EntityKind string

// Operation is the kind of mutation a change request asks for.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid reports whether op is a supported operation.
func (op Operation) IsValid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Fields is the opaque attribute map of an entity or payload.
type Fields map[string]any

// Clone returns a shallow copy; nested values are treated as immutable.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return maps.Clone(f)
}

// String returns the value of key when it is a string.
func (f Fields) String(key string) string {
	v, _ := f[key].(string)
	return v
}

// ChangeRequest is the caller's intent. Treat it as a value: constructors and
// accessors copy the payload so no holder can mutate another's view.
type ChangeRequest struct {
	Kind           EntityKind `json:"kind"`
	EntityID       string     `json:"entity_id"`
	Operation      Operation  `json:"operation"`
	Payload        Fields     `json:"payload,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	ActorID        string     `json:"actor_id,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
}

// NewChangeRequest builds a request, copying payload.
func NewChangeRequest(kind EntityKind, entityID string, op Operation, payload Fields, idempotencyKey string) ChangeRequest {
	return ChangeRequest{
		Kind:           kind,
		EntityID:       entityID,
		Operation:      op,
		Payload:        payload.Clone(),
		IdempotencyKey: idempotencyKey,
	}
}

// Clone returns a copy with its own payload map.
func (r ChangeRequest) Clone() ChangeRequest {
	r.Payload = r.Payload.Clone()
	return r
}

// EntityKey identifies the target entity across kinds.
func (r ChangeRequest) EntityKey() string {
	return string(r.Kind) + "/" + r.EntityID
}
