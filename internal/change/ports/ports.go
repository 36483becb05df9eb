// Package ports defines the collaborators the change executor depends on.
// Implementations live in store, gateway, notify and catalog.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Registry,Validator,LocalStateStore,RemoteSyncGateway,NotificationSink,Deriver

import (
	"context"

	"changegate/internal/change/models"
)

// Registry issues and redeems confirmation tokens.
type Registry interface {
	// Propose fails with a conflict when the entity already has a pending token.
	Propose(ctx context.Context, req models.ChangeRequest) (*models.ConfirmationToken, error)

	// Redeem consumes the token. It distinguishes not found, expired and
	// already consumed. The entity stays held against new proposals until
	// Release.
	Redeem(ctx context.Context, token string) (models.ChangeRequest, error)

	// Release frees the entity held by a redeemed token.
	Release(ctx context.Context, token string) error

	// Cancel withdraws a pending token without executing it.
	Cancel(ctx context.Context, token string) error
}

// Validator checks a request's payload. An empty result means valid.
type Validator interface {
	Validate(ctx context.Context, req models.ChangeRequest) []string
}

// LocalStateStore reads and writes the local copy of an entity. Apply must
// accept any prior state so it can serve as its own inverse.
type LocalStateStore interface {
	// Get returns sentinel.ErrNotFound for unknown entities.
	Get(ctx context.Context, kind models.EntityKind, entityID string) (models.EntityState, error)

	// Apply writes state; state.Exists=false removes the entity.
	Apply(ctx context.Context, state models.EntityState) error
}

// RemoteSyncGateway pushes a state to the system of record. Repeated calls
// with one idempotency key have at most one remote effect. Errors are
// *models.SyncError.
type RemoteSyncGateway interface {
	Push(ctx context.Context, kind models.EntityKind, entityID string, state models.EntityState, idempotencyKey string) (models.Ack, error)
}

// NotificationSink announces a finished change. Errors are logged by the
// caller and otherwise ignored.
type NotificationSink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Deriver computes the next state of an entity from its prior state.
type Deriver interface {
	Derive(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, req models.ChangeRequest) []string

func (f ValidatorFunc) Validate(ctx context.Context, req models.ChangeRequest) []string {
	return f(ctx, req)
}

// DeriverFunc adapts a function to Deriver.
type DeriverFunc func(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error)

func (f DeriverFunc) Derive(prior models.EntityState, req models.ChangeRequest) (models.EntityState, error) {
	return f(prior, req)
}
