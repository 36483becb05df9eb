package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, registries and gateways
// return these (optionally wrapped) so services can translate them into
// outcomes and domain errors.
//
// - ErrNotFound: entity or token does not exist
// - ErrConflict: another pending change already claims the entity
// - ErrExpired: token has passed its expiry
// - ErrAlreadyUsed: token has already been redeemed or cancelled
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: dependency temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
