package models

import "time"

// ConfirmationToken authorizes exactly one execution of a validated change.
type ConfirmationToken struct {
	Value     string
	Request   ChangeRequest
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// IsExpiredAt reports whether the token can no longer be redeemed at now.
func (t *ConfirmationToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsPendingAt reports whether the token still blocks other proposals for its entity.
func (t *ConfirmationToken) IsPendingAt(now time.Time) bool {
	return !t.Consumed && !t.IsExpiredAt(now)
}

// MarkConsumed moves the token to its terminal state.
func (t *ConfirmationToken) MarkConsumed() {
	t.Consumed = true
}

// Snapshot returns a copy safe to hand outside the registry.
func (t *ConfirmationToken) Snapshot() *ConfirmationToken {
	cp := *t
	cp.Request = t.Request.Clone()
	return &cp
}
