package models

import (
	"errors"
	"strings"
)

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind string

const (
	OutcomeCommitted           OutcomeKind = "committed"
	OutcomeCancelled           OutcomeKind = "cancelled"
	OutcomeValidationFailed    OutcomeKind = "validation_failed"
	OutcomeConfirmationExpired OutcomeKind = "confirmation_expired"
	OutcomeRemoteSyncFailed    OutcomeKind = "remote_sync_failed"
	OutcomeUnexpectedError     OutcomeKind = "unexpected_error"
)

// Reasons attached to Cancelled and ConfirmationExpired outcomes.
const (
	ReasonUserDeclined         = "user_declined"
	ReasonAlreadyResolved      = "already_resolved"
	ReasonTokenNotFound        = "token_not_found"
	ReasonTokenExpired         = "token_expired"
	ReasonTokenAlreadyConsumed = "token_already_consumed"
)

// Outcome is the single terminal result of a confirm or cancel call. Only the
// fields relevant to Kind are populated. The low-level cause is kept for
// logging and never serialized.
type Outcome struct {
	Kind             OutcomeKind `json:"outcome"`
	EntityID         string      `json:"entity_id,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Errors           []string    `json:"errors,omitempty"`
	RetriesExhausted bool        `json:"retries_exhausted,omitempty"`
	Detail           string      `json:"detail,omitempty"`
	StateDiverged    bool        `json:"state_diverged,omitempty"`

	cause error
}

func Committed(entityID string) Outcome {
	return Outcome{Kind: OutcomeCommitted, EntityID: entityID}
}

func Cancelled(reason string) Outcome {
	return Outcome{Kind: OutcomeCancelled, Reason: reason}
}

func ValidationFailed(errs []string) Outcome {
	return Outcome{Kind: OutcomeValidationFailed, Errors: append([]string(nil), errs...)}
}

// ConfirmationExpired reports a token that could not be redeemed. cause keeps
// the registry error so callers can still tell "already handled" from
// "never existed".
func ConfirmationExpired(reason string, cause error) Outcome {
	return Outcome{Kind: OutcomeConfirmationExpired, Reason: reason, cause: cause}
}

// RemoteSyncFailed reports a compensated change the remote did not accept.
func RemoteSyncFailed(entityID string, retriesExhausted bool, cause error) Outcome {
	return Outcome{Kind: OutcomeRemoteSyncFailed, EntityID: entityID, RetriesExhausted: retriesExhausted, cause: cause}
}

// UnexpectedError reports a store or compensation failure.
func UnexpectedError(entityID, detail string, cause error) Outcome {
	return Outcome{Kind: OutcomeUnexpectedError, EntityID: entityID, Detail: detail, cause: cause}
}

// Diverged marks an UnexpectedError whose compensation failed: local state no
// longer matches what the remote holds.
func (o Outcome) Diverged() Outcome {
	o.StateDiverged = true
	return o
}

// Cause returns the wrapped low-level error, if any.
func (o Outcome) Cause() error {
	return o.cause
}

// Is lets errors.Is style checks run against the cause.
func (o Outcome) Is(target error) bool {
	return o.cause != nil && errors.Is(o.cause, target)
}

// IsCommitted reports whether the remote system reflects the change.
func (o Outcome) IsCommitted() bool {
	return o.Kind == OutcomeCommitted
}

func (o Outcome) String() string {
	parts := []string{string(o.Kind)}
	for _, p := range []string{o.EntityID, o.Reason, o.Detail} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
