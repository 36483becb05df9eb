package models

import (
	"errors"
	"fmt"
)

// SyncErrorKind classifies a remote push failure.
type SyncErrorKind string

const (
	// SyncTransient failures may succeed on retry with the same idempotency key.
	SyncTransient SyncErrorKind = "transient"
	// SyncRejected failures are definite: the remote refused the change.
	SyncRejected SyncErrorKind = "rejected"
)

// SyncError is the only error type a RemoteSyncGateway returns.
type SyncError struct {
	Kind SyncErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote sync %s", e.Kind)
	}
	return fmt.Sprintf("remote sync %s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable sync failure.
func Transient(err error) error {
	return &SyncError{Kind: SyncTransient, Err: err}
}

// Rejected wraps err as a definite sync failure.
func Rejected(err error) error {
	return &SyncError{Kind: SyncRejected, Err: err}
}

// IsRejected reports whether err is a definite rejection. Errors that are not
// a *SyncError count as transient: retries are safe under the idempotency key.
func IsRejected(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr) && syncErr.Kind == SyncRejected
}

// Ack is the remote acknowledgement of a push.
type Ack struct {
	RemoteVersion string
}
