// Package registry issues and redeems single-use confirmation tokens.
//
// A registry guarantees at most one pending token per entity and at most one
// successful redemption per token. Both backends keep consumed tokens until
// their expiry so a replayed token reports ErrTokenAlreadyConsumed rather
// than ErrTokenNotFound.
package registry

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"changegate/pkg/platform/sentinel"
)

// DefaultTTL is the confirmation window used when none is configured.
const DefaultTTL = 5 * time.Minute

var (
	ErrConflict             = fmt.Errorf("a change is already pending for this entity: %w", sentinel.ErrConflict)
	ErrTokenNotFound        = fmt.Errorf("confirmation token not found: %w", sentinel.ErrNotFound)
	ErrTokenExpired         = fmt.Errorf("confirmation token expired: %w", sentinel.ErrExpired)
	ErrTokenAlreadyConsumed = fmt.Errorf("confirmation token already consumed: %w", sentinel.ErrAlreadyUsed)
)

// Clock returns the current time.
type Clock func() time.Time

const tokenBytes = 32

func newTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate confirmation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
