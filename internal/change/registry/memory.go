package registry

import (
	"context"
	"sync"
	"time"

	"changegate/internal/change/models"
)

// InMemoryRegistry keeps tokens in process memory. One mutex guards every map
// so the pending check in Propose and the consume step in Redeem/Cancel never
// interleave.
type InMemoryRegistry struct {
	mu       sync.Mutex
	tokens   map[string]*models.ConfirmationToken
	pending  map[string]string
	inFlight map[string]string
	ttl      time.Duration
	clock    Clock
}

type Option func(*InMemoryRegistry)

// WithClock overrides time.Now for expiry decisions.
func WithClock(clock Clock) Option {
	return func(r *InMemoryRegistry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewInMemory builds a registry issuing tokens valid for ttl.
func NewInMemory(ttl time.Duration, opts ...Option) *InMemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &InMemoryRegistry{
		tokens:   make(map[string]*models.ConfirmationToken),
		pending:  make(map[string]string),
		inFlight: make(map[string]string),
		ttl:      ttl,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRegistry) Propose(_ context.Context, req models.ChangeRequest) (*models.ConfirmationToken, error) {
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	key := req.EntityKey()
	if _, busy := r.inFlight[key]; busy {
		return nil, ErrConflict
	}
	if current, ok := r.pending[key]; ok {
		if tok, found := r.tokens[current]; found && tok.IsPendingAt(now) {
			return nil, ErrConflict
		}
	}

	tok := &models.ConfirmationToken{
		Value:     value,
		Request:   req.Clone(),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}
	r.tokens[value] = tok
	r.pending[key] = value
	return tok.Snapshot(), nil
}

// Redeem consumes the token and returns its request. Checks run in order
// not found, consumed, expired. The entity stays held until Release.
func (r *InMemoryRegistry) Redeem(_ context.Context, value string) (models.ChangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[value]
	if !ok {
		return models.ChangeRequest{}, ErrTokenNotFound
	}
	if tok.Consumed {
		return models.ChangeRequest{}, ErrTokenAlreadyConsumed
	}
	if tok.IsExpiredAt(r.clock()) {
		return models.ChangeRequest{}, ErrTokenExpired
	}
	req := tok.Request.Clone()
	r.consumeLocked(tok)
	r.inFlight[req.EntityKey()] = tok.Value
	return req, nil
}

// Release frees the entity held by a redeemed token. Releasing a token that
// holds nothing is a no-op.
func (r *InMemoryRegistry) Release(_ context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, holder := range r.inFlight {
		if holder == value {
			delete(r.inFlight, key)
			return nil
		}
	}
	return nil
}

// Cancel withdraws a token without executing it. An expired but unconsumed
// token is still withdrawn; a consumed one returns ErrTokenAlreadyConsumed.
func (r *InMemoryRegistry) Cancel(_ context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[value]
	if !ok {
		return ErrTokenNotFound
	}
	if tok.Consumed {
		return ErrTokenAlreadyConsumed
	}
	r.consumeLocked(tok)
	return nil
}

// DeleteExpired evicts every token whose expiry is at or before now.
func (r *InMemoryRegistry) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for value, tok := range r.tokens {
		if !tok.IsExpiredAt(now) {
			continue
		}
		key := tok.Request.EntityKey()
		if r.pending[key] == value {
			delete(r.pending, key)
		}
		delete(r.tokens, value)
		removed++
	}
	return removed, nil
}

// Len reports how many tokens, pending or tombstoned, are held.
func (r *InMemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// consumeLocked marks tok consumed and drops its payload. The tombstone only
// needs the entity key to answer replays.
func (r *InMemoryRegistry) consumeLocked(tok *models.ConfirmationToken) {
	tok.MarkConsumed()
	tok.Request.Payload = nil
	key := tok.Request.EntityKey()
	if r.pending[key] == tok.Value {
		delete(r.pending, key)
	}
}
