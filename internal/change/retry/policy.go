// Package retry runs remote sync attempts under a bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"changegate/internal/change/models"
)

// Policy bounds how a push is retried. MaxAttempts counts every call,
// including the first.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64
}

// DefaultPolicy is three attempts doubling from 200ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}
}

// Result reports how a retried operation ended.
type Result struct {
	Attempts int
	// Err is the last error returned by the operation, nil on success.
	Err error
	// Exhausted is true when the loop gave up on a transient failure,
	// either by running out of attempts or by context cancellation.
	Exhausted bool
}

// Succeeded reports whether the final attempt returned no error.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Operation is one attempt; attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Do runs op until it succeeds, returns a rejection, or the policy gives up.
// Errors that are not a rejected *models.SyncError are treated as transient.
func (p Policy) Do(ctx context.Context, op Operation) Result {
	p = p.normalized()

	var (
		attempts int
		lastErr  error
		rejected bool
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		lastErr = op(ctx, attempts)
		if lastErr == nil {
			return struct{}{}, nil
		}
		if models.IsRejected(lastErr) {
			rejected = true
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)

	if err == nil && lastErr == nil {
		return Result{Attempts: attempts}
	}
	if lastErr == nil {
		// cancelled before the first attempt ran
		lastErr = err
	}
	return Result{Attempts: attempts, Err: lastErr, Exhausted: !rejected}
}

// Delay returns the nominal wait before attempt n+1, ignoring jitter.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(time.Duration(d), p.MaxDelay)
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	return b
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	switch {
	case p.MaxDelay <= 0:
		p.MaxDelay = max(def.MaxDelay, p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}
