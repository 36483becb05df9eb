package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"changegate/internal/change/models"
)

const (
	pendingKeyPrefix = "changegate:pending:"
	tokenKeyPrefix   = "changegate:token:"

	// Consumed tokens stay readable for this multiple of the TTL so replays
	// report "already consumed".
	retentionFactor = 2
)

const (
	statusOK       = "ok"
	statusConflict = "conflict"
	statusNotFound = "not_found"
	statusConsumed = "consumed"
	statusExpired  = "expired"
)

// KEYS[1] pending key, KEYS[2] token key.
// ARGV: token value, request json, issued_at ms, expires_at ms, ttl ms, retention ms.
var proposeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  return {'conflict', current}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[5])
redis.call('HSET', KEYS[2],
  'request', ARGV[2],
  'issued_at', ARGV[3],
  'expires_at', ARGV[4],
  'consumed', '0',
  'pending_key', KEYS[1])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
return {'ok', ARGV[1]}
`)

// KEYS[1] token key. ARGV: token value, now ms, hold ms.
// The pending key is rewritten as a hold on the entity until release.
var redeemScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found', ''}
end
local f = redis.call('HMGET', KEYS[1], 'request', 'expires_at', 'consumed', 'pending_key')
if f[3] == '1' then
  return {'consumed', ''}
end
if tonumber(ARGV[2]) >= tonumber(f[2]) then
  return {'expired', ''}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
redis.call('HDEL', KEYS[1], 'request')
local holder = redis.call('GET', f[4])
if holder == false or holder == ARGV[1] then
  redis.call('SET', f[4], ARGV[1], 'PX', ARGV[3])
end
return {'ok', f[1]}
`)

// KEYS[1] token key. ARGV: token value.
var cancelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found', ''}
end
local f = redis.call('HMGET', KEYS[1], 'consumed', 'pending_key')
if f[1] == '1' then
  return {'consumed', ''}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
redis.call('HDEL', KEYS[1], 'request')
if redis.call('GET', f[2]) == ARGV[1] then
  redis.call('DEL', f[2])
end
return {'ok', ''}
`)

// KEYS[1] token key. ARGV: token value.
var releaseScript = redis.NewScript(`
local pk = redis.call('HGET', KEYS[1], 'pending_key')
if pk and redis.call('GET', pk) == ARGV[1] then
  redis.call('DEL', pk)
end
return 'ok'
`)

// RedisRegistry shares tokens across processes. Each operation is a single
// Lua script, so the check and the write are atomic on the server. Key TTLs
// take the place of the sweeper. A redeemed entity stays held for one TTL
// or until Release, whichever comes first.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	clock  Clock
}

type RedisOption func(*RedisRegistry)

func WithRedisClock(clock Clock) RedisOption {
	return func(r *RedisRegistry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &RedisRegistry{client: client, ttl: ttl, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRegistry) Propose(ctx context.Context, req models.ChangeRequest) (*models.ConfirmationToken, error) {
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode change request: %w", err)
	}

	now := r.clock()
	tok := &models.ConfirmationToken{
		Value:     value,
		Request:   req.Clone(),
		IssuedAt:  now,
		ExpiresAt: now.Add(r.ttl),
	}

	res, err := proposeScript.Run(ctx, r.client,
		[]string{pendingKeyPrefix + req.EntityKey(), tokenKeyPrefix + value},
		value,
		payload,
		now.UnixMilli(),
		tok.ExpiresAt.UnixMilli(),
		r.ttl.Milliseconds(),
		(retentionFactor * r.ttl).Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("propose confirmation: %w", err)
	}
	if res[0] == statusConflict {
		return nil, ErrConflict
	}
	return tok, nil
}

func (r *RedisRegistry) Redeem(ctx context.Context, value string) (models.ChangeRequest, error) {
	res, err := redeemScript.Run(ctx, r.client,
		[]string{tokenKeyPrefix + value},
		value,
		strconv.FormatInt(r.clock().UnixMilli(), 10),
		r.ttl.Milliseconds(),
	).StringSlice()
	if err != nil {
		return models.ChangeRequest{}, fmt.Errorf("redeem confirmation: %w", err)
	}
	if err := statusError(res[0]); err != nil {
		return models.ChangeRequest{}, err
	}

	var req models.ChangeRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return models.ChangeRequest{}, fmt.Errorf("decode change request: %w", err)
	}
	return req, nil
}

func (r *RedisRegistry) Cancel(ctx context.Context, value string) error {
	res, err := cancelScript.Run(ctx, r.client, []string{tokenKeyPrefix + value}, value).StringSlice()
	if err != nil {
		return fmt.Errorf("cancel confirmation: %w", err)
	}
	return statusError(res[0])
}

func (r *RedisRegistry) Release(ctx context.Context, value string) error {
	if err := releaseScript.Run(ctx, r.client, []string{tokenKeyPrefix + value}, value).Err(); err != nil {
		return fmt.Errorf("release confirmation: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (r *RedisRegistry) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func statusError(status string) error {
	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		return ErrTokenNotFound
	case statusConsumed:
		return ErrTokenAlreadyConsumed
	case statusExpired:
		return ErrTokenExpired
	default:
		return fmt.Errorf("unexpected registry status %q", status)
	}
}
