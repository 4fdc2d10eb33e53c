package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisBeginScript = redis.NewScript(`
local key = KEYS[1]
local request_hash = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  redis.call("HSET", key, "request_hash", request_hash, "status", "pending")
  redis.call("PEXPIRE", key, ttl_ms)
  return {"new"}
end

if redis.call("HGET", key, "request_hash") ~= request_hash then
  return {"conflict"}
end

if redis.call("HGET", key, "status") == "completed" then
  return {"completed", redis.call("HGET", key, "payment_id") or ""}
end

return {"in_progress"}
`)

var redisCompleteScript = redis.NewScript(`
local key = KEYS[1]
local payment_id = ARGV[1]
local ttl_ms = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  return 0
end

redis.call("HSET", key, "status", "completed", "payment_id", payment_id)
redis.call("PEXPIRE", key, ttl_ms)
return 1
`)

var redisReleaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "status") == "pending" then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps one hash per key; expiry is left to Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idem:payment"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *RedisStore) Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error) {
	raw, err := redisBeginScript.Run(ctx, s.client,
		[]string{s.redisKey(key)},
		requestHash,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to begin idempotent request: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return BeginResult{}, fmt.Errorf("unexpected redis begin result type %T", raw)
	}

	state := asString(values[0])
	switch State(state) {
	case StateNew, StateConflict, StateInProgress:
		return BeginResult{State: State(state)}, nil
	case StateCompleted:
		if len(values) < 2 {
			return BeginResult{}, fmt.Errorf("unexpected completed payload")
		}
		paymentID, err := uuid.Parse(asString(values[1]))
		if err != nil {
			return BeginResult{}, fmt.Errorf("parse stored payment id: %w", err)
		}
		return BeginResult{State: StateCompleted, PaymentID: paymentID}, nil
	default:
		return BeginResult{}, fmt.Errorf("unknown idempotency state %q", state)
	}
}

func (s *RedisStore) Complete(ctx context.Context, key string, paymentID uuid.UUID, ttl time.Duration) error {
	n, err := redisCompleteScript.Run(ctx, s.client,
		[]string{s.redisKey(key)},
		paymentID.String(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete idempotent request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("idempotency key %q expired before completion", key)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := redisReleaseScript.Run(ctx, s.client, []string{s.redisKey(key)}).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: keys carry a PEXPIRE.
func (s *RedisStore) PurgeExpired(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
