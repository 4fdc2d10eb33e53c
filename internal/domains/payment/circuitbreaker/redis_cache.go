package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares breaker state across every instance of the service.
type RedisCache struct {
	client         redis.UniversalClient
	prefix         string
	halfOpenWindow time.Duration
	now            func() time.Time
}

func NewRedisCache(client redis.UniversalClient, prefix string, halfOpenWindow time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "cb"
	}
	if halfOpenWindow <= 0 {
		halfOpenWindow = DefaultHalfOpenWindow
	}
	return &RedisCache{
		client:         client,
		prefix:         prefix,
		halfOpenWindow: halfOpenWindow,
		now:            time.Now,
	}
}

func (c *RedisCache) stateKey(provider string) string {
	return fmt.Sprintf("%s:state:%s", c.prefix, provider)
}

func (c *RedisCache) failuresKey(provider string) string {
	return fmt.Sprintf("%s:failures:%s", c.prefix, provider)
}

func (c *RedisCache) probeKey(provider string) string {
	return fmt.Sprintf("%s:probe:%s", c.prefix, provider)
}

func (c *RedisCache) GetState(ctx context.Context, provider string) (State, error) {
	fields, err := c.client.HGetAll(ctx, c.stateKey(provider)).Result()
	if err != nil {
		return StateClosed, fmt.Errorf("failed to read breaker state: %w", err)
	}
	if len(fields) == 0 {
		return StateClosed, nil
	}

	stored := State(fields["state"])
	switch stored {
	case StateOpen, StateHalfOpen:
	default:
		return StateClosed, nil
	}

	untilMs, _ := strconv.ParseInt(fields["open_until"], 10, 64)
	return effectiveState(stored, time.UnixMilli(untilMs), c.now()), nil
}

func (c *RedisCache) SetState(ctx context.Context, provider string, state State, ttl time.Duration) error {
	key := c.stateKey(provider)

	if state == StateClosed {
		if err := c.client.Del(ctx, key, c.probeKey(provider)).Err(); err != nil {
			return fmt.Errorf("failed to clear breaker state: %w", err)
		}
		return nil
	}

	expiry := ttl
	if state == StateOpen {
		expiry = ttl + c.halfOpenWindow
	}
	openUntil := c.now().Add(ttl).UnixMilli()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "state", string(state), "open_until", openUntil)
		pipe.PExpire(ctx, key, expiry)
		pipe.Del(ctx, c.probeKey(provider))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write breaker state: %w", err)
	}
	return nil
}

func (c *RedisCache) IncrementFailures(ctx context.Context, provider string, window time.Duration) (int64, error) {
	key := c.failuresKey(provider)

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count breaker failure: %w", err)
	}
	if n == 1 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return n, fmt.Errorf("failed to set failure window: %w", err)
		}
	}
	return n, nil
}

func (c *RedisCache) ResetFailures(ctx context.Context, provider string) error {
	return c.client.Del(ctx, c.failuresKey(provider)).Err()
}

func (c *RedisCache) ClaimProbe(ctx context.Context, provider string, lease time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.probeKey(provider), c.now().UnixMilli(), lease).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim breaker probe: %w", err)
	}
	return ok, nil
}
