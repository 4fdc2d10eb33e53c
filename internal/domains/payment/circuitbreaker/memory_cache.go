package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// MemoryCache keeps breaker state in process memory.
//
// Single-instance fallback only: state is not shared, so in a multi-instance
// deployment each replica would trip independently. Use RedisCache there.
type MemoryCache struct {
	mu             sync.Mutex
	states         map[string]memoryState
	failures       map[string]memoryCounter
	probes         map[string]time.Time
	halfOpenWindow time.Duration
	now            func() time.Time
}

type memoryState struct {
	state     State
	openUntil time.Time
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCache(halfOpenWindow time.Duration) *MemoryCache {
	if halfOpenWindow <= 0 {
		halfOpenWindow = DefaultHalfOpenWindow
	}
	return &MemoryCache{
		states:         make(map[string]memoryState),
		failures:       make(map[string]memoryCounter),
		probes:         make(map[string]time.Time),
		halfOpenWindow: halfOpenWindow,
		now:            time.Now,
	}
}

func (c *MemoryCache) GetState(_ context.Context, provider string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.states[provider]
	if !ok {
		return StateClosed, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(c.states, provider)
		return StateClosed, nil
	}
	return effectiveState(entry.state, entry.openUntil, now), nil
}

func (c *MemoryCache) SetState(_ context.Context, provider string, state State, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.probes, provider)
	if state == StateClosed {
		delete(c.states, provider)
		return nil
	}

	now := c.now()
	expiry := ttl
	if state == StateOpen {
		expiry = ttl + c.halfOpenWindow
	}
	c.states[provider] = memoryState{
		state:     state,
		openUntil: now.Add(ttl),
		expiresAt: now.Add(expiry),
	}
	return nil
}

func (c *MemoryCache) IncrementFailures(_ context.Context, provider string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	counter, ok := c.failures[provider]
	if !ok || !now.Before(counter.expiresAt) {
		counter = memoryCounter{expiresAt: now.Add(window)}
	}
	counter.count++
	c.failures[provider] = counter
	return counter.count, nil
}

func (c *MemoryCache) ResetFailures(_ context.Context, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.failures, provider)
	return nil
}

func (c *MemoryCache) ClaimProbe(_ context.Context, provider string, lease time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.probes[provider]; ok && now.Before(until) {
		return false, nil
	}
	c.probes[provider] = now.Add(lease)
	return true, nil
}
