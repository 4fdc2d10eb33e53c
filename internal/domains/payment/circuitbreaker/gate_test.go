package circuitbreaker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// advance moves the clock and, for Redis, expires keys accordingly.
type harness struct {
	cache   Cache
	clock   *fakeClock
	advance func(d time.Duration)
}

func newRedisHarness(t *testing.T) harness {
	t.Helper()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := NewRedisCache(client, "test-cb", 10*time.Second)
	cache.now = clock.Now

	return harness{
		cache: cache,
		clock: clock,
		advance: func(d time.Duration) {
			clock.t = clock.t.Add(d)
			m.FastForward(d)
		},
	}
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := NewMemoryCache(10 * time.Second)
	cache.now = clock.Now

	return harness{
		cache:   cache,
		clock:   clock,
		advance: func(d time.Duration) { clock.t = clock.t.Add(d) },
	}
}

func harnesses(t *testing.T) map[string]harness {
	return map[string]harness{
		"redis":  newRedisHarness(t),
		"memory": newMemoryHarness(t),
	}
}

func TestGate_AbsentStateIsClosed(t *testing.T) {
	for name, h := range harnesses(t) {
		h := h
		t.Run(name, func(t *testing.T) {
			gate := NewGate(h.cache, Config{FailureThreshold: 3, FailureWindow: time.Minute, OpenTimeout: 30 * time.Second})

			assert.Equal(t, StateClosed, gate.State(context.Background(), "ZainCash"))
			assert.True(t, gate.Allow(context.Background(), "ZainCash"))
		})
	}
}

func TestGate_TripsAfterThresholdAndDecays(t *testing.T) {
	for name, h := range harnesses(t) {
		h := h
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gate := NewGate(h.cache, Config{FailureThreshold: 3, FailureWindow: time.Minute, OpenTimeout: 30 * time.Second})

			gate.RecordFailure(ctx, "FIB")
			gate.RecordFailure(ctx, "FIB")
			assert.True(t, gate.Allow(ctx, "FIB"), "below threshold")

			gate.RecordFailure(ctx, "FIB")
			assert.Equal(t, StateOpen, gate.State(ctx, "FIB"))
			assert.False(t, gate.Allow(ctx, "FIB"))
			assert.True(t, gate.Allow(ctx, "QiCard"), "other providers unaffected")

			h.advance(31 * time.Second)
			assert.Equal(t, StateHalfOpen, gate.State(ctx, "FIB"))
			assert.True(t, gate.Allow(ctx, "FIB"))

			// A failed probe re-opens immediately.
			gate.RecordFailure(ctx, "FIB")
			assert.Equal(t, StateOpen, gate.State(ctx, "FIB"))

			h.advance(31 * time.Second)
			gate.RecordSuccess(ctx, "FIB")
			assert.Equal(t, StateClosed, gate.State(ctx, "FIB"))
		})
	}
}

func TestGate_HalfOpenAdmitsOneProbe(t *testing.T) {
	for name, h := range harnesses(t) {
		h := h
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gate := NewGate(h.cache, Config{FailureThreshold: 1, FailureWindow: time.Minute, OpenTimeout: 30 * time.Second})

			gate.RecordFailure(ctx, "FIB")
			h.advance(31 * time.Second)
			require.Equal(t, StateHalfOpen, gate.State(ctx, "FIB"))

			var admitted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if gate.Allow(ctx, "FIB") {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), admitted.Load())

			// A failed probe re-opens; the next half-open period gets a fresh probe.
			gate.RecordFailure(ctx, "FIB")
			assert.False(t, gate.Allow(ctx, "FIB"))
			h.advance(31 * time.Second)
			assert.True(t, gate.Allow(ctx, "FIB"))
			assert.False(t, gate.Allow(ctx, "FIB"))

			gate.RecordSuccess(ctx, "FIB")
			assert.Equal(t, StateClosed, gate.State(ctx, "FIB"))
			assert.True(t, gate.Allow(ctx, "FIB"))
			assert.True(t, gate.Allow(ctx, "FIB"))
		})
	}
}

func TestGate_OpenEntryExpiresToClosed(t *testing.T) {
	for name, h := range harnesses(t) {
		h := h
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gate := NewGate(h.cache, Config{FailureThreshold: 1, FailureWindow: time.Minute, OpenTimeout: 30 * time.Second})

			gate.RecordFailure(ctx, "ZainCash")
			require.Equal(t, StateOpen, gate.State(ctx, "ZainCash"))

			// open timeout + half-open window
			h.advance(41 * time.Second)
			assert.Equal(t, StateClosed, gate.State(ctx, "ZainCash"))
		})
	}
}

func TestGate_FailureWindowResets(t *testing.T) {
	for name, h := range harnesses(t) {
		h := h
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gate := NewGate(h.cache, Config{FailureThreshold: 2, FailureWindow: 10 * time.Second, OpenTimeout: 30 * time.Second})

			gate.RecordFailure(ctx, "FIB")
			h.advance(11 * time.Second)
			gate.RecordFailure(ctx, "FIB")
			assert.True(t, gate.Allow(ctx, "FIB"))
		})
	}
}

func TestGate_LastWriterWins(t *testing.T) {
	h := newRedisHarness(t)
	ctx := context.Background()

	require.NoError(t, h.cache.SetState(ctx, "FIB", StateOpen, time.Minute))
	require.NoError(t, h.cache.SetState(ctx, "FIB", StateClosed, 0))

	state, err := h.cache.GetState(ctx, "FIB")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestGate_CacheErrorReadsAsClosed(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	m.Close()

	gate := NewGate(NewRedisCache(client, "", 0), DefaultConfig())
	assert.True(t, gate.Allow(context.Background(), "ZainCash"))
}
