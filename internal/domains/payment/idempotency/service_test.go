package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/payment/model"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test-idem"), m
}

func newTestService(t *testing.T, waitTimeout time.Duration) (Service, *miniredis.Miniredis) {
	t.Helper()

	store, m := newRedisStore(t)
	return NewService(store, Config{
		Retention:    time.Hour,
		WaitTimeout:  waitTimeout,
		PollInterval: 5 * time.Millisecond,
	}), m
}

func TestService_BeginOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 50*time.Millisecond)

	res, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)

	paymentID := uuid.New()
	require.NoError(t, svc.Complete(ctx, "k1", paymentID))

	res, err = svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, paymentID, res.PaymentID)

	res, err = svc.Begin(ctx, "k1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestService_PendingKeyTimesOutAsInProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 30*time.Millisecond)

	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)

	_, err = svc.Begin(ctx, "k1", "hash-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRequestInProgress)
}

func TestService_WaiterSeesCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 2*time.Second)

	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)

	paymentID := uuid.New()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = svc.Complete(ctx, "k1", paymentID)
	}()

	res, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, paymentID, res.PaymentID)
}

func TestService_ReleaseFreesKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 50*time.Millisecond)

	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, "k1"))

	res, err := svc.Begin(ctx, "k1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)
}

func TestService_ReleaseKeepsCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 50*time.Millisecond)

	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "k1", uuid.New()))
	require.NoError(t, svc.Release(ctx, "k1"))

	res, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestService_RecordsExpireAfterRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, m := newTestService(t, 50*time.Millisecond)

	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "k1", uuid.New()))

	m.FastForward(time.Hour + time.Second)

	res, err := svc.Begin(ctx, "k1", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)
}

func TestService_AbandonedPendingKeyExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, m := newRedisStore(t)
	svc := NewService(store, Config{
		Retention:    time.Hour,
		PendingTTL:   time.Minute,
		WaitTimeout:  20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	// Holder never completes or releases.
	_, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)

	_, err = svc.Begin(ctx, "k1", "hash-a")
	assert.ErrorIs(t, err, model.ErrRequestInProgress)

	m.FastForward(time.Minute + time.Second)

	res, err := svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)

	// Completion outlives the pending bound.
	paymentID := uuid.New()
	require.NoError(t, svc.Complete(ctx, "k1", paymentID))
	m.FastForward(time.Minute + time.Second)

	res, err = svc.Begin(ctx, "k1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, paymentID, res.PaymentID)
	assert.Greater(t, m.TTL("test-idem:k1"), 50*time.Minute)
}

func TestService_ConcurrentBeginHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newTestService(t, 20*time.Millisecond)

	const callers = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			res, err := svc.Begin(ctx, "shared", "hash-a")
			if err == nil && res.Outcome == OutcomeNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestService_BeginHonoursContext(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, time.Minute)

	_, err := svc.Begin(context.Background(), "k1", "hash-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Begin(ctx, "k1", "hash-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHashRequest(t *testing.T) {
	t.Parallel()

	a := map[string]string{"b": "2", "a": "1"}
	b := map[string]string{"a": "1", "b": "2"}

	ha, err := HashRequest(a)
	require.NoError(t, err)
	hb, err := HashRequest(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	hc, err := HashRequest(map[string]string{"a": "1", "b": "3"})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}
