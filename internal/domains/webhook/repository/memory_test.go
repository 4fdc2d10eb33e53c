package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/webhook/model"
)

func pendingDelivery(createdAt time.Time, nextRetry *time.Time) *model.Delivery {
	return &model.Delivery{
		ID:          uuid.New(),
		PaymentID:   uuid.New(),
		URL:         "https://merchant.example/hooks",
		EventType:   "payment.succeeded",
		Payload:     []byte(`{}`),
		Status:      model.DeliveryStatusPending,
		RetryCount:  1,
		MaxRetries:  5,
		NextRetryAt: nextRetry,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestMemoryDelivery_ClaimDueIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryDeliveryRepository()

	now := time.Now()
	past := now.Add(-time.Minute)
	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, repo.Create(ctx, pendingDelivery(now.Add(time.Duration(i)*time.Millisecond), &past)))
	}

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := repo.ClaimDue(ctx, now, now.Add(time.Minute), 3)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, d := range claimed {
					seen[d.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "delivery %s claimed more than once", id)
	}
}

func TestMemoryDelivery_ClaimDueSelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryDeliveryRepository()

	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	expiredLease := now.Add(-time.Second)
	liveLease := now.Add(time.Minute)

	due := pendingDelivery(now, &past)
	notYet := pendingDelivery(now, &future)
	exhausted := pendingDelivery(now, &past)
	exhausted.RetryCount = 6
	abandoned := pendingDelivery(now, nil)
	abandoned.Status = model.DeliveryStatusInFlight
	abandoned.LeaseUntil = &expiredLease
	busy := pendingDelivery(now, nil)
	busy.Status = model.DeliveryStatusInFlight
	busy.LeaseUntil = &liveLease
	delivered := pendingDelivery(now, nil)
	delivered.Status = model.DeliveryStatusDelivered

	for _, d := range []*model.Delivery{due, notYet, exhausted, abandoned, busy, delivered} {
		require.NoError(t, repo.Create(ctx, d))
	}

	claimed, err := repo.ClaimDue(ctx, now, now.Add(time.Minute), 10)
	require.NoError(t, err)

	ids := map[uuid.UUID]bool{}
	for _, d := range claimed {
		ids[d.ID] = true
		assert.Equal(t, model.DeliveryStatusInFlight, d.Status)
		require.NotNil(t, d.LeaseUntil)
		assert.Equal(t, now.Add(time.Minute), *d.LeaseUntil)
	}
	assert.Equal(t, map[uuid.UUID]bool{due.ID: true, abandoned.ID: true}, ids)

	// Returned copies are detached from the store.
	claimed[0].URL = "mutated"
	stored, err := repo.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.example/hooks", stored.URL)
}

func TestMemoryEndpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryEndpointRepository()

	a := &model.Endpoint{ID: uuid.New(), MerchantID: "m-1", URL: "https://a.example", Active: true}
	b := &model.Endpoint{ID: uuid.New(), MerchantID: "m-1", URL: "https://b.example", Active: true}
	other := &model.Endpoint{ID: uuid.New(), MerchantID: "m-2", URL: "https://c.example", Active: true}
	for _, e := range []*model.Endpoint{a, b, other} {
		require.NoError(t, repo.Create(ctx, e))
	}

	active, err := repo.ListActive(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, repo.Deactivate(ctx, a.ID))
	active, err = repo.ListActive(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	assert.ErrorIs(t, repo.Deactivate(ctx, uuid.New()), model.ErrEndpointNotFound)
	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrEndpointNotFound)
}
