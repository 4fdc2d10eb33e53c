package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
)

func newPayment(orderID string, createdAt time.Time) *model.Payment {
	return model.NewPayment(model.CreatePaymentRequest{
		MerchantID: "m-1",
		OrderID:    orderID,
		Amount:     decimal.RequireFromString("100.50"),
		Currency:   "USD",
		Method:     model.MethodWallet,
	}, model.ProviderZainCash, createdAt)
}

func TestMemoryPaymentRepository_OptimisticVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()

	p := newPayment("o-1", time.Now())
	require.NoError(t, repo.Create(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	a, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, a.Process("txn-1", time.Now()))
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	require.NoError(t, b.Fail("late", time.Now()))
	err = repo.Update(ctx, b)
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)
	assert.Equal(t, model.KindConflict, model.Kind(err))

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusProcessing, stored.Status)
}

func TestMemoryPaymentRepository_Lookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()
	base := time.Unix(1_700_000_000, 0)

	first := newPayment("o-1", base)
	second := newPayment("o-1", base.Add(time.Minute))
	other := newPayment("o-2", base.Add(2*time.Minute))
	for _, p := range []*model.Payment{first, second, other} {
		require.NoError(t, repo.Create(ctx, p))
	}

	latest, err := repo.GetByOrderID(ctx, "m-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	require.NoError(t, first.Process("txn-9", base))
	require.NoError(t, repo.Update(ctx, first))
	found, err := repo.GetByTransactionID(ctx, model.ProviderZainCash, "txn-9")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.GetByTransactionID(ctx, model.ProviderFIB, "txn-9")
	assert.ErrorIs(t, err, model.ErrNotFound)

	list, total, err := repo.List(ctx, model.ListPaymentsRequest{MerchantID: "m-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, other.ID, list[0].ID)

	stale, err := repo.ListStale(ctx, []statemachine.Status{statemachine.StatusPending}, base.Add(90*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, second.ID, stale[0].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrPaymentNotFound)
}

func TestMemoryCallbackLogRepository_Dedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryCallbackLogRepository()

	entry := &model.CallbackLog{ID: uuid.New(), Provider: "FIB", EventKey: "ev-1", ReceivedAt: time.Now()}
	stored, err := repo.Record(ctx, entry)
	require.NoError(t, err)
	assert.False(t, stored.Processed)
	assert.Equal(t, 1, stored.Attempts)

	require.NoError(t, repo.MarkProcessed(ctx, stored.ID, nil, "payment locked"))
	again, err := repo.Record(ctx, &model.CallbackLog{ID: uuid.New(), Provider: "FIB", EventKey: "ev-1"})
	require.NoError(t, err)
	assert.False(t, again.Processed)
	assert.Equal(t, stored.ID, again.ID)

	require.NoError(t, repo.MarkProcessed(ctx, stored.ID, nil, ""))
	third, err := repo.Record(ctx, &model.CallbackLog{ID: uuid.New(), Provider: "FIB", EventKey: "ev-1"})
	require.NoError(t, err)
	assert.True(t, third.Processed)
	assert.Equal(t, 3, third.Attempts)
}
