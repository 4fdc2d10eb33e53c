package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/payment/circuitbreaker"
	"payment-orchestrator/internal/domains/payment/fraud"
	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/gateway/mock"
	"payment-orchestrator/internal/domains/payment/idempotency"
	"payment-orchestrator/internal/domains/payment/model"
	repo "payment-orchestrator/internal/domains/payment/repository"
	"payment-orchestrator/internal/domains/payment/settlement"
	"payment-orchestrator/internal/domains/payment/statemachine"
	"payment-orchestrator/pkg/option"
)

const callbackSecret = "cb-secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (r *recordingPublisher) Publish(_ context.Context, _ *model.Payment, events []model.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingPublisher) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc       *paymentService
	payments  *repo.MemoryPaymentRepository
	zaincash  *mock.Provider
	fib       *mock.Provider
	registry  *gateway.Registry
	publisher *recordingPublisher
}

type fixtureOption func(*Dependencies)

func withFraud(cfg fraud.RuleConfig) fixtureOption {
	return func(d *Dependencies) {
		d.Fraud = option.Some(fraud.NewGuard(fraud.NewRuleScreener(cfg, nil), false))
	}
}

func withSettlement(currency string, rates settlement.StaticRates) fixtureOption {
	return func(d *Dependencies) {
		d.Settlement = option.Some(settlement.NewService(currency, rates))
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idem := idempotency.NewService(idempotency.NewRedisStore(client, "test-idem"), idempotency.Config{
		Retention:    time.Hour,
		WaitTimeout:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})

	gate := circuitbreaker.NewGate(circuitbreaker.NewMemoryCache(time.Second), circuitbreaker.Config{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		OpenTimeout:      time.Minute,
	})
	registry := gateway.NewRegistry(gate)
	zaincash := mock.NewProvider(model.ProviderZainCash, callbackSecret)
	fib := mock.NewProvider(model.ProviderFIB, callbackSecret)
	registry.Register(zaincash)
	registry.Register(fib)

	payments := repo.NewMemoryPaymentRepository()
	publisher := &recordingPublisher{}

	deps := Dependencies{
		Payments:    payments,
		Callbacks:   repo.NewMemoryCallbackLogRepository(),
		Idempotency: idem,
		Registry:    registry,
		Events:      option.Some[EventPublisher](publisher),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewPaymentService(deps, Config{ProviderTimeout: time.Second}).(*paymentService)
	return &fixture{
		svc:       svc,
		payments:  payments,
		zaincash:  zaincash,
		fib:       fib,
		registry:  registry,
		publisher: publisher,
	}
}

func walletRequest(amount string) model.CreatePaymentRequest {
	return model.CreatePaymentRequest{
		MerchantID: "merchant-1",
		OrderID:    "order-1",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		Method:     model.MethodWallet,
		Provider:   model.ProviderZainCash,
	}
}

func signedCallback(t *testing.T, body mock.CallbackBody) gateway.CallbackData {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return gateway.CallbackData{
		Payload:   payload,
		Signature: gateway.GenerateSignature(callbackSecret, payload, ""),
	}
}

// ===== CREATE =====

func TestCreatePayment_CapturedWithSettlement(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withSettlement("IQD", settlement.StaticRates{"USD:IQD": decimal.NewFromInt(1310)}))
	f.zaincash.SetCaptured(true)

	req := walletRequest("100.50")
	req.Split = &model.SplitRule{
		SystemPercent: decimal.NewFromInt(30),
		OwnerPercent:  decimal.NewFromInt(70),
	}

	payment, err := f.svc.CreatePayment(context.Background(), "k1", req)
	require.NoError(t, err)

	assert.Equal(t, statemachine.StatusSucceeded, payment.Status)
	assert.Equal(t, model.ProviderZainCash, payment.Provider)
	require.NotNil(t, payment.TransactionID)
	require.NotNil(t, payment.Settlement)
	assert.Equal(t, "IQD", payment.Settlement.Currency)
	assert.Equal(t, "131655", payment.Settlement.Amount.String())
	require.NotNil(t, payment.Split)
	assert.NotNil(t, payment.CompletedAt)

	assert.Equal(t, []model.EventType{model.EventPaymentProcessing, model.EventPaymentSucceeded}, f.publisher.types())

	stored, err := f.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusSucceeded, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestCreatePayment_Idempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreatePayment(ctx, "k1", walletRequest("100.50"))
	require.NoError(t, err)

	again, err := f.svc.CreatePayment(ctx, "k1", walletRequest("100.50"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.zaincash.Calls())
	assert.Equal(t, 1, f.payments.Count())

	_, err = f.svc.CreatePayment(ctx, "k1", walletRequest("99.00"))
	assert.ErrorIs(t, err, model.ErrIdempotencyConflict)
	assert.Equal(t, model.KindConflict, model.Kind(err))

	_, err = f.svc.CreatePayment(ctx, "", walletRequest("99.00"))
	assert.Equal(t, model.KindValidation, model.Kind(err))
}

func TestCreatePayment_ConcurrentSameKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.zaincash.SetDelay(20 * time.Millisecond)

	const workers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.CreatePayment(context.Background(), "same-key", walletRequest("10.00"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[p.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, f.payments.Count())
	assert.Equal(t, 1, f.zaincash.Calls())
}

func TestCreatePayment_ProviderOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(p *mock.Provider)
		wantStatus statemachine.Status
		wantKind   string
		wantReason string
	}{
		{
			name:       "accepted awaiting capture",
			setup:      func(p *mock.Provider) {},
			wantStatus: statemachine.StatusProcessing,
		},
		{
			name:       "declined",
			setup:      func(p *mock.Provider) { p.SetFailPayment(true) },
			wantStatus: statemachine.StatusFailed,
			wantReason: "mock decline: insufficient funds",
		},
		{
			name:       "transient error",
			setup:      func(p *mock.Provider) { p.SetError(fmt.Errorf("%w: status 503", gateway.ErrTransient)) },
			wantStatus: statemachine.StatusFailed,
			wantKind:   model.KindProvider,
			wantReason: "transient provider failure: status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tt.setup(f.zaincash)

			payment, err := f.svc.CreatePayment(context.Background(), "k-"+tt.name, walletRequest("25.00"))
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, model.Kind(err))
				var pe *model.ProviderError
				require.True(t, errors.As(err, &pe))
				assert.True(t, pe.Transient)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, payment.Status)
			}

			list, total, err := f.svc.ListPayments(context.Background(), model.ListPaymentsRequest{MerchantID: "merchant-1"})
			require.NoError(t, err)
			require.Equal(t, 1, total)
			assert.Equal(t, tt.wantStatus, list[0].Status)
			if tt.wantReason != "" {
				require.NotNil(t, list[0].FailureReason)
				assert.Equal(t, tt.wantReason, *list[0].FailureReason)
			}
		})
	}
}

func TestCreatePayment_OpenBreakerRoutesToFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.registry.SetFallbacks(model.ProviderZainCash, []string{model.ProviderFIB})

	f.zaincash.SetError(fmt.Errorf("%w: timeout", gateway.ErrTransient))
	_, err := f.svc.CreatePayment(ctx, "k-1", walletRequest("10.00"))
	require.Error(t, err)
	assert.False(t, f.registry.Gate().Allow(ctx, model.ProviderZainCash))

	payment, err := f.svc.CreatePayment(ctx, "k-2", walletRequest("10.00"))
	require.NoError(t, err)
	assert.Equal(t, model.ProviderFIB, payment.Provider)
	assert.Equal(t, 1, f.zaincash.Calls())
}

func TestCreatePayment_CancelledCallFailsPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.zaincash.SetDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.svc.CreatePayment(ctx, "k-cancel", walletRequest("10.00"))
	assert.ErrorIs(t, err, context.Canceled)

	list, _, err := f.svc.ListPayments(context.Background(), model.ListPaymentsRequest{MerchantID: "merchant-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, statemachine.StatusFailed, list[0].Status)
	require.NotNil(t, list[0].FailureReason)
	assert.Equal(t, model.FailureReasonCancelled, *list[0].FailureReason)
}

func TestCreatePayment_FraudScreen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, withFraud(fraud.RuleConfig{
		BlockAmount:  map[string]decimal.Decimal{"USD": decimal.NewFromInt(1000)},
		ReviewAmount: map[string]decimal.Decimal{"USD": decimal.NewFromInt(100)},
	}))

	_, err := f.svc.CreatePayment(ctx, "k-block", walletRequest("5000.00"))
	var blocked *model.FraudBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, string(fraud.RiskHigh), blocked.RiskLevel)
	assert.NotEmpty(t, blocked.Reasons)
	assert.Equal(t, 0, f.payments.Count())
	assert.Equal(t, 0, f.zaincash.Calls())

	// The key was released, so a retry is screened again instead of waiting.
	_, err = f.svc.CreatePayment(ctx, "k-block", walletRequest("5000.00"))
	assert.ErrorIs(t, err, model.ErrFraudBlocked)

	req := walletRequest("150.00")
	req.CustomerFingerprint = "fp-1"
	payment, err := f.svc.CreatePayment(ctx, "k-review", req)
	require.NoError(t, err)
	assert.Equal(t, "true", payment.Metadata[model.MetadataFraudReview])
}

// ===== LIFECYCLE =====

func TestRefundPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.zaincash.SetCaptured(true)

	payment, err := f.svc.CreatePayment(ctx, "k1", walletRequest("100.50"))
	require.NoError(t, err)
	originalTxn := *payment.TransactionID

	refunded, err := f.svc.RefundPayment(ctx, payment.ID, model.RefundPaymentRequest{Reason: "customer request"})
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusRefunded, refunded.Status)
	assert.True(t, refunded.RefundedAmount.Equal(payment.Amount))
	assert.Equal(t, originalTxn, refunded.Metadata[model.MetadataOriginalTransactionID])

	again, err := f.svc.RefundPayment(ctx, payment.ID, model.RefundPaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, refunded.Version, again.Version)

	byOriginal, err := f.payments.GetByTransactionID(ctx, model.ProviderZainCash, originalTxn)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byOriginal.ID)
}

func TestRefundPayment_PartialAndRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	pending, err := f.svc.CreatePayment(ctx, "k-processing", walletRequest("50.00"))
	require.NoError(t, err)
	_, err = f.svc.RefundPayment(ctx, pending.ID, model.RefundPaymentRequest{})
	assert.ErrorIs(t, err, model.ErrRefundNotAllowed)

	completed, err := f.svc.CompletePayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusSucceeded, completed.Status)

	_, err = f.svc.RefundPayment(ctx, pending.ID, model.RefundPaymentRequest{Amount: decimal.RequireFromString("60.00")})
	assert.ErrorIs(t, err, model.ErrRefundNotAllowed)

	f.zaincash.SetFailRefund(true)
	_, err = f.svc.RefundPayment(ctx, pending.ID, model.RefundPaymentRequest{Amount: decimal.RequireFromString("20.00")})
	assert.Equal(t, model.KindProvider, model.Kind(err))

	f.zaincash.SetFailRefund(false)
	partial, err := f.svc.RefundPayment(ctx, pending.ID, model.RefundPaymentRequest{Amount: decimal.RequireFromString("20.00")})
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusPartiallyRefunded, partial.Status)
	assert.Equal(t, "20", partial.RefundedAmount.String())

	// Only the same refund again is a no-op.
	again, err := f.svc.RefundPayment(ctx, pending.ID, model.RefundPaymentRequest{Amount: decimal.RequireFromString("20.00")})
	require.NoError(t, err)
	assert.Equal(t, partial.Version, again.Version)

	for _, req := range []model.RefundPaymentRequest{
		{Amount: decimal.RequireFromString("30.00")},
		{},
	} {
		_, err = f.svc.RefundPayment(ctx, pending.ID, req)
		assert.ErrorIs(t, err, model.ErrRefundNotAllowed, req.Amount.String())
	}

	stored, err := f.svc.GetPayment(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, "20", stored.RefundedAmount.String())
	assert.Equal(t, statemachine.StatusPartiallyRefunded, stored.Status)
}

func TestLifecycle_RepeatedActionsAreNoops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	payment, err := f.svc.CreatePayment(ctx, "k1", walletRequest("10.00"))
	require.NoError(t, err)

	failed, err := f.svc.FailPayment(ctx, payment.ID, "merchant abort")
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, failed.Status)

	again, err := f.svc.FailPayment(ctx, payment.ID, "merchant abort")
	require.NoError(t, err)
	assert.Equal(t, failed.Version, again.Version)

	_, err = f.svc.CompletePayment(ctx, payment.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, model.KindInvalidTransition, model.Kind(err))

	_, err = f.svc.CancelPayment(ctx, payment.ID, "too late")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.svc.GetPayment(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrPaymentNotFound)
}

func TestCompletePayment_ThreeDSGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	payment, err := f.svc.CreatePayment(ctx, "k1", walletRequest("10.00"))
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusProcessing, payment.Status)

	setThreeDS := func(status model.ThreeDSStatus, reason string) {
		stored, err := f.payments.GetByID(ctx, payment.ID)
		require.NoError(t, err)
		stored.ThreeDS.Status = status
		stored.ThreeDS.FailureReason = reason
		require.NoError(t, f.payments.Update(ctx, stored))
	}

	setThreeDS(model.ThreeDSChallenged, "")
	_, err = f.svc.CompletePayment(ctx, payment.ID)
	assert.ErrorIs(t, err, model.ErrThreeDSPending)

	setThreeDS(model.ThreeDSFailed, "cardholder not authenticated")
	_, err = f.svc.CompletePayment(ctx, payment.ID)
	assert.ErrorIs(t, err, model.ErrThreeDSFailed)

	stored, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, model.FailureReasonThreeDSFailed, *stored.FailureReason)
}

// ===== CALLBACKS =====

func TestHandleProviderCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	payment, err := f.svc.CreatePayment(ctx, "k1", walletRequest("10.00"))
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusProcessing, payment.Status)

	data := signedCallback(t, mock.CallbackBody{
		EventID:       "evt-1",
		PaymentID:     payment.ID.String(),
		TransactionID: *payment.TransactionID,
		Status:        "success",
	})

	updated, err := f.svc.HandleProviderCallback(ctx, model.ProviderZainCash, data)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusSucceeded, updated.Status)

	replay, err := f.svc.HandleProviderCallback(ctx, model.ProviderZainCash, data)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, replay.Version)

	tampered := data
	tampered.Signature = "deadbeef"
	_, err = f.svc.HandleProviderCallback(ctx, model.ProviderZainCash, tampered)
	assert.ErrorIs(t, err, model.ErrInvalidSignature)
	assert.Equal(t, model.KindValidation, model.Kind(err))

	_, err = f.svc.HandleProviderCallback(ctx, "Unknown", data)
	assert.Equal(t, model.KindValidation, model.Kind(err))
}

func TestHandleProviderCallback_FailureByTransactionID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	payment, err := f.svc.CreatePayment(ctx, "k1", walletRequest("10.00"))
	require.NoError(t, err)

	updated, err := f.svc.HandleProviderCallback(ctx, model.ProviderZainCash, signedCallback(t, mock.CallbackBody{
		TransactionID: *payment.TransactionID,
		Status:        "failed",
		Reason:        "expired at provider",
	}))
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, updated.Status)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, "expired at provider", *updated.FailureReason)

	_, err = f.svc.HandleProviderCallback(ctx, model.ProviderZainCash, signedCallback(t, mock.CallbackBody{
		TransactionID: "unknown-txn",
		Status:        "success",
	}))
	assert.ErrorIs(t, err, model.ErrPaymentNotFound)
}

// ===== EXPIRY =====

func TestExpireStalePayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	stale, err := f.svc.CreatePayment(ctx, "k1", walletRequest("10.00"))
	require.NoError(t, err)
	f.zaincash.SetCaptured(true)
	done, err := f.svc.CreatePayment(ctx, "k2", walletRequest("10.00"))
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusSucceeded, done.Status)

	expired, err := f.svc.ExpireStalePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	f.svc.now = func() time.Time { return time.Now().Add(model.DefaultPaymentTimeout + time.Minute) }

	expired, err = f.svc.ExpireStalePayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored, err := f.svc.GetPayment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusFailed, stored.Status)
	assert.Equal(t, model.FailureReasonTimeout, *stored.FailureReason)
}
