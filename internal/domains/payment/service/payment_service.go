package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/domains/payment/fraud"
	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/idempotency"
	"payment-orchestrator/internal/domains/payment/model"
	repo "payment-orchestrator/internal/domains/payment/repository"
	"payment-orchestrator/internal/domains/payment/settlement"
	"payment-orchestrator/internal/domains/payment/statemachine"
	"payment-orchestrator/internal/infrastructure/metrics"
	"payment-orchestrator/internal/shared/utils"
	"payment-orchestrator/pkg/database"
	"payment-orchestrator/pkg/keylock"
	"payment-orchestrator/pkg/option"
)

// =====================================================
// PAYMENT SERVICE IMPLEMENTATION
// =====================================================

type Config struct {
	// ProviderTimeout bounds a single provider call.
	ProviderTimeout time.Duration
	// PaymentTimeout is how long a payment may wait for a provider response.
	PaymentTimeout time.Duration
	ExpiryBatch    int
}

func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 30 * time.Second,
		PaymentTimeout:  model.DefaultPaymentTimeout,
		ExpiryBatch:     100,
	}
}

// Dependencies are the collaborators of the payment service. Fraud,
// Settlement and Events are optional.
type Dependencies struct {
	Payments    repo.PaymentRepository
	Callbacks   repo.CallbackLogRepository
	TxManager   database.TxManager
	Idempotency idempotency.Service
	Registry    *gateway.Registry
	Locks       *keylock.KeyLock

	Fraud      option.Optional[*fraud.Guard]
	Settlement option.Optional[*settlement.Service]
	Events     option.Optional[EventPublisher]
}

type paymentService struct {
	payments    repo.PaymentRepository
	callbacks   repo.CallbackLogRepository
	txManager   database.TxManager
	idempotency idempotency.Service
	registry    *gateway.Registry
	locks       *keylock.KeyLock

	fraud      option.Optional[*fraud.Guard]
	settlement option.Optional[*settlement.Service]
	events     option.Optional[EventPublisher]

	config Config
	now    func() time.Time
}

func NewPaymentService(deps Dependencies, config Config) PaymentService {
	defaults := DefaultConfig()
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = defaults.ProviderTimeout
	}
	if config.PaymentTimeout <= 0 {
		config.PaymentTimeout = defaults.PaymentTimeout
	}
	if config.ExpiryBatch <= 0 {
		config.ExpiryBatch = defaults.ExpiryBatch
	}

	txManager := deps.TxManager
	if txManager == nil {
		txManager = database.NoopTxManager{}
	}
	locks := deps.Locks
	if locks == nil {
		locks = keylock.New()
	}

	return &paymentService{
		payments:    deps.Payments,
		callbacks:   deps.Callbacks,
		txManager:   txManager,
		idempotency: deps.Idempotency,
		registry:    deps.Registry,
		locks:       locks,
		fraud:       deps.Fraud,
		settlement:  deps.Settlement,
		events:      deps.Events,
		config:      config,
		now:         time.Now,
	}
}

// =====================================================
// CREATE PAYMENT
// =====================================================

// CreatePayment initiates a payment
//
// Flow:
// 1. Idempotency Begin (duplicate -> stored payment, conflict -> error)
// 2. Fraud screen (block -> error, review -> flag and continue)
// 3. Resolve provider, skipping open circuit breakers
// 4. Split calculation
// 5. Persist payment in Pending
// 6. Call provider: success -> Process (+ Complete when captured), decline -> Fail
// 7. Idempotency Complete
//
// Failures before step 5 release the key so the client may retry. Failures
// after step 5 leave the payment Failed, never Pending.
func (s *paymentService) CreatePayment(
	ctx context.Context,
	idempotencyKey string,
	req model.CreatePaymentRequest,
) (*model.Payment, error) {
	if idempotencyKey == "" {
		return nil, model.NewValidationError("Idempotency key is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError("Invalid payment request", err)
	}

	requestHash, err := idempotency.HashRequest(req)
	if err != nil {
		return nil, err
	}

	// Step 1: Idempotency
	begin, err := s.idempotency.Begin(ctx, idempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}
	switch begin.Outcome {
	case idempotency.OutcomeDuplicate:
		return s.payments.GetByID(ctx, begin.PaymentID)
	case idempotency.OutcomeConflict:
		return nil, model.NewIdempotencyConflictError(idempotencyKey)
	}

	payment, adapter, err := s.prepare(ctx, req)
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, err
	}

	// Step 5: Persist Pending. The lock holds back callbacks until the
	// synchronous outcome is stored.
	unlock := s.locks.Lock(payment.ID.String())
	defer unlock()

	err = s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		return s.payments.Create(ctx, payment)
	})
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	// Everything from here on must reach storage even if the caller is gone.
	persistCtx := context.WithoutCancel(ctx)

	// Step 6: Provider
	callErr := s.charge(ctx, adapter, payment)
	if err := s.save(persistCtx, payment); err != nil {
		log.Error().Err(err).Str("payment_id", payment.ID.String()).Msg("Failed to store provider outcome")
		s.failPersisted(persistCtx, payment.ID, model.FailureReasonInternalFailure)
		s.completeKey(persistCtx, idempotencyKey, payment.ID)
		return nil, fmt.Errorf("failed to store provider outcome: %w", err)
	}

	// Step 7: Idempotency
	s.completeKey(persistCtx, idempotencyKey, payment.ID)

	metrics.PaymentsCreated.WithLabelValues(payment.Provider, string(payment.Status)).Inc()
	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("provider", payment.Provider).
		Str("status", string(payment.Status)).
		Str("amount", payment.Amount.String()).
		Str("currency", payment.Currency).
		Msg("Payment created")

	if callErr != nil {
		return nil, callErr
	}
	return payment, nil
}

// prepare runs steps 2-4 and returns an unsaved Pending payment.
func (s *paymentService) prepare(ctx context.Context, req model.CreatePaymentRequest) (*model.Payment, gateway.Adapter, error) {
	// Step 2: Fraud screen
	review := false
	if guard, ok := s.fraud.Get(); ok {
		assessment, decision, err := guard.Screen(ctx, fraud.CheckRequest{
			Amount:              req.Amount,
			Currency:            req.Currency,
			Method:              req.Method,
			MerchantID:          req.MerchantID,
			OrderID:             req.OrderID,
			CustomerFingerprint: req.CustomerFingerprint,
			ClientIP:            utils.ClientIPFromContext(ctx),
		})
		if err != nil {
			return nil, nil, err
		}
		switch decision {
		case fraud.DecisionBlock:
			log.Warn().
				Str("merchant_id", req.MerchantID).
				Str("order_id", req.OrderID).
				Str("score", assessment.Score.String()).
				Strs("reasons", assessment.Reasons).
				Msg("Payment blocked by fraud screen")
			return nil, nil, fraud.BlockedError(assessment)
		case fraud.DecisionReview:
			log.Warn().
				Str("merchant_id", req.MerchantID).
				Str("order_id", req.OrderID).
				Str("score", assessment.Score.String()).
				Strs("reasons", assessment.Reasons).
				Msg("Payment flagged for fraud review")
			review = true
		}
	}

	// Step 3: Provider
	adapter, err := s.registry.Resolve(ctx, req.Provider)
	if err != nil {
		return nil, nil, err
	}

	payment := model.NewPayment(req, adapter.Name(), s.now())

	// Step 4: Split
	if req.Split != nil {
		breakdown, err := model.CalculateSplit(req.Amount, req.Currency, *req.Split)
		if err != nil {
			return nil, nil, model.NewValidationError("Invalid split rule", err)
		}
		payment.Split = breakdown
	}
	if review {
		payment.SetMetadata(model.MetadataFraudReview, "true")
	}
	return payment, adapter, nil
}

// charge calls the provider and applies the synchronous outcome to payment
// in memory. The returned error is what CreatePayment reports; the payment
// itself always ends up in a state worth persisting.
func (s *paymentService) charge(ctx context.Context, adapter gateway.Adapter, payment *model.Payment) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.ProcessPayment(callCtx, gateway.PaymentRequest{
		PaymentID:  payment.ID,
		MerchantID: payment.MerchantID,
		OrderID:    payment.OrderID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Method:     payment.Method,
		Card:       payment.Card,
		Metadata:   payment.Metadata,
	})
	s.recordProviderCall(ctx, payment.Provider, "charge", start, err)

	switch {
	case ctx.Err() != nil:
		s.failInMemory(payment, model.FailureReasonCancelled)
		log.Warn().Str("payment_id", payment.ID.String()).Msg("Provider call cancelled")
		return ctx.Err()

	case err != nil:
		s.failInMemory(payment, err.Error())
		log.Error().Err(err).
			Str("payment_id", payment.ID.String()).
			Str("provider", payment.Provider).
			Msg("Provider call failed")
		return &model.ProviderError{
			Provider:  payment.Provider,
			Reason:    "provider call failed",
			Transient: gateway.IsTransient(err),
			Err:       err,
		}

	case !result.Success:
		reason := result.FailureReason
		if reason == "" {
			reason = "declined by provider"
		}
		s.failInMemory(payment, reason)
		return nil

	case result.TransactionID == "":
		// Accepted; the outcome arrives by callback.
		return nil
	}

	now := s.now()
	if err := payment.Process(result.TransactionID, now); err != nil {
		s.failInMemory(payment, model.FailureReasonInternalFailure)
		return fmt.Errorf("failed to process payment: %w", err)
	}

	if result.Captured {
		if err := s.completeLocked(ctx, payment); err != nil {
			// Money is captured; leave the payment Processing for a later
			// CompletePayment or callback.
			log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Captured payment could not be completed yet")
		}
	}
	return nil
}

func (s *paymentService) failInMemory(payment *model.Payment, reason string) {
	if err := payment.Fail(reason, s.now()); err != nil {
		log.Error().Err(err).Str("payment_id", payment.ID.String()).Msg("Failed to mark payment as failed")
	}
}

// failPersisted moves a stored, non-terminal payment to Failed after a
// storage error left it behind.
func (s *paymentService) failPersisted(ctx context.Context, id uuid.UUID, reason string) {
	_, err := s.mutateLocked(ctx, id, func(p *model.Payment) (bool, error) {
		if !statemachine.CanFire(p.Status, statemachine.TriggerFail) {
			return false, nil
		}
		return true, p.Fail(reason, s.now())
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("payment_id", id.String()).Msg("Failed to roll payment back to failed")
	}
}

func (s *paymentService) releaseKey(ctx context.Context, key string) {
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Error().Err(err).Str("idempotency_key", key).Msg("Failed to release idempotency key")
	}
}

func (s *paymentService) completeKey(ctx context.Context, key string, paymentID uuid.UUID) {
	if err := s.idempotency.Complete(ctx, key, paymentID); err != nil {
		log.Error().Err(err).
			Str("idempotency_key", key).
			Str("payment_id", paymentID.String()).
			Msg("Failed to complete idempotency key")
	}
}

func (s *paymentService) recordProviderCall(ctx context.Context, provider, operation string, start time.Time, err error) {
	outcome := "ok"
	gate := s.registry.Gate()

	switch {
	case err == nil:
		if gate != nil {
			gate.RecordSuccess(ctx, provider)
		}
	case gateway.IsTransient(err) && ctx.Err() == nil:
		outcome = "transient_error"
		if gate != nil {
			gate.RecordFailure(context.WithoutCancel(ctx), provider)
		}
	default:
		outcome = "error"
	}
	metrics.ProviderCallDuration.WithLabelValues(provider, operation, outcome).Observe(time.Since(start).Seconds())
}

// =====================================================
// PERSISTENCE HELPERS
// =====================================================

// mutation changes p in memory. changed=false means nothing to store.
type mutation func(p *model.Payment) (changed bool, err error)

// mutate loads payment id under its lock, applies fn and stores the result.
// withinTx, when set, runs in the same transaction as the update.
func (s *paymentService) mutate(
	ctx context.Context,
	id uuid.UUID,
	fn mutation,
	withinTx func(ctx context.Context, p *model.Payment) error,
) (*model.Payment, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()
	return s.mutateLocked(ctx, id, fn, withinTx)
}

func (s *paymentService) mutateLocked(
	ctx context.Context,
	id uuid.UUID,
	fn mutation,
	withinTx func(ctx context.Context, p *model.Payment) error,
) (*model.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, fnErr := fn(payment)
	if fnErr != nil && errors.Is(fnErr, statemachine.ErrInvalidTransition) {
		var pe *model.PaymentError
		if !errors.As(fnErr, &pe) {
			log.Warn().Err(fnErr).Str("payment_id", id.String()).Msg("Rejected payment transition")
			fnErr = model.NewInvalidTransitionError(fnErr)
		}
	}

	if changed {
		events := payment.Events()
		err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.payments.Update(ctx, payment); err != nil {
				return err
			}
			if withinTx != nil {
				return withinTx(ctx, payment)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		payment.DrainEvents()
		s.publish(ctx, payment, events)
	} else if withinTx != nil && fnErr == nil {
		if err := withinTx(ctx, payment); err != nil {
			return nil, err
		}
	}

	if fnErr != nil {
		return nil, fnErr
	}
	return payment, nil
}

// save stores a payment created in this request and publishes its events.
func (s *paymentService) save(ctx context.Context, payment *model.Payment) error {
	events := payment.Events()
	if len(events) == 0 {
		return nil
	}
	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		return s.payments.Update(ctx, payment)
	})
	if err != nil {
		return err
	}
	payment.DrainEvents()
	s.publish(ctx, payment, events)
	return nil
}

func (s *paymentService) publish(ctx context.Context, payment *model.Payment, events []model.DomainEvent) {
	for _, e := range events {
		metrics.PaymentTransitions.WithLabelValues(string(e.Type)).Inc()
		log.Info().
			Str("payment_id", payment.ID.String()).
			Str("event", string(e.Type)).
			Str("from", string(e.From)).
			Str("to", string(e.To)).
			Msg("Payment status changed")
	}

	publisher, ok := s.events.Get()
	if !ok || len(events) == 0 {
		return
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), payment.Clone(), events); err != nil {
		log.Error().Err(err).Str("payment_id", payment.ID.String()).Msg("Failed to publish payment events")
	}
}
