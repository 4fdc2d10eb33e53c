package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// PROVIDER CALLBACKS
// =====================================================

// HandleProviderCallback flow:
// 1. Signature gate through the adapter's VerifyCallback
// 2. Record the notification; an already processed one is acknowledged
// 3. Locate the payment by reference or transaction id
// 4. Apply success (Process/Complete) or failure (Fail)
// 5. Mark the log processed in the same transaction as the payment update
func (s *paymentService) HandleProviderCallback(
	ctx context.Context,
	provider string,
	data gateway.CallbackData,
) (*model.Payment, error) {
	adapter, ok := s.registry.Get(provider)
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("Unknown payment provider: %s", provider), nil)
	}
	verifier, ok := adapter.(gateway.CallbackVerifier)
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("Provider %s does not send callbacks", provider), nil)
	}

	// Step 1: Signature
	result, err := verifier.VerifyCallback(ctx, data)
	if err != nil {
		if isSignatureError(err) {
			log.Warn().Err(err).Str("provider", provider).Msg("Rejected callback with invalid signature")
			return nil, model.NewInvalidSignatureError()
		}
		return nil, model.NewValidationError("Malformed callback payload", err)
	}

	// Step 2: Callback log
	entry, err := s.callbacks.Record(ctx, &model.CallbackLog{
		ID:         uuid.New(),
		Provider:   provider,
		EventKey:   callbackEventKey(result),
		Payload:    data.Payload,
		Signature:  data.Signature,
		ReceivedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	// Step 3: Locate
	payment, err := s.locateForCallback(ctx, provider, result)
	if err != nil {
		s.markCallback(ctx, entry.ID, nil, err.Error())
		return nil, err
	}
	if entry.Processed {
		log.Debug().
			Str("provider", provider).
			Str("payment_id", payment.ID.String()).
			Msg("Duplicate callback acknowledged")
		return payment, nil
	}

	// Step 4 + 5
	marked := false
	updated, err := s.mutate(ctx, payment.ID, func(p *model.Payment) (bool, error) {
		if result.Success {
			return s.applyCallbackSuccess(ctx, p, result.TransactionID)
		}
		return s.applyCallbackFailure(p, result.FailureReason)
	}, func(ctx context.Context, p *model.Payment) error {
		if err := s.callbacks.MarkProcessed(ctx, entry.ID, &p.ID, ""); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		if !marked {
			s.markCallback(ctx, entry.ID, &payment.ID, err.Error())
		}
		return nil, err
	}

	log.Info().
		Str("provider", provider).
		Str("payment_id", updated.ID.String()).
		Str("status", string(updated.Status)).
		Bool("success", result.Success).
		Msg("Provider callback applied")
	return updated, nil
}

func (s *paymentService) applyCallbackSuccess(ctx context.Context, p *model.Payment, transactionID string) (bool, error) {
	switch p.Status {
	case statemachine.StatusSucceeded, statemachine.StatusRefunded, statemachine.StatusPartiallyRefunded:
		return false, nil
	case statemachine.StatusPending:
		if transactionID == "" {
			return false, model.NewValidationError("Callback is missing the transaction id", nil)
		}
		if err := p.Process(transactionID, s.now()); err != nil {
			return false, err
		}
	}

	if err := s.completeLocked(ctx, p); err != nil {
		// A Process that already happened is still worth storing.
		return len(p.Events()) > 0, err
	}
	return true, nil
}

func (s *paymentService) applyCallbackFailure(p *model.Payment, reason string) (bool, error) {
	if p.Status == statemachine.StatusFailed {
		return false, nil
	}
	if reason == "" {
		reason = "declined by provider"
	}
	if err := p.Fail(reason, s.now()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *paymentService) locateForCallback(ctx context.Context, provider string, result *gateway.CallbackResult) (*model.Payment, error) {
	if result.PaymentReference != "" {
		if id, err := uuid.Parse(result.PaymentReference); err == nil {
			payment, err := s.payments.GetByID(ctx, id)
			if err == nil && payment.Provider == provider {
				return payment, nil
			}
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
		}
	}
	if result.TransactionID != "" {
		return s.payments.GetByTransactionID(ctx, provider, result.TransactionID)
	}
	return nil, model.NewPaymentNotFoundError("callback without payment reference")
}

func (s *paymentService) markCallback(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID, errMsg string) {
	if err := s.callbacks.MarkProcessed(context.WithoutCancel(ctx), id, paymentID, errMsg); err != nil {
		log.Error().Err(err).Str("callback_id", id.String()).Msg("Failed to update callback log")
	}
}

// callbackEventKey identifies a notification for deduplication. Providers
// without event ids are keyed by what the notification says.
func callbackEventKey(r *gateway.CallbackResult) string {
	if r.EventID != "" {
		return r.EventID
	}
	status := "failure"
	if r.Success {
		status = "success"
	}
	return fmt.Sprintf("%s:%s:%s", r.TransactionID, r.PaymentReference, status)
}

func isSignatureError(err error) bool {
	return errors.Is(err, gateway.ErrSignatureMismatch) ||
		errors.Is(err, gateway.ErrMissingSignature) ||
		errors.Is(err, gateway.ErrMissingTimestamp) ||
		errors.Is(err, gateway.ErrStaleTimestamp)
}

// =====================================================
// STALE PAYMENT EXPIRY
// =====================================================

// ExpireStalePayments fails Pending and Processing payments older than the
// payment timeout. Payments that moved on meanwhile are skipped.
func (s *paymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.PaymentTimeout)
	stale, err := s.payments.ListStale(ctx,
		[]statemachine.Status{statemachine.StatusPending, statemachine.StatusProcessing},
		cutoff, s.config.ExpiryBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		changed := false
		_, err := s.mutate(ctx, candidate.ID, func(p *model.Payment) (bool, error) {
			if !p.IsExpired(s.now(), s.config.PaymentTimeout) {
				return false, nil
			}
			if err := p.Fail(model.FailureReasonTimeout, s.now()); err != nil {
				return false, err
			}
			changed = true
			return true, nil
		}, nil)
		if err != nil {
			log.Error().Err(err).Str("payment_id", candidate.ID.String()).Msg("Failed to expire stale payment")
			continue
		}
		if changed {
			expired++
		}
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Dur("timeout", s.config.PaymentTimeout).Msg("Expired stale payments")
	}
	return expired, nil
}
