package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// QUERIES
// =====================================================

func (s *paymentService) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *paymentService) ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]*model.Payment, int, error) {
	req.Normalize()
	return s.payments.List(ctx, req)
}

// =====================================================
// COMPLETE
// =====================================================

func (s *paymentService) CompletePayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return s.mutate(ctx, id, func(p *model.Payment) (bool, error) {
		if p.Status == statemachine.StatusSucceeded {
			return false, nil
		}
		err := s.completeLocked(ctx, p)
		return len(p.Events()) > 0, err
	}, nil)
}

// completeLocked applies the 3-D Secure gate and settlement, then completes
// p in memory. A failed authentication fails the payment instead.
func (s *paymentService) completeLocked(ctx context.Context, p *model.Payment) error {
	switch p.ThreeDS.Status {
	case model.ThreeDSRequired, model.ThreeDSChallenged:
		return model.NewThreeDSPendingError()
	case model.ThreeDSFailed:
		reason := p.ThreeDS.FailureReason
		if reason == "" {
			reason = model.FailureReasonThreeDSFailed
		}
		if err := p.Fail(model.FailureReasonThreeDSFailed, s.now()); err != nil {
			return err
		}
		return model.NewThreeDSFailedError(reason)
	}

	if !statemachine.CanFire(p.Status, statemachine.TriggerComplete) {
		return &statemachine.InvalidTransitionError{From: p.Status, Trigger: statemachine.TriggerComplete}
	}

	var settlement *model.Settlement
	if svc, ok := s.settlement.Get(); ok {
		result, err := svc.Settle(ctx, p.Amount, p.Currency, s.now())
		if err != nil {
			return err
		}
		settlement = result
	}

	return p.Complete(settlement, s.now())
}

// =====================================================
// FAIL / CANCEL
// =====================================================

func (s *paymentService) FailPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error) {
	if reason == "" {
		return nil, model.NewValidationError("Failure reason is required", nil)
	}
	return s.mutate(ctx, id, func(p *model.Payment) (bool, error) {
		if p.Status == statemachine.StatusFailed {
			return false, nil
		}
		if err := p.Fail(reason, s.now()); err != nil {
			return false, err
		}
		return true, nil
	}, nil)
}

func (s *paymentService) CancelPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error) {
	return s.mutate(ctx, id, func(p *model.Payment) (bool, error) {
		if p.Status == statemachine.StatusCancelled {
			return false, nil
		}
		if err := p.Cancel(reason, s.now()); err != nil {
			return false, err
		}
		return true, nil
	}, nil)
}

// =====================================================
// REFUND
// =====================================================

// RefundPayment refunds a Succeeded payment through its provider. A zero
// amount refunds in full. Repeating the refund that already took effect
// returns the payment unchanged; any other amount is rejected.
func (s *paymentService) RefundPayment(ctx context.Context, id uuid.UUID, req model.RefundPaymentRequest) (*model.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError("Invalid refund request", err)
	}

	return s.mutate(ctx, id, func(p *model.Payment) (bool, error) {
		amount := req.Amount
		if amount.IsZero() {
			amount = p.Amount
		}

		switch p.Status {
		case statemachine.StatusRefunded, statemachine.StatusPartiallyRefunded:
			if amount.Equal(p.RefundedAmount) {
				return false, nil
			}
			return false, model.NewRefundNotAllowedError(fmt.Sprintf("payment is %s (refunded %s)", p.Status, p.RefundedAmount))
		case statemachine.StatusSucceeded:
		default:
			return false, model.NewRefundNotAllowedError(fmt.Sprintf("payment is %s", p.Status))
		}

		if amount.GreaterThan(p.Amount) {
			return false, model.NewRefundNotAllowedError(fmt.Sprintf("refund amount %s exceeds payment amount %s", amount, p.Amount))
		}
		if !model.HasValidPrecision(amount, p.Currency) {
			return false, model.NewValidationError(fmt.Sprintf("Refund amount has too many decimal places for %s", p.Currency), nil)
		}

		refundTxn, err := s.refundAtProvider(ctx, p, amount, req.Reason)
		if err != nil {
			return false, err
		}
		if err := p.Refund(amount, refundTxn, s.now()); err != nil {
			return false, err
		}

		log.Info().
			Str("payment_id", p.ID.String()).
			Str("amount", amount.String()).
			Str("status", string(p.Status)).
			Msg("Payment refunded")
		return true, nil
	}, nil)
}

func (s *paymentService) refundAtProvider(ctx context.Context, p *model.Payment, amount decimal.Decimal, reason string) (string, error) {
	adapter, ok := s.registry.Get(p.Provider)
	if !ok {
		return "", model.NewProviderUnavailableError(p.Provider)
	}
	refunder, ok := adapter.(gateway.Refunder)
	if !ok {
		return "", model.NewRefundNotAllowedError(fmt.Sprintf("provider %s does not support refunds", p.Provider))
	}

	req := gateway.RefundRequest{
		PaymentID: p.ID,
		Amount:    amount,
		Currency:  p.Currency,
		Reason:    reason,
	}
	if p.TransactionID != nil {
		req.TransactionID = *p.TransactionID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := refunder.Refund(callCtx, req)
	s.recordProviderCall(ctx, p.Provider, "refund", start, err)
	if err != nil {
		return "", &model.ProviderError{
			Provider:  p.Provider,
			Reason:    "refund call failed",
			Transient: gateway.IsTransient(err),
			Err:       err,
		}
	}
	if !result.Success {
		reason := result.FailureReason
		if reason == "" {
			reason = "refund declined by provider"
		}
		return "", &model.ProviderError{Provider: p.Provider, Reason: reason}
	}
	return result.RefundTransactionID, nil
}
