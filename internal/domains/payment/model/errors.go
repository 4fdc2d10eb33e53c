package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// ERROR KINDS
// =====================================================
// Every error returned by the payment domain matches exactly one of these
// with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = statemachine.ErrInvalidTransition
	ErrProvider          = errors.New("provider error")
	ErrFraudBlocked      = errors.New("payment blocked by fraud screen")
	ErrDelivery          = errors.New("webhook delivery failed")
	ErrTransient         = errors.New("temporarily unavailable")
)

// =====================================================
// PREDEFINED ERRORS
// =====================================================
var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with a different request")
	ErrRequestInProgress    = errors.New("a request with this idempotency key is still in progress")
	ErrConcurrentUpdate     = errors.New("payment was modified concurrently")
	ErrInvalidSignature     = errors.New("invalid callback signature")
	ErrMerchantDataMismatch = errors.New("merchant data mismatch")
	ErrThreeDSPending       = errors.New("3-D Secure authentication not completed")
	ErrThreeDSFailed        = errors.New("3-D Secure authentication failed")
	ErrNoCardToken          = errors.New("payment has no card token")
	ErrRefundNotAllowed     = errors.New("refund not allowed")
	ErrProviderUnavailable  = errors.New("no available payment provider")
)

// =====================================================
// CUSTOM PAYMENT ERROR
// =====================================================

type PaymentError struct {
	Code    string
	Message string
	Kind    error
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func (e *PaymentError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewPaymentError creates a new payment error of the given kind
func NewPaymentError(kind error, code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Kind:    kind,
		Err:     err,
	}
}

// =====================================================
// TYPED ERRORS
// =====================================================

// FraudBlockedError carries the screen's verdict so clients can branch on it.
type FraudBlockedError struct {
	RiskLevel string
	Score     decimal.Decimal
	Reasons   []string
}

func (e *FraudBlockedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s: payment blocked by fraud screen (risk=%s score=%s)", ErrCodeFraudBlocked, e.RiskLevel, e.Score)
	}
	return fmt.Sprintf("%s: payment blocked by fraud screen (risk=%s score=%s): %s",
		ErrCodeFraudBlocked, e.RiskLevel, e.Score, strings.Join(e.Reasons, "; "))
}

func (e *FraudBlockedError) Is(target error) bool {
	return target == ErrFraudBlocked
}

// ProviderError is the only shape in which provider failures leave the
// domain. Reason is safe to show to callers; Err is kept for logs.
type ProviderError struct {
	Provider  string
	Reason    string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider %s: %s", ErrCodeProviderError, e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// =====================================================
// ERROR CONSTRUCTORS
// =====================================================

func NewValidationError(message string, err error) *PaymentError {
	return NewPaymentError(ErrValidation, ErrCodeValidation, message, err)
}

func NewPaymentNotFoundError(ref string) *PaymentError {
	return NewPaymentError(
		ErrNotFound,
		ErrCodePaymentNotFound,
		fmt.Sprintf("Payment not found: %s", ref),
		ErrPaymentNotFound,
	)
}

func NewIdempotencyConflictError(key string) *PaymentError {
	return NewPaymentError(
		ErrConflict,
		ErrCodeIdempotencyConflict,
		fmt.Sprintf("Idempotency key %q was already used with a different request body", key),
		ErrIdempotencyConflict,
	)
}

func NewRequestInProgressError(key string) *PaymentError {
	return NewPaymentError(
		ErrTransient,
		ErrCodeRequestInProgress,
		fmt.Sprintf("Request with idempotency key %q is still being processed, retry later", key),
		ErrRequestInProgress,
	)
}

func NewConcurrentUpdateError(paymentID string) *PaymentError {
	return NewPaymentError(
		ErrConflict,
		ErrCodeConcurrentUpdate,
		fmt.Sprintf("Payment %s was modified concurrently", paymentID),
		ErrConcurrentUpdate,
	)
}

func NewInvalidTransitionError(err error) *PaymentError {
	return NewPaymentError(ErrInvalidTransition, ErrCodeInvalidTransition, "Invalid payment status transition", err)
}

func NewProviderUnavailableError(provider string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Reason:    "provider temporarily unavailable",
		Transient: true,
		Err:       ErrProviderUnavailable,
	}
}

func NewInvalidSignatureError() *PaymentError {
	return NewPaymentError(
		ErrValidation,
		ErrCodeInvalidSignature,
		"Invalid callback signature",
		ErrInvalidSignature,
	)
}

func NewMerchantDataMismatchError() *PaymentError {
	return NewPaymentError(
		ErrValidation,
		ErrCodeMerchantDataInvalid,
		"merchant data mismatch",
		ErrMerchantDataMismatch,
	)
}

func NewThreeDSPendingError() *PaymentError {
	return NewPaymentError(ErrValidation, ErrCodeThreeDSPending, "3-D Secure authentication not completed", ErrThreeDSPending)
}

func NewThreeDSFailedError(reason string) *PaymentError {
	return NewPaymentError(ErrValidation, ErrCodeThreeDSFailed, fmt.Sprintf("3-D Secure authentication failed: %s", reason), ErrThreeDSFailed)
}

func NewFraudUnavailableError(err error) *PaymentError {
	return NewPaymentError(ErrTransient, ErrCodeFraudUnavailable, "Fraud screen unavailable, retry later", err)
}

func NewSettlementError(err error) *PaymentError {
	return NewPaymentError(ErrTransient, ErrCodeSettlement, "Settlement rate unavailable", err)
}

// NewDeliveryError reports a webhook delivery that could not be recorded or
// was abandoned after its last retry.
func NewDeliveryError(message string, err error) *PaymentError {
	return NewPaymentError(ErrDelivery, ErrCodeDeliveryFailed, message, err)
}

func NewRefundNotAllowedError(reason string) *PaymentError {
	return NewPaymentError(
		ErrValidation,
		ErrCodeRefundNotAllowed,
		fmt.Sprintf("Refund not allowed: %s", reason),
		ErrRefundNotAllowed,
	)
}

// =====================================================
// CLASSIFICATION
// =====================================================

const (
	KindValidation        = "validation"
	KindConflict          = "conflict"
	KindNotFound          = "not_found"
	KindInvalidTransition = "invalid_transition"
	KindProvider          = "provider"
	KindFraudBlocked      = "fraud_blocked"
	KindDelivery          = "delivery"
	KindTransient         = "transient"
	KindInternal          = "internal"
)

// Kind classifies err into one of the taxonomy kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFraudBlocked):
		return KindFraudBlocked
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}
