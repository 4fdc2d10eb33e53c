package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// PROVIDER ADAPTER
// =====================================================

// Adapter is the minimum every payment provider implements.
type Adapter interface {
	Name() string

	// ProcessPayment submits a charge. A decline is a result with
	// Success=false; an error means the outcome is unknown or the provider
	// could not be reached.
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// CallbackVerifier is implemented by providers that notify asynchronously.
type CallbackVerifier interface {
	VerifyCallback(ctx context.Context, data CallbackData) (*CallbackResult, error)
}

// ThreeDSecureProvider is implemented by card providers supporting 3-D Secure.
type ThreeDSecureProvider interface {
	RequiresThreeDSecure(ctx context.Context, check ThreeDSCheck) (bool, error)
	InitiateThreeDSecure(ctx context.Context, req ThreeDSInitiateRequest) (*model.ThreeDSecureChallenge, error)
	CompleteThreeDSecure(ctx context.Context, req ThreeDSCompleteRequest) (*model.ThreeDSecureResult, error)
}

// Refunder is implemented by providers that support refunds.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ErrTransient marks provider errors worth counting against the circuit
// breaker (timeouts, 5xx, connection failures).
var ErrTransient = errors.New("transient provider failure")

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}

// =====================================================
// REQUEST/RESPONSE TYPES
// =====================================================

type PaymentRequest struct {
	PaymentID  uuid.UUID
	MerchantID string
	OrderID    string
	Amount     decimal.Decimal
	Currency   string
	Method     string
	Card       *model.CardToken
	Metadata   map[string]string
}

type PaymentResult struct {
	Success       bool
	TransactionID string
	FailureReason string
	// Captured is true when the provider settled the charge synchronously.
	Captured         bool
	ProviderMetadata map[string]string
}

type CallbackData struct {
	Payload   []byte
	Signature string
	Timestamp string
}

type CallbackResult struct {
	Success       bool
	TransactionID string
	// PaymentReference is our payment id echoed back by the provider.
	PaymentReference string
	FailureReason    string
	// EventID is the provider's unique notification id, for deduplication.
	EventID          string
	ProviderMetadata map[string]string
}

type RefundRequest struct {
	PaymentID     uuid.UUID
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
}

type RefundResult struct {
	Success             bool
	RefundTransactionID string
	FailureReason       string
}

type ThreeDSCheck struct {
	Amount   decimal.Decimal
	Currency string
	Brand    string
}

type ThreeDSInitiateRequest struct {
	PaymentID     uuid.UUID
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Card          model.CardToken
	TermURL       string
	MD            string
}

type ThreeDSCompleteRequest struct {
	PaymentID     uuid.UUID
	TransactionID string
	PaReq         string
	ARes          string
	MD            string
}
