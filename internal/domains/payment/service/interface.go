package service

import (
	"context"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// PAYMENT SERVICE INTERFACE
// =====================================================
type PaymentService interface {
	// ============================================
	// CREATION
	// ============================================

	// CreatePayment runs the creation flow under idempotencyKey. A repeat
	// of the same key and request returns the payment created first.
	CreatePayment(ctx context.Context, idempotencyKey string, req model.CreatePaymentRequest) (*model.Payment, error)

	// ============================================
	// QUERIES
	// ============================================

	GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]*model.Payment, int, error)

	// ============================================
	// LIFECYCLE
	// ============================================
	// Each call is serialized per payment. Repeating an action that already
	// took effect returns the payment unchanged.

	// CompletePayment moves a Processing payment to Succeeded once 3-D
	// Secure (if any) is authenticated, filling settlement when enabled.
	CompletePayment(ctx context.Context, id uuid.UUID) (*model.Payment, error)
	FailPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error)
	RefundPayment(ctx context.Context, id uuid.UUID, req model.RefundPaymentRequest) (*model.Payment, error)
	CancelPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error)

	// ============================================
	// PROVIDER CALLBACKS
	// ============================================

	// HandleProviderCallback verifies and applies an asynchronous provider
	// notification. Duplicate notifications are acknowledged without effect.
	HandleProviderCallback(ctx context.Context, provider string, data gateway.CallbackData) (*model.Payment, error)

	// ============================================
	// BACKGROUND JOBS
	// ============================================

	// ExpireStalePayments fails payments that have waited longer than the
	// payment timeout for a provider response.
	ExpireStalePayments(ctx context.Context) (int, error)
}

// EventPublisher fans domain events out after they are committed. Failures
// are logged by the caller and never fail the payment operation.
type EventPublisher interface {
	Publish(ctx context.Context, payment *model.Payment, events []model.DomainEvent) error
}
