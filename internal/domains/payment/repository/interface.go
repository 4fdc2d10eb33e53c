package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// PAYMENT REPOSITORY INTERFACE
// =====================================================
// Methods join the transaction carried by ctx (see database.TxManager).
type PaymentRepository interface {
	// Create inserts a new payment and sets Version to 1
	Create(ctx context.Context, payment *model.Payment) error

	// GetByID returns a NotFound payment error when absent
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// GetByOrderID returns the latest payment for a merchant order
	GetByOrderID(ctx context.Context, merchantID, orderID string) (*model.Payment, error)

	// GetByTransactionID finds a payment by provider transaction id
	GetByTransactionID(ctx context.Context, provider, transactionID string) (*model.Payment, error)

	// List filters by merchant and/or order, newest first
	List(ctx context.Context, filter model.ListPaymentsRequest) ([]*model.Payment, int, error)

	// Update saves payment if its Version still matches the stored one and
	// increments Version. A stale version yields a ConcurrentUpdate error.
	Update(ctx context.Context, payment *model.Payment) error

	// ListStale returns payments in statuses created before cutoff
	ListStale(ctx context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]*model.Payment, error)
}

// =====================================================
// CALLBACK LOG REPOSITORY INTERFACE
// =====================================================
type CallbackLogRepository interface {
	// Record stores the callback or bumps Attempts on an existing
	// (provider, event_key). The returned log reflects the stored row, so
	// Processed=true means the event was handled before.
	Record(ctx context.Context, log *model.CallbackLog) (*model.CallbackLog, error)

	// MarkProcessed closes a log entry. A non-empty errMsg keeps it
	// unprocessed so a provider retry is handled again.
	MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID, errMsg string) error
}
