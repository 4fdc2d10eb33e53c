package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/webhook/model"
)

// =====================================================
// DELIVERY REPOSITORY INTERFACE
// =====================================================
type DeliveryRepository interface {
	Create(ctx context.Context, delivery *model.Delivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error)

	// Update stores the outcome of an attempt
	Update(ctx context.Context, delivery *model.Delivery) error

	// ClaimDue atomically moves up to limit deliveries that are due for a
	// retry (or whose lease expired) to in_flight with leaseUntil.
	// Concurrent callers never receive the same delivery.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*model.Delivery, error)

	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*model.Delivery, error)
}

// =====================================================
// ENDPOINT REPOSITORY INTERFACE
// =====================================================
type EndpointRepository interface {
	Create(ctx context.Context, endpoint *model.Endpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Endpoint, error)

	// ListActive returns the active endpoints of a merchant
	ListActive(ctx context.Context, merchantID string) ([]*model.Endpoint, error)

	Deactivate(ctx context.Context, id uuid.UUID) error
}
