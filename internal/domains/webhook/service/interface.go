package service

import (
	"context"

	"github.com/google/uuid"

	"payment-orchestrator/internal/domains/webhook/model"
)

// =====================================================
// WEBHOOK SERVICE INTERFACE
// =====================================================
type WebhookService interface {
	// SendWebhook makes one delivery attempt without persisting anything.
	SendWebhook(ctx context.Context, url, eventType string, payload []byte, headers map[string]string) model.Result

	// ScheduleWebhook persists a delivery, attempts it immediately and
	// records the outcome. Failed attempts are retried by ProcessDueRetries.
	ScheduleWebhook(ctx context.Context, req model.ScheduleRequest) (uuid.UUID, error)

	// ProcessDueRetries claims up to limit due deliveries and attempts each
	// once. It returns how many were delivered.
	ProcessDueRetries(ctx context.Context, limit int) (int, error)

	GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	ListDeliveries(ctx context.Context, paymentID uuid.UUID) ([]*model.Delivery, error)

	// ============================================
	// ENDPOINTS
	// ============================================

	RegisterEndpoint(ctx context.Context, req model.CreateEndpointRequest) (*model.Endpoint, error)
	DeactivateEndpoint(ctx context.Context, id uuid.UUID) error
}
