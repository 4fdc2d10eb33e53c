package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"payment-orchestrator/internal/domains/payment/idempotency"
	"payment-orchestrator/internal/domains/payment/service"
	"payment-orchestrator/pkg/logger"
)

// ================================================
// EXPIRE STALE PAYMENTS JOB HANDLER
// ================================================

type ExpireStalePaymentsHandler struct {
	paymentService service.PaymentService
}

func NewExpireStalePaymentsHandler(paymentService service.PaymentService) *ExpireStalePaymentsHandler {
	return &ExpireStalePaymentsHandler{paymentService: paymentService}
}

func (h *ExpireStalePaymentsHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	expired, err := h.paymentService.ExpireStalePayments(ctx)
	if err != nil {
		return fmt.Errorf("expire stale payments: %w", err)
	}

	logger.Info("Completed ExpireStalePayments job", map[string]interface{}{
		"expired": expired,
	})
	return nil
}

// ================================================
// PURGE IDEMPOTENCY KEYS JOB HANDLER
// ================================================

type PurgeIdempotencyHandler struct {
	idempotency idempotency.Service
}

func NewPurgeIdempotencyHandler(idem idempotency.Service) *PurgeIdempotencyHandler {
	return &PurgeIdempotencyHandler{idempotency: idem}
}

func (h *PurgeIdempotencyHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	purged, err := h.idempotency.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge idempotency keys: %w", err)
	}

	logger.Info("Completed PurgeIdempotency job", map[string]interface{}{
		"purged": purged,
	})
	return nil
}
