package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"payment-orchestrator/internal/domains/webhook/service"
	"payment-orchestrator/internal/shared"
	"payment-orchestrator/internal/shared/utils"
	"payment-orchestrator/pkg/logger"
)

// ================================================
// RETRY DUE WEBHOOKS JOB HANDLER
// ================================================

type RetryWebhooksHandler struct {
	webhookService service.WebhookService
	defaultLimit   int
}

func NewRetryWebhooksHandler(webhookService service.WebhookService, defaultLimit int) *RetryWebhooksHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &RetryWebhooksHandler{webhookService: webhookService, defaultLimit: defaultLimit}
}

func (h *RetryWebhooksHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload shared.RetryWebhooksPayload
	if err := utils.UnmarshalTask(t, &payload); err != nil {
		logger.Error("Failed to unmarshal retry_due payload, using default limit", err)
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}

	delivered, err := h.webhookService.ProcessDueRetries(ctx, limit)
	if err != nil {
		return fmt.Errorf("retry due webhooks: %w", err)
	}

	logger.Info("Completed webhook retry sweep", map[string]interface{}{
		"limit":     limit,
		"delivered": delivered,
	})
	return nil
}
