package main

import (
	"github.com/hibiken/asynq"

	paymentJob "payment-orchestrator/internal/domains/payment/job"
	webhookJob "payment-orchestrator/internal/domains/webhook/job"
	"payment-orchestrator/internal/shared"
	"payment-orchestrator/pkg/container"
)

// HandlerRegistry holds all job handlers
type HandlerRegistry struct {
	// Webhook handlers
	dispatchWebhook *webhookJob.DispatchWebhookHandler
	retryWebhooks   *webhookJob.RetryWebhooksHandler

	// Maintenance handlers
	expireStale      *paymentJob.ExpireStalePaymentsHandler
	purgeIdempotency *paymentJob.PurgeIdempotencyHandler
}

func initializeHandlers(c *container.Container) *HandlerRegistry {
	return &HandlerRegistry{
		dispatchWebhook: webhookJob.NewDispatchWebhookHandler(c.WebhookService),
		retryWebhooks:   webhookJob.NewRetryWebhooksHandler(c.WebhookService, c.Config.Jobs.WebhookRetryLimit),

		expireStale:      paymentJob.NewExpireStalePaymentsHandler(c.PaymentService),
		purgeIdempotency: paymentJob.NewPurgeIdempotencyHandler(c.IdempotencyService),
	}
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(shared.TypeDispatchWebhook, h.dispatchWebhook.ProcessTask)
	mux.HandleFunc(shared.TypeRetryWebhooks, h.retryWebhooks.ProcessTask)
	mux.HandleFunc(shared.TypeExpireStalePayments, h.expireStale.ProcessTask)
	mux.HandleFunc(shared.TypePurgeIdempotencyKeys, h.purgeIdempotency.ProcessTask)
}
