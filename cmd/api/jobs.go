package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"payment-orchestrator/pkg/container"
)

const (
	inProcessRetryInterval  = 30 * time.Second
	inProcessExpiryInterval = time.Minute
)

// runInProcessJobs replaces the asynq scheduler when state lives in memory.
// Idempotency keys expire by TTL in Redis, so there is no purge here.
func runInProcessJobs(ctx context.Context, c *container.Container) {
	retry := time.NewTicker(inProcessRetryInterval)
	defer retry.Stop()
	expiry := time.NewTicker(inProcessExpiryInterval)
	defer expiry.Stop()

	log.Info().Msg("Running background jobs in process")

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
			delivered, err := c.WebhookService.ProcessDueRetries(ctx, c.Config.Jobs.WebhookRetryLimit)
			if err != nil {
				log.Error().Err(err).Msg("Webhook retry sweep failed")
				continue
			}
			if delivered > 0 {
				log.Info().Int("delivered", delivered).Msg("Webhook retry sweep")
			}
		case <-expiry.C:
			expired, err := c.PaymentService.ExpireStalePayments(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Stale payment expiry failed")
				continue
			}
			if expired > 0 {
				log.Info().Int("expired", expired).Msg("Stale payments expired")
			}
		}
	}
}
