package shared

// Queue names, by priority (see cmd/worker)
const (
	QueueCritical = "critical"
	QueueWebhooks = "webhooks"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Task types
const (
	TypeDispatchWebhook      = "webhook:dispatch"
	TypeRetryWebhooks        = "webhook:retry_due"
	TypeExpireStalePayments  = "payment:expire_stale"
	TypePurgeIdempotencyKeys = "payment:purge_idempotency"
)

// RetryWebhooksPayload configures one retry sweep. Limit <= 0 uses the
// worker's configured batch size.
type RetryWebhooksPayload struct {
	Limit int `json:"limit"`
}

type ExpireStalePaymentsPayload struct{}

type PurgeIdempotencyPayload struct{}
