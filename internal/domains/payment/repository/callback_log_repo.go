package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/pkg/database"
)

// =====================================================
// CALLBACK LOG REPOSITORY IMPLEMENTATION
// =====================================================
type callbackLogRepository struct {
	pool *pgxpool.Pool
}

func NewCallbackLogRepository(pool *pgxpool.Pool) CallbackLogRepository {
	return &callbackLogRepository{pool: pool}
}

// Record is called as soon as a callback passes signature verification,
// before the payment is touched.
func (r *callbackLogRepository) Record(ctx context.Context, entry *model.CallbackLog) (*model.CallbackLog, error) {
	query := `
		INSERT INTO payment_callback_logs (
			id, provider, event_key, payment_id, payload, signature,
			processed, attempts, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, false, 1, $7)
		ON CONFLICT (provider, event_key) DO UPDATE
		SET attempts = payment_callback_logs.attempts + 1
		RETURNING id, payment_id, processed, error, attempts, received_at, processed_at
	`

	stored := *entry
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query,
		entry.ID, entry.Provider, entry.EventKey, entry.PaymentID,
		entry.Payload, entry.Signature, entry.ReceivedAt,
	).Scan(
		&stored.ID, &stored.PaymentID, &stored.Processed, &stored.Error,
		&stored.Attempts, &stored.ReceivedAt, &stored.ProcessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record callback log: %w", err)
	}
	return &stored, nil
}

func (r *callbackLogRepository) MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID, errMsg string) error {
	var (
		processed = errMsg == ""
		errPtr    *string
	)
	if !processed {
		errPtr = &errMsg
	}

	query := `
		UPDATE payment_callback_logs
		SET processed = $2,
			payment_id = COALESCE($3, payment_id),
			error = $4,
			processed_at = CASE WHEN $2 THEN $5 ELSE processed_at END
		WHERE id = $1
	`
	_, err := database.Conn(ctx, r.pool).Exec(ctx, query, id, processed, paymentID, errPtr, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark callback log: %w", err)
	}
	return nil
}
