package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/pkg/database"
)

// =====================================================
// DELIVERY REPOSITORY IMPLEMENTATION
// =====================================================
type deliveryRepository struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepository(pool *pgxpool.Pool) DeliveryRepository {
	return &deliveryRepository{pool: pool}
}

const deliveryColumns = `
	id, payment_id, event_id, endpoint_id, url, event_type, payload,
	status, retry_count, max_retries, last_status_code, last_error,
	next_retry_at, lease_until, delivered_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(
		&d.ID, &d.PaymentID, &d.EventID, &d.EndpointID, &d.URL, &d.EventType, &d.Payload,
		&d.Status, &d.RetryCount, &d.MaxRetries, &d.LastStatusCode, &d.LastError,
		&d.NextRetryAt, &d.LeaseUntil, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deliveryRepository) Create(ctx context.Context, d *model.Delivery) error {
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := database.Conn(ctx, r.pool).Exec(ctx, query,
		d.ID, d.PaymentID, d.EventID, d.EndpointID, d.URL, d.EventType, []byte(d.Payload),
		d.Status, d.RetryCount, d.MaxRetries, d.LastStatusCode, d.LastError,
		d.NextRetryAt, d.LeaseUntil, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(database.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook delivery: %w", err)
	}
	return d, nil
}

func (r *deliveryRepository) Update(ctx context.Context, d *model.Delivery) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $2,
			retry_count = $3,
			last_status_code = $4,
			last_error = $5,
			next_retry_at = $6,
			lease_until = $7,
			delivered_at = $8,
			updated_at = $9
		WHERE id = $1
	`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, query,
		d.ID, d.Status, d.RetryCount, d.LastStatusCode, d.LastError,
		d.NextRetryAt, d.LeaseUntil, d.DeliveredAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrDeliveryNotFound
	}
	return nil
}

// ClaimDue flips due rows to in_flight in one statement. SKIP LOCKED lets
// several workers sweep at once without waiting on each other's rows.
func (r *deliveryRepository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*model.Delivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'in_flight',
			lease_until = $2,
			updated_at = $1
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE (status = 'pending' AND retry_count <= max_retries
					AND (next_retry_at IS NULL OR next_retry_at <= $1))
			   OR (status = 'in_flight' AND lease_until < $1)
			ORDER BY next_retry_at NULLS FIRST, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := database.Conn(ctx, r.pool).Query(ctx, query, now, leaseUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func (r *deliveryRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*model.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE payment_id = $1
		ORDER BY created_at
	`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func collectDeliveries(rows pgx.Rows) ([]*model.Delivery, error) {
	var deliveries []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook deliveries: %w", err)
	}
	return deliveries, nil
}
