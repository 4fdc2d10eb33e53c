package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/pkg/database"
)

type endpointRepository struct {
	pool *pgxpool.Pool
}

func NewEndpointRepository(pool *pgxpool.Pool) EndpointRepository {
	return &endpointRepository{pool: pool}
}

func (r *endpointRepository) Create(ctx context.Context, e *model.Endpoint) error {
	query := `
		INSERT INTO webhook_endpoints (id, merchant_id, url, secret, events, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := database.Conn(ctx, r.pool).Exec(ctx, query,
		e.ID, e.MerchantID, e.URL, e.Secret, pq.Array(e.Events), e.Active, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook endpoint: %w", err)
	}
	return nil
}

func (r *endpointRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Endpoint, error) {
	query := `
		SELECT id, merchant_id, url, secret, events, active, created_at, updated_at
		FROM webhook_endpoints
		WHERE id = $1
	`
	var e model.Endpoint
	err := database.Conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&e.ID, &e.MerchantID, &e.URL, &e.Secret, pq.Array(&e.Events), &e.Active, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}
	return &e, nil
}

func (r *endpointRepository) ListActive(ctx context.Context, merchantID string) ([]*model.Endpoint, error) {
	query := `
		SELECT id, merchant_id, url, secret, events, active, created_at, updated_at
		FROM webhook_endpoints
		WHERE merchant_id = $1 AND active = true
		ORDER BY created_at
	`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*model.Endpoint
	for rows.Next() {
		var e model.Endpoint
		if err := rows.Scan(
			&e.ID, &e.MerchantID, &e.URL, &e.Secret, pq.Array(&e.Events), &e.Active, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *endpointRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE webhook_endpoints SET active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEndpointNotFound
	}
	return nil
}
