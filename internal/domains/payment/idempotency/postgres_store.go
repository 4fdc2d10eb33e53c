package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payment-orchestrator/pkg/database"
)

// =====================================================
// POSTGRES STORE
// =====================================================

// PostgresStore keeps records in idempotency_requests. Atomicity of Begin
// comes from the primary key and INSERT ... ON CONFLICT DO NOTHING.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error) {
	db := database.Conn(ctx, s.pool)
	now := s.now()

	// An expired record is dead weight; clear it so the key can be reused.
	if _, err := db.Exec(ctx,
		`DELETE FROM idempotency_requests WHERE key = $1 AND expires_at <= $2`,
		key, now,
	); err != nil {
		return BeginResult{}, fmt.Errorf("failed to clear expired idempotency key: %w", err)
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO idempotency_requests (key, request_hash, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING
	`, key, requestHash, recordPending, now, now.Add(ttl))
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return BeginResult{State: StateNew}, nil
	}

	var (
		storedHash string
		status     string
		paymentID  *uuid.UUID
	)
	err = db.QueryRow(ctx, `
		SELECT request_hash, status, payment_id
		FROM idempotency_requests
		WHERE key = $1
	`, key).Scan(&storedHash, &status, &paymentID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Released between our insert and select; the caller polls again.
		return BeginResult{State: StateInProgress}, nil
	}
	if err != nil {
		return BeginResult{}, fmt.Errorf("failed to load idempotency key: %w", err)
	}

	switch {
	case storedHash != requestHash:
		return BeginResult{State: StateConflict}, nil
	case status == recordCompleted && paymentID != nil:
		return BeginResult{State: StateCompleted, PaymentID: *paymentID}, nil
	default:
		return BeginResult{State: StateInProgress}, nil
	}
}

func (s *PostgresStore) Complete(ctx context.Context, key string, paymentID uuid.UUID, ttl time.Duration) error {
	tag, err := database.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE idempotency_requests
		SET status = $2, payment_id = $3, expires_at = $4
		WHERE key = $1
	`, key, recordCompleted, paymentID, s.now().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q not found", key)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := database.Conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM idempotency_requests WHERE key = $1 AND status = $2`,
		key, recordPending,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time, batch int) (int64, error) {
	tag, err := database.Conn(ctx, s.pool).Exec(ctx, `
		DELETE FROM idempotency_requests
		WHERE key IN (
			SELECT key FROM idempotency_requests
			WHERE expires_at < $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, now, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
