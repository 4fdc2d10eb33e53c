package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/statemachine"
	"payment-orchestrator/internal/shared/utils"
	"payment-orchestrator/pkg/database"
)

// =====================================================
// PAYMENT REPOSITORY IMPLEMENTATION
// =====================================================
type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

const paymentColumns = `
	id, merchant_id, order_id, amount, currency, refunded_amount, method, provider,
	status, transaction_id, failure_reason, split, card, three_ds, settlement,
	customer_fingerprint, metadata, version, completed_at, failed_at, refunded_at,
	created_at, updated_at`

// paymentJSON holds the JSONB columns of a payment row.
type paymentJSON struct {
	split      []byte
	card       []byte
	threeDS    []byte
	settlement []byte
	metadata   []byte
}

func marshalPaymentJSON(p *model.Payment) (*paymentJSON, error) {
	var (
		out paymentJSON
		err error
	)
	if p.Split != nil {
		if out.split, err = json.Marshal(p.Split); err != nil {
			return nil, fmt.Errorf("failed to marshal split: %w", err)
		}
	}
	if p.Card != nil {
		if out.card, err = json.Marshal(p.Card); err != nil {
			return nil, fmt.Errorf("failed to marshal card: %w", err)
		}
	}
	if out.threeDS, err = json.Marshal(p.ThreeDS); err != nil {
		return nil, fmt.Errorf("failed to marshal three_ds: %w", err)
	}
	if p.Settlement != nil {
		if out.settlement, err = json.Marshal(p.Settlement); err != nil {
			return nil, fmt.Errorf("failed to marshal settlement: %w", err)
		}
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if out.metadata, err = json.Marshal(metadata); err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return &out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p  model.Payment
		js paymentJSON
	)
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.OrderID, &p.Amount, &p.Currency, &p.RefundedAmount,
		&p.Method, &p.Provider, &p.Status, &p.TransactionID, &p.FailureReason,
		&js.split, &js.card, &js.threeDS, &js.settlement,
		&p.CustomerFingerprint, &js.metadata, &p.Version,
		&p.CompletedAt, &p.FailedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(js.split) > 0 {
		p.Split = &model.SplitBreakdown{}
		if err := json.Unmarshal(js.split, p.Split); err != nil {
			return nil, fmt.Errorf("failed to unmarshal split: %w", err)
		}
	}
	if len(js.card) > 0 {
		p.Card = &model.CardToken{}
		if err := json.Unmarshal(js.card, p.Card); err != nil {
			return nil, fmt.Errorf("failed to unmarshal card: %w", err)
		}
	}
	if len(js.threeDS) > 0 {
		if err := json.Unmarshal(js.threeDS, &p.ThreeDS); err != nil {
			return nil, fmt.Errorf("failed to unmarshal three_ds: %w", err)
		}
	}
	if len(js.settlement) > 0 {
		p.Settlement = &model.Settlement{}
		if err := json.Unmarshal(js.settlement, p.Settlement); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
		}
	}
	p.Metadata = map[string]string{}
	if len(js.metadata) > 0 {
		if err := json.Unmarshal(js.metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	js, err := marshalPaymentJSON(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, 1, $18, $19, $20, $21, $22)
	`
	_, err = database.Conn(ctx, r.pool).Exec(ctx, query,
		p.ID, p.MerchantID, p.OrderID, p.Amount, p.Currency, p.RefundedAmount,
		p.Method, p.Provider, p.Status, p.TransactionID, p.FailureReason,
		js.split, js.card, js.threeDS, js.settlement,
		p.CustomerFingerprint, js.metadata,
		p.CompletedAt, p.FailedAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewPaymentError(model.ErrConflict, model.ErrCodeConcurrentUpdate,
				fmt.Sprintf("Payment %s already exists", p.ID), err)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	p.Version = 1
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewPaymentNotFoundError(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, merchantID, orderID string) (*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE merchant_id = $1 AND order_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query, merchantID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewPaymentNotFoundError("order " + orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by order: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, provider, transactionID string) (*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider = $1
		  AND (transaction_id = $2 OR metadata->>'original_transaction_id' = $2)
		LIMIT 1
	`

	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query, provider, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NewPaymentNotFoundError("transaction " + transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by transaction: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) List(ctx context.Context, filter model.ListPaymentsRequest) ([]*model.Payment, int, error) {
	filter.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	if filter.MerchantID != "" {
		args = append(args, filter.MerchantID)
		conds = append(conds, fmt.Sprintf("merchant_id = $%d", len(args)))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		conds = append(conds, fmt.Sprintf("order_id = $%d", len(args)))
	}
	where := utils.WhereClause(conds)

	db := database.Conn(ctx, r.pool)

	var total int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM payments `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT %s
		FROM payments
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, paymentColumns, where, len(args)-1, len(args))

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments, err := collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *paymentRepository) Update(ctx context.Context, p *model.Payment) error {
	js, err := marshalPaymentJSON(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE payments
		SET refunded_amount = $3,
			status = $4,
			transaction_id = $5,
			failure_reason = $6,
			split = $7,
			three_ds = $8,
			settlement = $9,
			metadata = $10,
			completed_at = $11,
			failed_at = $12,
			refunded_at = $13,
			updated_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $2
	`
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, query,
		p.ID, p.Version,
		p.RefundedAmount, p.Status, p.TransactionID, p.FailureReason,
		js.split, js.threeDS, js.settlement, js.metadata,
		p.CompletedAt, p.FailedAt, p.RefundedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConcurrentUpdateError(p.ID.String())
	}

	p.Version++
	return nil
}

func (r *paymentRepository) ListStale(ctx context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]*model.Payment, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ANY($1) AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := database.Conn(ctx, r.pool).Query(ctx, query, pq.Array(names), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]*model.Payment, error) {
	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
