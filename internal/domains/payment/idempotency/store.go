package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is what a store observed when a key was claimed.
type State string

const (
	StateNew        State = "new"
	StateCompleted  State = "completed"
	StateConflict   State = "conflict"
	StateInProgress State = "in_progress"
)

const (
	recordPending   = "pending"
	recordCompleted = "completed"
)

// BeginResult carries the payment id when State is StateCompleted.
type BeginResult struct {
	State     State
	PaymentID uuid.UUID
}

// Store persists idempotency records. Begin must be atomic: of N concurrent
// callers with the same key exactly one observes StateNew.
type Store interface {
	Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error)
	Complete(ctx context.Context, key string, paymentID uuid.UUID, ttl time.Duration) error
	// Release drops a pending record. Completed records are left alone.
	Release(ctx context.Context, key string) error
	// PurgeExpired deletes up to batch expired records and reports how many.
	PurgeExpired(ctx context.Context, now time.Time, batch int) (int64, error)
}
