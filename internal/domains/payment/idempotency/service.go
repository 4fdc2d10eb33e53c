package idempotency

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/infrastructure/metrics"
)

// =====================================================
// IDEMPOTENCY SERVICE
// =====================================================

type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeConflict  Outcome = "conflict"
)

// Result of Begin. PaymentID is set for OutcomeDuplicate.
type Result struct {
	Outcome   Outcome
	PaymentID uuid.UUID
}

type Config struct {
	// Retention applies once a key is completed.
	Retention time.Duration
	// PendingTTL bounds a claimed but unfinished key, so a holder that dies
	// before Complete or Release blocks the key only this long.
	PendingTTL   time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	PurgeBatch   int
}

func DefaultConfig() Config {
	return Config{
		Retention:    24 * time.Hour,
		PendingTTL:   2 * time.Minute,
		WaitTimeout:  10 * time.Second,
		PollInterval: 100 * time.Millisecond,
		PurgeBatch:   1000,
	}
}

type Service interface {
	// Begin claims key for requestHash. A concurrent holder of the same key
	// is waited on until it completes or WaitTimeout passes.
	Begin(ctx context.Context, key, requestHash string) (Result, error)
	Complete(ctx context.Context, key string, paymentID uuid.UUID) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context) (int64, error)
}

type service struct {
	store  Store
	config Config
	now    func() time.Time
}

func NewService(store Store, config Config) Service {
	defaults := DefaultConfig()
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.PendingTTL <= 0 {
		config.PendingTTL = defaults.PendingTTL
	}
	if config.PendingTTL > config.Retention {
		config.PendingTTL = config.Retention
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaults.WaitTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PurgeBatch <= 0 {
		config.PurgeBatch = defaults.PurgeBatch
	}
	return &service{store: store, config: config, now: time.Now}
}

func (s *service) Begin(ctx context.Context, key, requestHash string) (Result, error) {
	deadline := s.now().Add(s.config.WaitTimeout)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		res, err := s.store.Begin(ctx, key, requestHash, s.config.PendingTTL)
		if err != nil {
			return Result{}, err
		}

		switch res.State {
		case StateNew:
			metrics.IdempotencyOutcomes.WithLabelValues(string(OutcomeNew)).Inc()
			return Result{Outcome: OutcomeNew}, nil
		case StateCompleted:
			metrics.IdempotencyOutcomes.WithLabelValues(string(OutcomeDuplicate)).Inc()
			log.Debug().Str("idempotency_key", key).Str("payment_id", res.PaymentID.String()).Msg("Replaying idempotent request")
			return Result{Outcome: OutcomeDuplicate, PaymentID: res.PaymentID}, nil
		case StateConflict:
			metrics.IdempotencyOutcomes.WithLabelValues(string(OutcomeConflict)).Inc()
			log.Warn().Str("idempotency_key", key).Msg("Idempotency key reused with a different request")
			return Result{Outcome: OutcomeConflict}, nil
		}

		if !s.now().Before(deadline) {
			metrics.IdempotencyOutcomes.WithLabelValues("in_progress_timeout").Inc()
			return Result{}, model.NewRequestInProgressError(key)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Complete extends the key to the full retention.
func (s *service) Complete(ctx context.Context, key string, paymentID uuid.UUID) error {
	return s.store.Complete(ctx, key, paymentID, s.config.Retention)
}

func (s *service) Release(ctx context.Context, key string) error {
	return s.store.Release(ctx, key)
}

func (s *service) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now(), s.config.PurgeBatch)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("purged", n).Msg("Purged expired idempotency keys")
	}
	return n, nil
}

// HashRequest fingerprints a request as hex(BLAKE2b-256(JSON(v))). Map keys
// are emitted sorted by encoding/json, so equal requests hash equally.
func HashRequest(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request for hashing: %w", err)
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
