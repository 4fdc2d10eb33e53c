package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	paymentModel "payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/domains/webhook/repository"
	"payment-orchestrator/pkg/option"
)

type Config struct {
	Timeout time.Duration
	Backoff model.Backoff

	// SigningSecret signs deliveries that have no endpoint secret. Empty
	// disables signing for those deliveries.
	SigningSecret string

	// LeaseDuration bounds how long a claimed delivery stays in flight
	// before another sweep may reclaim it.
	LeaseDuration time.Duration

	// Concurrency caps parallel attempts within one sweep.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		Backoff:       model.DefaultBackoff(),
		LeaseDuration: 2 * time.Minute,
		Concurrency:   8,
	}
}

type webhookService struct {
	deliveries repository.DeliveryRepository
	endpoints  option.Optional[repository.EndpointRepository]
	sender     *Sender
	config     Config
	now        func() time.Time
}

func NewWebhookService(
	deliveries repository.DeliveryRepository,
	endpoints option.Optional[repository.EndpointRepository],
	config Config,
) WebhookService {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Backoff.Initial <= 0 {
		config.Backoff = defaults.Backoff
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	// A lease shorter than one attempt would let a second sweep reclaim a
	// delivery that is still being sent.
	if config.LeaseDuration < config.Timeout {
		config.LeaseDuration = config.Timeout + time.Minute
	}

	return &webhookService{
		deliveries: deliveries,
		endpoints:  endpoints,
		sender:     NewSender(config.Timeout),
		config:     config,
		now:        time.Now,
	}
}

// =====================================================
// SEND
// =====================================================

func (s *webhookService) SendWebhook(ctx context.Context, url, eventType string, payload []byte, headers map[string]string) model.Result {
	return s.sender.Send(ctx, url, eventType, payload, headers)
}

// =====================================================
// SCHEDULE
// =====================================================

func (s *webhookService) ScheduleWebhook(ctx context.Context, req model.ScheduleRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, paymentModel.NewValidationError("Invalid webhook request", err)
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = model.DefaultMaxRetries
	}

	now := s.now()
	delivery := &model.Delivery{
		ID:         uuid.New(),
		PaymentID:  req.PaymentID,
		EventID:    req.EventID,
		EndpointID: req.EndpointID,
		URL:        req.URL,
		EventType:  req.EventType,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Stored already claimed so a concurrent sweep leaves the first
	// attempt to us.
	delivery.Claim(now, now.Add(s.config.LeaseDuration))

	if err := s.deliveries.Create(ctx, delivery); err != nil {
		return uuid.Nil, paymentModel.NewDeliveryError("Failed to store webhook delivery", err)
	}

	log.Info().
		Str("delivery_id", delivery.ID.String()).
		Str("payment_id", delivery.PaymentID.String()).
		Str("event_type", delivery.EventType).
		Str("url", delivery.URL).
		Msg("Webhook scheduled")

	s.attempt(ctx, delivery)
	return delivery.ID, nil
}

// =====================================================
// RETRY SWEEP
// =====================================================

func (s *webhookService) ProcessDueRetries(ctx context.Context, limit int) (int, error) {
	now := s.now()
	claimed, err := s.deliveries.ClaimDue(ctx, now, now.Add(s.config.LeaseDuration), limit)
	if err != nil {
		return 0, paymentModel.NewDeliveryError("Failed to claim due webhooks", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	log.Info().Int("claimed", len(claimed)).Msg("Retrying due webhooks")

	var (
		delivered atomic.Int64
		g         errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)

	for _, d := range claimed {
		g.Go(func() error {
			if s.attempt(ctx, d) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info().
		Int("claimed", len(claimed)).
		Int64("delivered", delivered.Load()).
		Msg("Webhook retry sweep finished")
	return int(delivered.Load()), nil
}

// =====================================================
// ATTEMPT
// =====================================================

// attempt sends d once and stores the outcome. It reports whether d was
// delivered.
func (s *webhookService) attempt(ctx context.Context, d *model.Delivery) bool {
	headers := map[string]string{HeaderDelivery: d.ID.String()}
	if secret := s.secretFor(ctx, d); secret != "" {
		for k, v := range SignatureHeaders(secret, d.Payload, s.now()) {
			headers[k] = v
		}
	}

	result := s.sender.Send(ctx, d.URL, d.EventType, d.Payload, headers)
	d.RecordAttempt(result, s.config.Backoff, s.now())

	// The outcome is recorded even if the caller gave up meanwhile.
	if err := s.deliveries.Update(context.WithoutCancel(ctx), d); err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID.String()).Msg("Failed to record webhook attempt")
		return result.Success
	}

	event := log.Info()
	if !result.Success {
		event = log.Warn()
	}
	event.
		Str("delivery_id", d.ID.String()).
		Str("payment_id", d.PaymentID.String()).
		Str("status", d.Status).
		Int("retry_count", d.RetryCount).
		Int("status_code", result.StatusCode).
		Str("error", result.Error).
		Msg("Webhook attempt")

	if d.Status == model.DeliveryStatusFailed {
		log.Error().
			Err(paymentModel.NewDeliveryError("Webhook abandoned after last retry", errors.New(result.Error))).
			Str("delivery_id", d.ID.String()).
			Int("retry_count", d.RetryCount).
			Msg("Webhook delivery failed permanently")
	}
	return result.Success
}

func (s *webhookService) secretFor(ctx context.Context, d *model.Delivery) string {
	if repo, ok := s.endpoints.Get(); ok && d.EndpointID != nil {
		endpoint, err := repo.GetByID(ctx, *d.EndpointID)
		if err == nil && endpoint.Secret != "" {
			return endpoint.Secret
		}
		if err != nil && !errors.Is(err, model.ErrEndpointNotFound) {
			log.Warn().Err(err).Str("delivery_id", d.ID.String()).Msg("Failed to load webhook endpoint secret")
		}
	}
	return s.config.SigningSecret
}

// =====================================================
// QUERIES
// =====================================================

func (s *webhookService) GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	return s.deliveries.GetByID(ctx, id)
}

func (s *webhookService) ListDeliveries(ctx context.Context, paymentID uuid.UUID) ([]*model.Delivery, error) {
	return s.deliveries.ListByPayment(ctx, paymentID)
}

// =====================================================
// ENDPOINTS
// =====================================================

func (s *webhookService) RegisterEndpoint(ctx context.Context, req model.CreateEndpointRequest) (*model.Endpoint, error) {
	if err := req.Validate(); err != nil {
		return nil, paymentModel.NewValidationError("Invalid webhook endpoint", err)
	}
	repo, ok := s.endpoints.Get()
	if !ok {
		return nil, paymentModel.NewValidationError("Webhook endpoints are configured statically", nil)
	}

	now := s.now()
	endpoint := &model.Endpoint{
		ID:         uuid.New(),
		MerchantID: req.MerchantID,
		URL:        req.URL,
		Secret:     req.Secret,
		Events:     req.Events,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(ctx, endpoint); err != nil {
		return nil, err
	}

	log.Info().
		Str("endpoint_id", endpoint.ID.String()).
		Str("merchant_id", endpoint.MerchantID).
		Msg("Webhook endpoint registered")
	return endpoint, nil
}

func (s *webhookService) DeactivateEndpoint(ctx context.Context, id uuid.UUID) error {
	repo, ok := s.endpoints.Get()
	if !ok {
		return model.ErrEndpointNotFound
	}
	return repo.Deactivate(ctx, id)
}
