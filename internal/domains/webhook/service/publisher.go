package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	paymentModel "payment-orchestrator/internal/domains/payment/model"
	paymentService "payment-orchestrator/internal/domains/payment/service"
	"payment-orchestrator/internal/domains/webhook/model"
)

// =====================================================
// PAYMENT EVENT PUBLISHER
// =====================================================
// Publisher turns committed payment events into webhook deliveries, one per
// subscribed merchant endpoint.

// EndpointSource lists where a merchant wants its events.
type EndpointSource interface {
	ListActive(ctx context.Context, merchantID string) ([]*model.Endpoint, error)
}

// Dispatcher hands a delivery to whatever runs ScheduleWebhook: the asynq
// worker in production, the service directly in single-process mode.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.ScheduleRequest) error
}

type Publisher struct {
	endpoints  EndpointSource
	dispatcher Dispatcher
	maxRetries int
}

var _ paymentService.EventPublisher = (*Publisher)(nil)

func NewPublisher(endpoints EndpointSource, dispatcher Dispatcher, maxRetries int) *Publisher {
	return &Publisher{endpoints: endpoints, dispatcher: dispatcher, maxRetries: maxRetries}
}

func (p *Publisher) Publish(ctx context.Context, payment *paymentModel.Payment, events []paymentModel.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	endpoints, err := p.endpoints.ListActive(ctx, payment.MerchantID)
	if err != nil {
		return fmt.Errorf("failed to resolve webhook endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	response := payment.ToResponse()
	var errs []error
	for _, event := range events {
		body, err := json.Marshal(paymentModel.WebhookPayload{
			EventID:    event.ID,
			EventType:  event.Type,
			OccurredAt: event.OccurredAt,
			Payment:    response,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", event.Type, err))
			continue
		}

		for _, endpoint := range endpoints {
			if !endpoint.Subscribes(string(event.Type)) {
				continue
			}
			eventID := event.ID
			endpointID := endpoint.ID
			req := model.ScheduleRequest{
				PaymentID:  payment.ID,
				EventID:    &eventID,
				EndpointID: &endpointID,
				URL:        endpoint.URL,
				EventType:  string(event.Type),
				Payload:    body,
				MaxRetries: p.maxRetries,
			}
			if err := p.dispatcher.Dispatch(ctx, req); err != nil {
				errs = append(errs, fmt.Errorf("dispatch %s to %s: %w", event.Type, endpoint.ID, err))
				continue
			}
			log.Debug().
				Str("payment_id", payment.ID.String()).
				Str("event_type", string(event.Type)).
				Str("endpoint_id", endpoint.ID.String()).
				Msg("Webhook dispatched")
		}
	}
	return errors.Join(errs...)
}

// =====================================================
// STATIC ENDPOINTS
// =====================================================

// StaticEndpoints serves endpoints from configuration, keyed by merchant.
// The "*" key applies to every merchant.
type StaticEndpoints map[string][]*model.Endpoint

func (s StaticEndpoints) ListActive(_ context.Context, merchantID string) ([]*model.Endpoint, error) {
	var out []*model.Endpoint
	for _, key := range []string{merchantID, "*"} {
		for _, e := range s[key] {
			if e.Active {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// =====================================================
// INLINE DISPATCHER
// =====================================================

// InlineDispatcher runs ScheduleWebhook in a background goroutine. Used when
// no queue is configured.
type InlineDispatcher struct {
	service WebhookService
}

func NewInlineDispatcher(service WebhookService) *InlineDispatcher {
	return &InlineDispatcher{service: service}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, req model.ScheduleRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	go func() {
		if _, err := d.service.ScheduleWebhook(context.WithoutCancel(ctx), req); err != nil {
			log.Error().Err(err).Str("payment_id", req.PaymentID.String()).Msg("Inline webhook dispatch failed")
		}
	}()
	return nil
}
