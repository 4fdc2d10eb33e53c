package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	paymentModel "payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/domains/webhook/service"
	"payment-orchestrator/internal/shared"
	"payment-orchestrator/internal/shared/utils"
	"payment-orchestrator/pkg/logger"
)

// ================================================
// QUEUE DISPATCHER (API side)
// ================================================

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type QueueDispatcher struct {
	client Enqueuer
}

func NewQueueDispatcher(client Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

var _ service.Dispatcher = (*QueueDispatcher)(nil)

func (d *QueueDispatcher) Dispatch(ctx context.Context, req model.ScheduleRequest) error {
	task, err := utils.NewJSONTask(shared.TypeDispatchWebhook, req)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(shared.QueueWebhooks),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	}
	// One task per event and endpoint; a republished event is dropped.
	if req.EventID != nil && req.EndpointID != nil {
		opts = append(opts,
			asynq.TaskID(fmt.Sprintf("%s:%s", req.EventID, req.EndpointID)),
			asynq.Retention(24*time.Hour),
		)
	}

	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue webhook dispatch: %w", err)
	}
	return nil
}

// ================================================
// DISPATCH HANDLER (worker side)
// ================================================

type DispatchWebhookHandler struct {
	webhookService service.WebhookService
}

func NewDispatchWebhookHandler(webhookService service.WebhookService) *DispatchWebhookHandler {
	return &DispatchWebhookHandler{webhookService: webhookService}
}

func (h *DispatchWebhookHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req model.ScheduleRequest
	if err := utils.UnmarshalTask(t, &req); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	id, err := h.webhookService.ScheduleWebhook(ctx, req)
	if err != nil {
		// A bad request never gets better on retry.
		if errors.Is(err, paymentModel.ErrValidation) {
			logger.Error("Dropping invalid webhook dispatch", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("schedule webhook: %w", err)
	}

	logger.Info("Webhook dispatch handled", map[string]interface{}{
		"delivery_id": id.String(),
		"payment_id":  req.PaymentID.String(),
		"event_type":  req.EventType,
	})
	return nil
}
