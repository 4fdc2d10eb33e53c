package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/domains/webhook/service"
	"payment-orchestrator/internal/shared"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type(), len(opts))
	if info, ok := args.Get(0).(*asynq.TaskInfo); ok {
		return info, args.Error(1)
	}
	return nil, args.Error(1)
}

func dispatchRequest() model.ScheduleRequest {
	eventID, endpointID := uuid.New(), uuid.New()
	return model.ScheduleRequest{
		PaymentID:  uuid.New(),
		EventID:    &eventID,
		EndpointID: &endpointID,
		URL:        "https://merchant.example/hooks",
		EventType:  "payment.succeeded",
		Payload:    json.RawMessage(`{"event_type":"payment.succeeded"}`),
		MaxRetries: 5,
	}
}

func TestQueueDispatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "enqueued"},
		{name: "duplicate event is dropped", err: asynq.ErrTaskIDConflict},
		{name: "queue down", err: errors.New("redis: connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			enqueuer := &mockEnqueuer{}
			// queue, max retry, timeout, task id, retention
			enqueuer.On("EnqueueContext", shared.TypeDispatchWebhook, 5).Return(&asynq.TaskInfo{}, tt.err)

			err := NewQueueDispatcher(enqueuer).Dispatch(context.Background(), dispatchRequest())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			enqueuer.AssertExpectations(t)
		})
	}
}

// stubWebhookService records scheduled deliveries and sweeps.
type stubWebhookService struct {
	service.WebhookService
	scheduled []model.ScheduleRequest
	limits    []int
}

func (s *stubWebhookService) ScheduleWebhook(_ context.Context, req model.ScheduleRequest) (uuid.UUID, error) {
	s.scheduled = append(s.scheduled, req)
	return uuid.New(), nil
}

func (s *stubWebhookService) ProcessDueRetries(_ context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return 0, nil
}

func TestDispatchWebhookHandler(t *testing.T) {
	t.Parallel()

	req := dispatchRequest()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	svc := &stubWebhookService{}
	handler := NewDispatchWebhookHandler(svc)
	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(shared.TypeDispatchWebhook, body)))
	require.Len(t, svc.scheduled, 1)
	assert.Equal(t, req.PaymentID, svc.scheduled[0].PaymentID)
	assert.JSONEq(t, string(req.Payload), string(svc.scheduled[0].Payload))

	// Undecodable payloads are not retried.
	err = handler.ProcessTask(context.Background(), asynq.NewTask(shared.TypeDispatchWebhook, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryWebhooksHandler_Limit(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{}
	handler := NewRetryWebhooksHandler(svc, 50)

	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(shared.TypeRetryWebhooks, nil)))
	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(shared.TypeRetryWebhooks, []byte(`{"limit":7}`))))
	assert.Equal(t, []int{50, 7}, svc.limits)
}
