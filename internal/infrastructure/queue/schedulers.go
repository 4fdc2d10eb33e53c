package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/shared"
	"payment-orchestrator/pkg/logger"
)

type Scheduler struct {
	scheduler *asynq.Scheduler
	jobConfig config.JobConfig
}

func NewScheduler(redis asynq.RedisClientOpt, jobConfig config.JobConfig) *Scheduler {
	scheduler := asynq.NewScheduler(
		redis,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
		jobConfig: jobConfig,
	}
}

func (s *Scheduler) RegisterJobs() error {
	if err := s.registerRetryWebhooksJob(); err != nil {
		return err
	}
	if err := s.registerExpireStalePaymentsJob(); err != nil {
		return err
	}
	if err := s.registerPurgeIdempotencyJob(); err != nil {
		return err
	}
	return nil
}

// ================================================
// JOB 1: Retry due webhooks
// ================================================
// Backoff lives in next_retry_at; the sweep only needs to run more often
// than the shortest backoff.
func (s *Scheduler) registerRetryWebhooksJob() error {
	payload, err := json.Marshal(shared.RetryWebhooksPayload{Limit: s.jobConfig.WebhookRetryLimit})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeRetryWebhooks, payload)
	_, err = s.scheduler.Register(
		s.jobConfig.WebhookRetryCron,
		task,
		asynq.Queue(shared.QueueWebhooks),
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		logger.Error("Failed to register RetryWebhooks job", err)
		return err
	}

	logger.Info("Registered RetryWebhooks", map[string]interface{}{"cron": s.jobConfig.WebhookRetryCron})
	return nil
}

// ================================================
// JOB 2: Expire stale payments
// ================================================
func (s *Scheduler) registerExpireStalePaymentsJob() error {
	payload, err := json.Marshal(shared.ExpireStalePaymentsPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeExpireStalePayments, payload)
	_, err = s.scheduler.Register(
		s.jobConfig.ExpireStaleCron,
		task,
		asynq.Queue(shared.QueueCritical),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		logger.Error("Failed to register ExpireStalePayments job", err)
		return err
	}

	logger.Info("Registered ExpireStalePayments", map[string]interface{}{"cron": s.jobConfig.ExpireStaleCron})
	return nil
}

// ================================================
// JOB 3: Purge expired idempotency keys
// ================================================
func (s *Scheduler) registerPurgeIdempotencyJob() error {
	payload, err := json.Marshal(shared.PurgeIdempotencyPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypePurgeIdempotencyKeys, payload)
	_, err = s.scheduler.Register(
		s.jobConfig.PurgeIdempotencyCron,
		task,
		asynq.Queue(shared.QueueLow),
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		logger.Error("Failed to register PurgeIdempotency job", err)
		return err
	}

	logger.Info("Registered PurgeIdempotency", map[string]interface{}{"cron": s.jobConfig.PurgeIdempotencyCron})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
