package container

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/domains/payment/circuitbreaker"
	"payment-orchestrator/internal/domains/payment/fraud"
	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/gateway/httpprovider"
	"payment-orchestrator/internal/domains/payment/gateway/mock"
	paymentHandler "payment-orchestrator/internal/domains/payment/handler"
	"payment-orchestrator/internal/domains/payment/idempotency"
	paymentRepo "payment-orchestrator/internal/domains/payment/repository"
	paymentService "payment-orchestrator/internal/domains/payment/service"
	"payment-orchestrator/internal/domains/payment/settlement"
	"payment-orchestrator/internal/domains/payment/threeds"
	webhookHandler "payment-orchestrator/internal/domains/webhook/handler"
	webhookJob "payment-orchestrator/internal/domains/webhook/job"
	webhookModel "payment-orchestrator/internal/domains/webhook/model"
	webhookRepo "payment-orchestrator/internal/domains/webhook/repository"
	webhookService "payment-orchestrator/internal/domains/webhook/service"
	infraCache "payment-orchestrator/internal/infrastructure/cache"
	"payment-orchestrator/internal/infrastructure/database"
	pkgdb "payment-orchestrator/pkg/database"
	"payment-orchestrator/pkg/jwt"
	"payment-orchestrator/pkg/keylock"
	"payment-orchestrator/pkg/option"
)

// ========================================
// CONTAINER STRUCT
// ========================================

// Container holds the dependency graph shared by the API and the worker.
type Container struct {
	// ========================================
	// INFRASTRUCTURE
	// ========================================
	Config *config.Config
	DB     *database.PostgresDB // nil when DB_HOST is unset
	Redis  *infraCache.RedisClient
	Queue  *asynq.Client // nil in single-process mode

	// ========================================
	// REPOSITORIES
	// ========================================
	PaymentRepo  paymentRepo.PaymentRepository
	CallbackRepo paymentRepo.CallbackLogRepository
	DeliveryRepo webhookRepo.DeliveryRepository
	EndpointRepo webhookRepo.EndpointRepository

	// ========================================
	// SERVICES
	// ========================================
	Registry           *gateway.Registry
	IdempotencyService idempotency.Service
	PaymentService     paymentService.PaymentService
	ThreeDSService     threeds.Service
	WebhookService     webhookService.WebhookService

	// ========================================
	// HANDLERS
	// ========================================
	PaymentHandler *paymentHandler.PaymentHandler
	WebhookHandler *webhookHandler.WebhookHandler
}

// ========================================
// CONSTRUCTOR
// ========================================

// NewContainer builds the graph in dependency order:
// config -> infrastructure -> repositories -> services -> handlers.
func NewContainer(cfg *config.Config) (*Container, error) {
	log.Info().Str("env", cfg.App.Environment).Msg("Initializing container")

	c := &Container{Config: cfg}

	if err := c.initInfrastructure(); err != nil {
		c.Cleanup()
		return nil, err
	}
	c.initRepositories()
	if err := c.initServices(); err != nil {
		c.Cleanup()
		return nil, err
	}
	c.initHandlers()

	log.Info().
		Bool("database", c.DB != nil).
		Bool("queue", c.Queue != nil).
		Strs("providers", c.Registry.Names()).
		Msg("Container initialized")
	return c, nil
}

// InProcess reports whether background work (webhook retries, payment
// expiry) has to run inside the API process. True without Postgres, since
// in-memory state is invisible to a separate worker.
func (c *Container) InProcess() bool {
	return c.DB == nil
}

// ========================================
// STEP 1: INFRASTRUCTURE
// ========================================

func (c *Container) initInfrastructure() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if c.Config.Database.Enabled {
		dbConfig, err := config.LoadDatabaseConfig()
		if err != nil {
			return fmt.Errorf("failed to load database config: %w", err)
		}
		db := database.NewPostgresDB(dbConfig)
		if err := db.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = db
	} else {
		log.Warn().Msg("DB_HOST not set, using in-memory repositories")
	}

	c.Redis = infraCache.NewRedisClient(c.Config.Redis.Host, c.Config.Redis.Password, c.Config.Redis.DB)
	if err := c.Redis.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	if c.DB != nil {
		c.Queue = asynq.NewClient(c.RedisClientOpt())
	}
	return nil
}

// RedisClientOpt is the asynq connection for the configured Redis.
func (c *Container) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.Config.Redis.Host,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	}
}

// ========================================
// STEP 2: REPOSITORIES
// ========================================

func (c *Container) initRepositories() {
	if c.DB != nil {
		c.PaymentRepo = paymentRepo.NewPaymentRepository(c.DB.Pool)
		c.CallbackRepo = paymentRepo.NewCallbackLogRepository(c.DB.Pool)
		c.DeliveryRepo = webhookRepo.NewDeliveryRepository(c.DB.Pool)
		c.EndpointRepo = webhookRepo.NewEndpointRepository(c.DB.Pool)
		return
	}
	c.PaymentRepo = paymentRepo.NewMemoryPaymentRepository()
	c.CallbackRepo = paymentRepo.NewMemoryCallbackLogRepository()
	c.DeliveryRepo = webhookRepo.NewMemoryDeliveryRepository()
	c.EndpointRepo = webhookRepo.NewMemoryEndpointRepository()
}

// ========================================
// STEP 3: SERVICES
// ========================================

func (c *Container) initServices() error {
	cfg := c.Config

	var txManager pkgdb.TxManager = pkgdb.NoopTxManager{}
	if c.DB != nil {
		txManager = pkgdb.NewTxManager(c.DB.Pool)
	}
	locks := keylock.New()

	// Provider registry behind the circuit breaker
	var breakerCache circuitbreaker.Cache
	if cfg.CircuitBreaker.Store == "memory" {
		breakerCache = circuitbreaker.NewMemoryCache(cfg.CircuitBreaker.HalfOpenWindow)
	} else {
		breakerCache = circuitbreaker.NewRedisCache(c.Redis.Client, "circuit", cfg.CircuitBreaker.HalfOpenWindow)
	}
	gate := circuitbreaker.NewGate(
		breakerCache,
		circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			FailureWindow:    cfg.CircuitBreaker.FailureWindow,
			OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
		},
	)
	registry, err := buildRegistry(gate, cfg.Providers)
	if err != nil {
		return err
	}
	c.Registry = registry

	// Idempotency
	var store idempotency.Store
	switch cfg.Idempotency.Store {
	case "postgres":
		store = idempotency.NewPostgresStore(c.DB.Pool)
	default:
		store = idempotency.NewRedisStore(c.Redis.Client, "idempotency")
	}
	c.IdempotencyService = idempotency.NewService(store, idempotency.Config{
		Retention:    cfg.Idempotency.Retention,
		PendingTTL:   cfg.Idempotency.PendingTTL,
		WaitTimeout:  cfg.Idempotency.WaitTimeout,
		PollInterval: cfg.Idempotency.PollInterval,
		PurgeBatch:   cfg.Idempotency.PurgeBatch,
	})

	fraudGuard := buildFraudGuard(cfg.Fraud, c)

	settlementService, err := buildSettlement(cfg.Settlement, c)
	if err != nil {
		return err
	}

	// Webhooks
	c.WebhookService = webhookService.NewWebhookService(
		c.DeliveryRepo,
		option.Some(c.EndpointRepo),
		webhookService.Config{
			Timeout:       cfg.Webhook.Timeout,
			Backoff:       webhookModel.Backoff{Initial: cfg.Webhook.InitialBackoff, Max: webhookModel.MaxBackoff},
			SigningSecret: cfg.Webhook.SigningSecret,
			LeaseDuration: cfg.Webhook.LeaseDuration,
			Concurrency:   cfg.Webhook.Concurrency,
		},
	)

	var dispatcher webhookService.Dispatcher
	if c.Queue != nil {
		dispatcher = webhookJob.NewQueueDispatcher(c.Queue)
	} else {
		dispatcher = webhookService.NewInlineDispatcher(c.WebhookService)
	}
	var endpoints webhookService.EndpointSource = c.EndpointRepo
	if len(cfg.Webhook.StaticEndpoints) > 0 {
		endpoints = staticEndpoints(cfg.Webhook.StaticEndpoints)
	}
	publisher := webhookService.NewPublisher(endpoints, dispatcher, cfg.Webhook.MaxRetries)

	// Payments
	c.PaymentService = paymentService.NewPaymentService(
		paymentService.Dependencies{
			Payments:    c.PaymentRepo,
			Callbacks:   c.CallbackRepo,
			TxManager:   txManager,
			Idempotency: c.IdempotencyService,
			Registry:    registry,
			Locks:       locks,
			Fraud:       fraudGuard,
			Settlement:  settlementService,
			Events:      option.Some[paymentService.EventPublisher](publisher),
		},
		paymentService.Config{
			ProviderTimeout: cfg.Payment.ProviderTimeout,
			PaymentTimeout:  cfg.Payment.PaymentTimeout,
			ExpiryBatch:     cfg.Payment.ExpiryBatch,
		},
	)

	c.ThreeDSService = threeds.NewService(
		c.PaymentRepo,
		registry,
		txManager,
		locks,
		jwt.NewManager(cfg.ThreeDS.MDSecret),
		threeds.Config{MDTTL: cfg.ThreeDS.MDTTL},
	)
	return nil
}

func buildRegistry(gate *circuitbreaker.Gate, providers []config.ProviderConfig) (*gateway.Registry, error) {
	registry := gateway.NewRegistry(gate)

	for _, pc := range providers {
		var policy *gateway.ThreeDSPolicy
		if pc.ThreeDSEnabled {
			policy = &gateway.ThreeDSPolicy{
				AmountThreshold: pc.ThreeDSThreshold,
				Currencies:      pc.ThreeDSCurrency,
				Brands:          pc.ThreeDSBrands,
			}
		}

		if pc.Mock {
			provider := mock.NewProvider(pc.Name, pc.CallbackSecret)
			if policy != nil {
				provider.SetThreeDSPolicy(policy)
			}
			registry.Register(provider)
		} else {
			client, err := httpprovider.NewClient(&httpprovider.Config{
				Name:           pc.Name,
				BaseURL:        pc.BaseURL,
				APIKey:         pc.APIKey,
				SigningSecret:  pc.SigningSecret,
				CallbackSecret: pc.CallbackSecret,
				Timeout:        pc.Timeout,
				ThreeDS:        policy,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to configure provider %s: %w", pc.Name, err)
			}
			registry.Register(client)
		}

		if len(pc.Fallbacks) > 0 {
			registry.SetFallbacks(pc.Name, pc.Fallbacks)
		}
		log.Info().Str("provider", pc.Name).Bool("mock", pc.Mock).Bool("three_ds", policy != nil).Msg("Provider registered")
	}
	return registry, nil
}

func buildFraudGuard(cfg config.FraudConfig, c *Container) option.Optional[*fraud.Guard] {
	var screener fraud.Screener
	switch cfg.Mode {
	case "rules":
		screener = fraud.NewRuleScreener(fraud.RuleConfig{
			BlockAmount:    cfg.BlockAmounts,
			ReviewAmount:   cfg.ReviewAmounts,
			VelocityLimit:  cfg.VelocityLimit,
			VelocityWindow: cfg.VelocityWindow,
		}, c.Redis.Client)
	case "http":
		screener = fraud.NewHTTPScreener(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	default:
		log.Warn().Msg("Fraud screening disabled")
		return option.None[*fraud.Guard]()
	}
	return option.Some(fraud.NewGuard(screener, cfg.FailOpen))
}

func buildSettlement(cfg config.SettlementConfig, c *Container) (option.Optional[*settlement.Service], error) {
	if !cfg.Enabled {
		return option.None[*settlement.Service](), nil
	}

	var rates settlement.RateSource
	switch cfg.Source {
	case "http":
		rates = settlement.NewHTTPRateSource(cfg.BaseURL, cfg.APIKey, c.Redis.Client, cfg.CacheTTL)
	default:
		static, err := settlement.ParseStaticRates(cfg.StaticRates)
		if err != nil {
			return option.None[*settlement.Service](), fmt.Errorf("invalid SETTLEMENT_STATIC_RATES: %w", err)
		}
		rates = static
	}
	return option.Some(settlement.NewService(cfg.Currency, rates)), nil
}

func staticEndpoints(raw map[string][]string) webhookService.StaticEndpoints {
	out := webhookService.StaticEndpoints{}
	now := time.Now()
	for merchant, urls := range raw {
		for _, url := range urls {
			out[merchant] = append(out[merchant], &webhookModel.Endpoint{
				ID:         webhookModel.StaticEndpointID(merchant, url),
				MerchantID: merchant,
				URL:        url,
				Active:     true,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}
	return out
}

// ========================================
// STEP 4: HANDLERS
// ========================================

func (c *Container) initHandlers() {
	c.PaymentHandler = paymentHandler.NewPaymentHandler(c.PaymentService, c.ThreeDSService)
	c.WebhookHandler = webhookHandler.NewWebhookHandler(c.WebhookService)
}

// ========================================
// HEALTH AND CLEANUP
// ========================================

// HealthCheck reports per-dependency status; a nil entry means healthy.
func (c *Container) HealthCheck(ctx context.Context) map[string]error {
	out := map[string]error{}
	if c.DB != nil {
		out["database"] = c.DB.HealthCheck(ctx)
	}
	if c.Redis != nil {
		out["redis"] = c.Redis.HealthCheck(ctx)
	}
	return out
}

func (c *Container) Cleanup() {
	log.Info().Msg("Cleaning up container resources")

	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close queue client")
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
}
