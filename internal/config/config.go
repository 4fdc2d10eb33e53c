package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the whole application configuration, populated from
// environment variables.
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Idempotency    IdempotencyConfig
	CircuitBreaker CircuitBreakerConfig
	Fraud          FraudConfig
	ThreeDS        ThreeDSConfig
	Webhook        WebhookConfig
	Settlement     SettlementConfig
	Payment        PaymentConfig
	Providers      []ProviderConfig
	Jobs           JobConfig
}

type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Port        string
	Version     string
}

type DatabaseConfig struct {
	// Enabled is false when DB_HOST is unset; in-memory repositories are
	// used instead (single instance only).
	Enabled bool
}

type RedisConfig struct {
	Host     string
	Password string
	DB       int
}

// IdempotencyConfig selects the key store: "redis" (default) or "postgres".
type IdempotencyConfig struct {
	Store     string
	Retention time.Duration
	// PendingTTL caps how long an unfinished key blocks retries. Defaults to
	// the provider and fraud timeouts plus a minute.
	PendingTTL   time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	PurgeBatch   int
}

// CircuitBreakerConfig.Store is "redis" (shared across instances) or
// "memory" (per process).
type CircuitBreakerConfig struct {
	Store            string
	FailureThreshold int
	FailureWindow    time.Duration
	OpenTimeout      time.Duration
	HalfOpenWindow   time.Duration
}

type FraudConfig struct {
	// Mode is "rules" (local), "http" (external scoring) or "off".
	Mode     string
	FailOpen bool

	// http
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// rules
	BlockAmounts   map[string]decimal.Decimal
	ReviewAmounts  map[string]decimal.Decimal
	VelocityLimit  int64
	VelocityWindow time.Duration
}

type ThreeDSConfig struct {
	// MDSecret signs the merchant data token handed to the ACS
	MDSecret string
	MDTTL    time.Duration
}

type WebhookConfig struct {
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxRetries     int
	SigningSecret  string
	LeaseDuration  time.Duration
	Concurrency    int
	// StaticEndpoints, when set, replaces the webhook_endpoints table:
	// "merchant=url,merchant2=url2"; merchant "*" receives every event.
	StaticEndpoints map[string][]string
}

type SettlementConfig struct {
	Enabled  bool
	Currency string
	// Source is "static" or "http"
	Source      string
	StaticRates string
	BaseURL     string
	APIKey      string
	CacheTTL    time.Duration
}

type PaymentConfig struct {
	ProviderTimeout time.Duration
	PaymentTimeout  time.Duration
	ExpiryBatch     int
}

// ProviderConfig configures one provider adapter. Mock providers need only
// a name and callback secret.
type ProviderConfig struct {
	Name           string
	Mock           bool
	BaseURL        string
	APIKey         string
	SigningSecret  string
	CallbackSecret string
	Timeout        time.Duration
	Fallbacks      []string

	// 3-D Secure policy; ThreeDSEnabled false means no 3-D Secure.
	ThreeDSEnabled   bool
	ThreeDSThreshold decimal.Decimal
	ThreeDSCurrency  []string
	ThreeDSBrands    []string
}

type JobConfig struct {
	WebhookRetryCron     string
	WebhookRetryLimit    int
	ExpireStaleCron      string
	PurgeIdempotencyCron string
	WorkerConcurrency    int
}

// Load reads config from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Payment Orchestrator"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
		Database: DatabaseConfig{
			Enabled: os.Getenv("DB_HOST") != "",
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Store:        getEnv("IDEMPOTENCY_STORE", "redis"),
			Retention:    getEnvDuration("IDEMPOTENCY_RETENTION", 24*time.Hour),
			PendingTTL:   getEnvDuration("IDEMPOTENCY_PENDING_TTL", 0),
			WaitTimeout:  getEnvDuration("IDEMPOTENCY_WAIT_TIMEOUT", 10*time.Second),
			PollInterval: getEnvDuration("IDEMPOTENCY_POLL_INTERVAL", 100*time.Millisecond),
			PurgeBatch:   getEnvInt("IDEMPOTENCY_PURGE_BATCH", 1000),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Store:            getEnv("CB_STORE", "redis"),
			FailureThreshold: getEnvInt("CB_FAILURE_THRESHOLD", 5),
			FailureWindow:    getEnvDuration("CB_FAILURE_WINDOW", time.Minute),
			OpenTimeout:      getEnvDuration("CB_OPEN_TIMEOUT", 30*time.Second),
			HalfOpenWindow:   getEnvDuration("CB_HALF_OPEN_WINDOW", 30*time.Second),
		},
		Fraud: FraudConfig{
			Mode:           getEnv("FRAUD_MODE", "rules"),
			FailOpen:       getEnvBool("FRAUD_FAIL_OPEN", false),
			BaseURL:        getEnv("FRAUD_BASE_URL", ""),
			APIKey:         getEnv("FRAUD_API_KEY", ""),
			Timeout:        getEnvDuration("FRAUD_TIMEOUT", 5*time.Second),
			VelocityLimit:  int64(getEnvInt("FRAUD_VELOCITY_LIMIT", 10)),
			VelocityWindow: getEnvDuration("FRAUD_VELOCITY_WINDOW", time.Hour),
		},
		ThreeDS: ThreeDSConfig{
			MDSecret: getEnv("THREEDS_MD_SECRET", "change-me-3ds-md-secret"),
			MDTTL:    getEnvDuration("THREEDS_MD_TTL", 15*time.Minute),
		},
		Webhook: WebhookConfig{
			Timeout:        getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			InitialBackoff: getEnvDuration("WEBHOOK_INITIAL_BACKOFF", 30*time.Second),
			MaxRetries:     getEnvInt("WEBHOOK_MAX_RETRIES", 5),
			SigningSecret:  getEnv("WEBHOOK_SIGNING_SECRET", ""),
			LeaseDuration:  getEnvDuration("WEBHOOK_LEASE", 2*time.Minute),
			Concurrency:    getEnvInt("WEBHOOK_CONCURRENCY", 8),
		},
		Settlement: SettlementConfig{
			Enabled:     getEnvBool("SETTLEMENT_ENABLED", false),
			Currency:    getEnv("SETTLEMENT_CURRENCY", "IQD"),
			Source:      getEnv("SETTLEMENT_RATE_SOURCE", "static"),
			StaticRates: getEnv("SETTLEMENT_STATIC_RATES", "USD:IQD=1310"),
			BaseURL:     getEnv("SETTLEMENT_RATES_URL", ""),
			APIKey:      getEnv("SETTLEMENT_RATES_API_KEY", ""),
			CacheTTL:    getEnvDuration("SETTLEMENT_RATES_TTL", 10*time.Minute),
		},
		Payment: PaymentConfig{
			ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			PaymentTimeout:  getEnvDuration("PAYMENT_TIMEOUT", 15*time.Minute),
			ExpiryBatch:     getEnvInt("PAYMENT_EXPIRY_BATCH", 100),
		},
		Jobs: JobConfig{
			WebhookRetryCron:     getEnv("JOB_WEBHOOK_RETRY_CRON", "@every 30s"),
			WebhookRetryLimit:    getEnvInt("JOB_WEBHOOK_RETRY_LIMIT", 100),
			ExpireStaleCron:      getEnv("JOB_EXPIRE_STALE_CRON", "@every 1m"),
			PurgeIdempotencyCron: getEnv("JOB_PURGE_IDEMPOTENCY_CRON", "0 * * * *"),
			WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 10),
		},
	}

	if cfg.Idempotency.PendingTTL <= 0 {
		cfg.Idempotency.PendingTTL = cfg.Payment.ProviderTimeout + cfg.Fraud.Timeout + time.Minute
	}

	var err error
	if cfg.Fraud.BlockAmounts, err = getEnvAmounts("FRAUD_BLOCK_AMOUNTS", "USD=10000,IQD=15000000"); err != nil {
		return nil, err
	}
	if cfg.Fraud.ReviewAmounts, err = getEnvAmounts("FRAUD_REVIEW_AMOUNTS", "USD=2000,IQD=3000000"); err != nil {
		return nil, err
	}
	cfg.Webhook.StaticEndpoints = parseEndpointList(getEnv("WEBHOOK_STATIC_ENDPOINTS", ""))

	if cfg.Providers, err = loadProviders(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadProviders reads PROVIDERS="ZainCash,FIB,QiCard" and, per provider,
// PROVIDER_<NAME>_* variables. Without PROVIDERS, mock providers are used.
func loadProviders() ([]ProviderConfig, error) {
	names := splitList(getEnv("PROVIDERS", ""))
	mock := len(names) == 0
	if mock {
		names = []string{"ZainCash", "FIB", "QiCard"}
	}

	providers := make([]ProviderConfig, 0, len(names))
	for _, name := range names {
		prefix := "PROVIDER_" + strings.ToUpper(name) + "_"
		threshold, err := decimal.NewFromString(getEnv(prefix+"3DS_THRESHOLD", "0"))
		if err != nil {
			return nil, fmt.Errorf("invalid %s3DS_THRESHOLD: %w", prefix, err)
		}
		providers = append(providers, ProviderConfig{
			Name:             name,
			Mock:             mock || getEnvBool(prefix+"MOCK", false),
			BaseURL:          getEnv(prefix+"BASE_URL", ""),
			APIKey:           getEnv(prefix+"API_KEY", ""),
			SigningSecret:    getEnv(prefix+"SIGNING_SECRET", ""),
			CallbackSecret:   getEnv(prefix+"CALLBACK_SECRET", "dev-callback-secret"),
			Timeout:          getEnvDuration(prefix+"TIMEOUT", 30*time.Second),
			Fallbacks:        splitList(getEnv(prefix+"FALLBACKS", "")),
			ThreeDSEnabled:   getEnvBool(prefix+"3DS_ENABLED", false),
			ThreeDSThreshold: threshold,
			ThreeDSCurrency:  splitList(getEnv(prefix+"3DS_CURRENCIES", "")),
			ThreeDSBrands:    splitList(getEnv(prefix+"3DS_BRANDS", "")),
		})
	}
	return providers, nil
}

// Validate checks the config for unsafe or inconsistent values
func (c *Config) Validate() error {
	switch c.Idempotency.Store {
	case "redis", "postgres":
	default:
		return fmt.Errorf("IDEMPOTENCY_STORE must be redis or postgres, got %q", c.Idempotency.Store)
	}
	if c.Idempotency.Store == "postgres" && !c.Database.Enabled {
		return fmt.Errorf("IDEMPOTENCY_STORE=postgres requires DB_HOST")
	}
	switch c.CircuitBreaker.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("CB_STORE must be redis or memory, got %q", c.CircuitBreaker.Store)
	}
	switch c.Fraud.Mode {
	case "rules", "off":
	case "http":
		if c.Fraud.BaseURL == "" {
			return fmt.Errorf("FRAUD_BASE_URL must be set when FRAUD_MODE=http")
		}
	default:
		return fmt.Errorf("FRAUD_MODE must be rules, http or off, got %q", c.Fraud.Mode)
	}
	if c.Settlement.Enabled && c.Settlement.Source == "http" && c.Settlement.BaseURL == "" {
		return fmt.Errorf("SETTLEMENT_RATES_URL must be set when SETTLEMENT_RATE_SOURCE=http")
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must not be negative")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, p := range c.Providers {
		if !p.Mock && p.BaseURL == "" {
			return fmt.Errorf("PROVIDER_%s_BASE_URL must be set", strings.ToUpper(p.Name))
		}
	}

	if c.App.Environment == "production" {
		if c.ThreeDS.MDSecret == "change-me-3ds-md-secret" {
			return fmt.Errorf("THREEDS_MD_SECRET must be set in production")
		}
		if !c.Database.Enabled {
			return fmt.Errorf("DB_HOST must be set in production")
		}
		for _, p := range c.Providers {
			if p.Mock {
				return fmt.Errorf("mock provider %s is not allowed in production", p.Name)
			}
		}
	}
	return nil
}

// ================================================
// HELPERS
// ================================================

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAmounts parses "USD=10000,IQD=15000000".
func getEnvAmounts(key, defaultValue string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, item := range splitList(getEnv(key, defaultValue)) {
		currency, raw, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q", key, item)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid %s amount %q: %w", key, raw, err)
		}
		out[strings.ToUpper(strings.TrimSpace(currency))] = amount
	}
	return out, nil
}

func parseEndpointList(raw string) map[string][]string {
	out := map[string][]string{}
	for _, item := range splitList(raw) {
		merchant, url, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		merchant = strings.TrimSpace(merchant)
		out[merchant] = append(out[merchant], strings.TrimSpace(url))
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
