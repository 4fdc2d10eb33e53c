package circuitbreaker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/infrastructure/metrics"
)

type Config struct {
	// FailureThreshold failures within FailureWindow open the breaker.
	FailureThreshold int
	FailureWindow    time.Duration
	// OpenTimeout is how long an open breaker blocks before half-open.
	OpenTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		OpenTimeout:      30 * time.Second,
	}
}

// Gate is read by the provider registry before every routing decision and
// written by the provider-invocation path.
type Gate struct {
	cache Cache
	cfg   Config
}

func NewGate(cache Cache, cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	return &Gate{cache: cache, cfg: cfg}
}

// State returns the provider's state. Cache errors read as closed so an
// unavailable cache never blocks every provider.
func (g *Gate) State(ctx context.Context, provider string) State {
	state, err := g.cache.GetState(ctx, provider)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Circuit breaker state unavailable, assuming closed")
		return StateClosed
	}
	return state
}

// Allow reports whether calls to provider may proceed. While half-open only
// the caller that claims the probe is let through; the claim is held for
// OpenTimeout in case the probe never reports back.
func (g *Gate) Allow(ctx context.Context, provider string) bool {
	switch g.State(ctx, provider) {
	case StateOpen:
		return false
	case StateHalfOpen:
		claimed, err := g.cache.ClaimProbe(ctx, provider, g.cfg.OpenTimeout)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider).Msg("Circuit breaker probe claim failed, allowing call")
			return true
		}
		return claimed
	default:
		return true
	}
}

func (g *Gate) RecordSuccess(ctx context.Context, provider string) {
	if g.State(ctx, provider) != StateHalfOpen {
		return
	}
	if err := g.cache.SetState(ctx, provider, StateClosed, 0); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Failed to close circuit breaker")
		return
	}
	_ = g.cache.ResetFailures(ctx, provider)
	log.Info().Str("provider", provider).Msg("Circuit breaker closed after successful probe")
}

func (g *Gate) RecordFailure(ctx context.Context, provider string) {
	if g.State(ctx, provider) == StateHalfOpen {
		g.trip(ctx, provider, "probe failed")
		return
	}

	count, err := g.cache.IncrementFailures(ctx, provider, g.cfg.FailureWindow)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Failed to record provider failure")
		return
	}
	if count >= int64(g.cfg.FailureThreshold) {
		g.trip(ctx, provider, "failure threshold reached")
	}
}

// Trip forces the breaker open, e.g. from an operator action.
func (g *Gate) Trip(ctx context.Context, provider string) {
	g.trip(ctx, provider, "manual")
}

func (g *Gate) trip(ctx context.Context, provider, reason string) {
	if err := g.cache.SetState(ctx, provider, StateOpen, g.cfg.OpenTimeout); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Failed to open circuit breaker")
		return
	}
	_ = g.cache.ResetFailures(ctx, provider)
	metrics.CircuitBreakerTrips.WithLabelValues(provider).Inc()

	log.Warn().
		Str("provider", provider).
		Str("reason", reason).
		Dur("open_for", g.cfg.OpenTimeout).
		Msg("Circuit breaker opened")
}
