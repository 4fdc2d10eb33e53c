package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/domains/payment/circuitbreaker"
	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// PROVIDER REGISTRY
// =====================================================

// Registry maps provider names to adapters and consults the circuit
// breaker before handing one out.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	order     []string
	fallbacks map[string][]string
	gate      *circuitbreaker.Gate
}

func NewRegistry(gate *circuitbreaker.Gate) *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		fallbacks: make(map[string][]string),
		gate:      gate,
	}
}

// Register adds an adapter. Registration order is the default routing
// priority when a request names no provider.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = adapter
}

// SetFallbacks configures the providers tried, in order, when name is
// unavailable.
func (r *Registry) SetFallbacks(name string, fallbacks []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[name] = append([]string(nil), fallbacks...)
}

// Get returns the adapter regardless of breaker state. Used for callbacks
// and refunds against a provider that already holds the payment.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Gate exposes the breaker so callers can record call outcomes.
func (r *Registry) Gate() *circuitbreaker.Gate {
	return r.gate
}

// Resolve picks the adapter for a new payment, skipping providers whose
// breaker is open. An empty preferred name routes by registration order.
func (r *Registry) Resolve(ctx context.Context, preferred string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []string
	if preferred == "" {
		candidates = r.order
	} else {
		if _, ok := r.adapters[preferred]; !ok {
			return nil, model.NewValidationError(fmt.Sprintf("Unknown payment provider: %s", preferred), nil)
		}
		candidates = append([]string{preferred}, r.fallbacks[preferred]...)
	}

	for _, name := range candidates {
		adapter, ok := r.adapters[name]
		if !ok {
			continue
		}
		if r.gate != nil && !r.gate.Allow(ctx, name) {
			log.Warn().Str("provider", name).Msg("Skipping provider with open circuit breaker")
			continue
		}
		return adapter, nil
	}

	if preferred == "" {
		preferred = "any"
	}
	return nil, model.NewProviderUnavailableError(preferred)
}
