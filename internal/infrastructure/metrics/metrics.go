package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "created_total",
		Help:      "Payments created, by provider and resulting status.",
	}, []string{"provider", "status"})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "transitions_total",
		Help:      "Payment status transitions, by event type.",
	}, []string{"event"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payments",
		Name:      "provider_call_duration_seconds",
		Help:      "Latency of outbound provider calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "operation", "outcome"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "circuit_breaker_trips_total",
		Help:      "Times a provider circuit breaker opened.",
	}, []string{"provider"})

	FraudDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "fraud_decisions_total",
		Help:      "Fraud screen decisions.",
	}, []string{"decision"})

	IdempotencyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "idempotency_outcomes_total",
		Help:      "Idempotency Begin outcomes.",
	}, []string{"outcome"})

	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhooks",
		Name:      "delivery_attempts_total",
		Help:      "Outbound webhook delivery attempts, by outcome.",
	}, []string{"outcome"})

	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "webhooks",
		Name:      "delivery_duration_seconds",
		Help:      "Latency of outbound webhook POSTs.",
		Buckets:   prometheus.DefBuckets,
	})
)
