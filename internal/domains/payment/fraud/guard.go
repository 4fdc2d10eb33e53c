package fraud

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/infrastructure/metrics"
)

// ReasonScreenUnavailable is reported when a fail-open guard lets a payment
// through without a score.
const ReasonScreenUnavailable = "fraud screen unavailable"

// Guard applies the outage policy around a Screener.
type Guard struct {
	screener Screener
	failOpen bool
}

func NewGuard(screener Screener, failOpen bool) *Guard {
	return &Guard{screener: screener, failOpen: failOpen}
}

// Screen returns the assessment and decision. A screener error yields
// Allow when the guard fails open, otherwise a transient error.
func (g *Guard) Screen(ctx context.Context, req CheckRequest) (*Assessment, Decision, error) {
	assessment, err := g.screener.Check(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if !g.failOpen {
			metrics.FraudDecisions.WithLabelValues("unavailable").Inc()
			log.Error().Err(err).Str("merchant_id", req.MerchantID).Msg("Fraud screen unavailable, rejecting payment")
			return nil, "", model.NewFraudUnavailableError(err)
		}

		log.Warn().Err(err).Str("merchant_id", req.MerchantID).Msg("Fraud screen unavailable, allowing payment")
		metrics.FraudDecisions.WithLabelValues("fail_open").Inc()
		return &Assessment{
			RiskLevel: RiskLow,
			Score:     decimal.Zero,
			Reasons:   []string{ReasonScreenUnavailable},
		}, DecisionAllow, nil
	}

	decision := assessment.Decision()
	metrics.FraudDecisions.WithLabelValues(string(decision)).Inc()
	return assessment, decision, nil
}

// BlockedError converts a blocking assessment into the domain error.
func BlockedError(a *Assessment) *model.FraudBlockedError {
	return &model.FraudBlockedError{
		RiskLevel: string(a.RiskLevel),
		Score:     a.Score,
		Reasons:   a.Reasons,
	}
}
