package fraud

import (
	"context"

	"github.com/shopspring/decimal"
)

// =====================================================
// FRAUD SCREEN CONTRACT
// =====================================================

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
)

type CheckRequest struct {
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Method              string          `json:"method"`
	MerchantID          string          `json:"merchant_id"`
	OrderID             string          `json:"order_id"`
	CustomerFingerprint string          `json:"customer_fingerprint,omitempty"`
	ClientIP            string          `json:"client_ip,omitempty"`
}

type Assessment struct {
	RiskLevel RiskLevel       `json:"risk_level"`
	Score     decimal.Decimal `json:"score"`
	Reasons   []string        `json:"reasons"`
}

// Decision maps risk to an orchestration decision: high blocks, medium
// flags for review.
func (a *Assessment) Decision() Decision {
	switch a.RiskLevel {
	case RiskHigh:
		return DecisionBlock
	case RiskMedium:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

// Screener scores a payment before it is persisted.
type Screener interface {
	Check(ctx context.Context, req CheckRequest) (*Assessment, error)
}
