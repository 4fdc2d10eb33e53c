package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/model"
)

// Service converts a completed charge into the settlement currency.
type Service struct {
	currency string
	rates    RateSource
}

func NewService(settlementCurrency string, rates RateSource) *Service {
	return &Service{currency: strings.ToUpper(settlementCurrency), rates: rates}
}

func (s *Service) Currency() string {
	return s.currency
}

// Settle computes settlement fields for amount in currency. The settlement
// amount is rounded to the settlement currency's minor units.
func (s *Service) Settle(ctx context.Context, amount decimal.Decimal, currency string, now time.Time) (*model.Settlement, error) {
	rate := decimal.NewFromInt(1)
	if !strings.EqualFold(currency, s.currency) {
		var err error
		rate, err = s.rates.Rate(ctx, currency, s.currency)
		if err != nil {
			return nil, model.NewSettlementError(err)
		}
	}

	return &model.Settlement{
		Currency:     s.currency,
		Amount:       model.RoundToMinor(amount.Mul(rate), s.currency),
		ExchangeRate: rate,
		SettledAt:    now,
	}, nil
}
