package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SplitRule divides a payment's proceeds between the platform (system) and
// the merchant (owner). FeePercent is charged on the gross amount and
// recorded alongside the shares.
type SplitRule struct {
	SystemPercent decimal.Decimal `json:"system_percent"`
	OwnerPercent  decimal.Decimal `json:"owner_percent"`
	FeePercent    decimal.Decimal `json:"fee_percent"`
}

// SplitBreakdown is the computed split stored on the payment.
type SplitBreakdown struct {
	SystemPercent decimal.Decimal `json:"system_percent"`
	OwnerPercent  decimal.Decimal `json:"owner_percent"`
	FeePercent    decimal.Decimal `json:"fee_percent"`
	SystemAmount  decimal.Decimal `json:"system_amount"`
	OwnerAmount   decimal.Decimal `json:"owner_amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
}

func (r SplitRule) Validate() error {
	for name, p := range map[string]decimal.Decimal{
		"system_percent": r.SystemPercent,
		"owner_percent":  r.OwnerPercent,
		"fee_percent":    r.FeePercent,
	} {
		if p.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
		if p.GreaterThan(hundred) {
			return fmt.Errorf("%s must not exceed 100", name)
		}
	}
	if r.SystemPercent.Add(r.OwnerPercent).GreaterThan(hundred) {
		return fmt.Errorf("system_percent + owner_percent must not exceed 100")
	}
	return nil
}

// CalculateSplit computes the shares of amount under rule.
//
// Each share is truncated to the currency's minor unit. The cents lost to
// truncation (the difference between the rounded combined allocation and the
// sum of the truncated shares) go to the larger share, so
// SystemAmount+OwnerAmount always equals round(amount × (system+owner)/100).
func CalculateSplit(amount decimal.Decimal, currency string, rule SplitRule) (*SplitBreakdown, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	exp := MinorUnits(currency)
	share := func(p decimal.Decimal) decimal.Decimal {
		return amount.Mul(p).Div(hundred).Truncate(exp)
	}

	system := share(rule.SystemPercent)
	owner := share(rule.OwnerPercent)
	total := amount.Mul(rule.SystemPercent.Add(rule.OwnerPercent)).Div(hundred).Round(exp)

	remainder := total.Sub(system).Sub(owner)
	if remainder.IsPositive() {
		if system.GreaterThan(owner) {
			system = system.Add(remainder)
		} else {
			owner = owner.Add(remainder)
		}
	}

	return &SplitBreakdown{
		SystemPercent: rule.SystemPercent,
		OwnerPercent:  rule.OwnerPercent,
		FeePercent:    rule.FeePercent,
		SystemAmount:  system,
		OwnerAmount:   owner,
		FeeAmount:     amount.Mul(rule.FeePercent).Div(hundred).Round(exp),
	}, nil
}
