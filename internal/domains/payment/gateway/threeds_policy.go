package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ThreeDSPolicy decides whether a card payment needs 3-D Secure.
// Empty allow-lists match everything.
type ThreeDSPolicy struct {
	AmountThreshold decimal.Decimal
	Currencies      []string
	Brands          []string
}

// Requires evaluates amount threshold, currency allow-list and brand
// allow-list in that order; the first failing predicate means not required.
func (p ThreeDSPolicy) Requires(check ThreeDSCheck) bool {
	if check.Amount.LessThan(p.AmountThreshold) {
		return false
	}
	if len(p.Currencies) > 0 && !containsFold(p.Currencies, check.Currency) {
		return false
	}
	if len(p.Brands) > 0 && !containsFold(p.Brands, check.Brand) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
