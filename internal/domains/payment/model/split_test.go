package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		amount     string
		currency   string
		rule       SplitRule
		wantSystem string
		wantOwner  string
		wantFee    string
	}{
		{
			name:       "even split",
			amount:     "100.00",
			currency:   "USD",
			rule:       SplitRule{SystemPercent: d("50"), OwnerPercent: d("50")},
			wantSystem: "50",
			wantOwner:  "50",
			wantFee:    "0",
		},
		{
			name:       "remainder cent goes to larger share",
			amount:     "100.01",
			currency:   "USD",
			rule:       SplitRule{SystemPercent: d("30"), OwnerPercent: d("70"), FeePercent: d("2.5")},
			wantSystem: "30",
			wantOwner:  "70.01",
			wantFee:    "2.5",
		},
		{
			name:       "zero decimal currency",
			amount:     "1001",
			currency:   "IQD",
			rule:       SplitRule{SystemPercent: d("10"), OwnerPercent: d("90")},
			wantSystem: "100",
			wantOwner:  "901",
			wantFee:    "0",
		},
		{
			name:       "partial allocation",
			amount:     "10.00",
			currency:   "USD",
			rule:       SplitRule{SystemPercent: d("33.333"), OwnerPercent: d("33.333")},
			wantSystem: "3.33",
			wantOwner:  "3.34",
			wantFee:    "0",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CalculateSplit(d(tt.amount), tt.currency, tt.rule)
			require.NoError(t, err)
			assert.True(t, d(tt.wantSystem).Equal(got.SystemAmount), "system: %s", got.SystemAmount)
			assert.True(t, d(tt.wantOwner).Equal(got.OwnerAmount), "owner: %s", got.OwnerAmount)
			assert.True(t, d(tt.wantFee).Equal(got.FeeAmount), "fee: %s", got.FeeAmount)
		})
	}
}

func TestCalculateSplit_NeverLosesCents(t *testing.T) {
	t.Parallel()

	rule := SplitRule{SystemPercent: d("17"), OwnerPercent: d("83")}
	for cents := int64(1); cents < 2000; cents += 7 {
		amount := decimal.New(cents, -2)
		got, err := CalculateSplit(amount, "USD", rule)
		require.NoError(t, err)
		assert.True(t, amount.Equal(got.SystemAmount.Add(got.OwnerAmount)), "amount %s", amount)
	}
}

func TestSplitRule_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, SplitRule{SystemPercent: d("60"), OwnerPercent: d("50")}.Validate())
	assert.Error(t, SplitRule{SystemPercent: d("-1"), OwnerPercent: d("50")}.Validate())
	assert.Error(t, SplitRule{FeePercent: d("101")}.Validate())
	assert.NoError(t, SplitRule{SystemPercent: d("40"), OwnerPercent: d("60"), FeePercent: d("3")}.Validate())

	_, err := CalculateSplit(d("0"), "USD", SplitRule{SystemPercent: d("40"), OwnerPercent: d("60")})
	assert.Error(t, err)
}
