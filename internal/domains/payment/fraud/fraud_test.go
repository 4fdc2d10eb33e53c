package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/payment/model"
)

func checkRequest(amount string, fingerprint string) CheckRequest {
	return CheckRequest{
		Amount:              decimal.RequireFromString(amount),
		Currency:            "USD",
		Method:              model.MethodCard,
		MerchantID:          "m-1",
		OrderID:             "o-1",
		CustomerFingerprint: fingerprint,
	}
}

func TestRuleScreener_Amounts(t *testing.T) {
	t.Parallel()

	s := NewRuleScreener(RuleConfig{
		BlockAmount:  map[string]decimal.Decimal{"USD": decimal.NewFromInt(10000)},
		ReviewAmount: map[string]decimal.Decimal{"USD": decimal.NewFromInt(1000)},
	}, nil)

	tests := []struct {
		name   string
		amount string
		want   Decision
	}{
		{"small", "100.50", DecisionAllow},
		{"review", "1500", DecisionReview},
		{"block", "20000", DecisionBlock},
		{"at review threshold", "1000", DecisionAllow},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := s.Check(context.Background(), checkRequest(tt.amount, "fp-1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Decision())
		})
	}
}

func TestRuleScreener_Velocity(t *testing.T) {
	t.Parallel()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRuleScreener(RuleConfig{VelocityLimit: 2, VelocityWindow: time.Minute}, client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		a, err := s.Check(ctx, checkRequest("10", "fp-1"))
		require.NoError(t, err)
		assert.Equal(t, RiskLow, a.RiskLevel)
	}

	a, err := s.Check(ctx, checkRequest("10", "fp-1"))
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, a.RiskLevel)
	assert.Len(t, a.Reasons, 1)

	other, err := s.Check(ctx, checkRequest("10", "fp-2"))
	require.NoError(t, err)
	assert.Equal(t, RiskLow, other.RiskLevel)

	m.FastForward(time.Minute + time.Second)
	a, err = s.Check(ctx, checkRequest("10", "fp-1"))
	require.NoError(t, err)
	assert.Equal(t, RiskLow, a.RiskLevel)
}

func TestHTTPScreener(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assessments", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req CheckRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Amount.GreaterThan(decimal.NewFromInt(500)) {
			_, _ = w.Write([]byte(`{"risk_level":"high","score":"91.5","reasons":["bin mismatch"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"risk_level":"low","score":"3","reasons":[]}`))
	}))
	t.Cleanup(srv.Close)

	s := NewHTTPScreener(srv.URL, "key", time.Second)

	a, err := s.Check(context.Background(), checkRequest("1000", "fp"))
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, a.Decision())
	assert.True(t, a.Score.Equal(decimal.RequireFromString("91.5")))
	assert.Equal(t, []string{"bin mismatch"}, a.Reasons)

	a, err = s.Check(context.Background(), checkRequest("10", "fp"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, a.Decision())
}

type failingScreener struct{}

func (failingScreener) Check(context.Context, CheckRequest) (*Assessment, error) {
	return nil, errors.New("connection refused")
}

func TestGuard_OutagePolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, _, err := NewGuard(failingScreener{}, false).Screen(ctx, checkRequest("10", "fp"))
	require.Error(t, err)
	assert.Equal(t, model.KindTransient, model.Kind(err))

	a, decision, err := NewGuard(failingScreener{}, true).Screen(ctx, checkRequest("10", "fp"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Equal(t, []string{ReasonScreenUnavailable}, a.Reasons)
}

func TestBlockedError(t *testing.T) {
	t.Parallel()

	err := BlockedError(&Assessment{RiskLevel: RiskHigh, Score: decimal.NewFromInt(90), Reasons: []string{"velocity"}})
	assert.ErrorIs(t, err, model.ErrFraudBlocked)
	assert.Equal(t, model.KindFraudBlocked, model.Kind(err))
	assert.Contains(t, err.Error(), "velocity")
}
