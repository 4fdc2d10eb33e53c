package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// =====================================================
// LOCAL RULE SCREEN
// =====================================================

type RuleConfig struct {
	// Per currency. Missing currencies skip the amount rules.
	BlockAmount  map[string]decimal.Decimal
	ReviewAmount map[string]decimal.Decimal

	// Payments per customer fingerprint allowed in VelocityWindow.
	VelocityLimit  int64
	VelocityWindow time.Duration
}

const (
	scoreBlockAmount    = 60
	scoreReviewAmount   = 30
	scoreVelocity       = 50
	scoreNoFingerprint  = 10
	thresholdHighRisk   = 60
	thresholdMediumRisk = 30
)

// RuleScreener scores locally: amount thresholds plus a per-customer
// velocity counter in Redis.
type RuleScreener struct {
	config RuleConfig
	redis  redis.UniversalClient
	prefix string
}

// NewRuleScreener creates a rule screen. client may be nil to disable the
// velocity rule.
func NewRuleScreener(config RuleConfig, client redis.UniversalClient) *RuleScreener {
	if config.VelocityWindow <= 0 {
		config.VelocityWindow = time.Hour
	}
	return &RuleScreener{config: config, redis: client, prefix: "fraud:velocity"}
}

func (s *RuleScreener) Check(ctx context.Context, req CheckRequest) (*Assessment, error) {
	var (
		score   int64
		reasons []string
	)

	currency := strings.ToUpper(req.Currency)
	if limit, ok := s.config.BlockAmount[currency]; ok && req.Amount.GreaterThan(limit) {
		score += scoreBlockAmount
		reasons = append(reasons, fmt.Sprintf("amount exceeds %s %s limit", limit, currency))
	} else if limit, ok := s.config.ReviewAmount[currency]; ok && req.Amount.GreaterThan(limit) {
		score += scoreReviewAmount
		reasons = append(reasons, fmt.Sprintf("amount above %s %s review threshold", limit, currency))
	}

	if req.CustomerFingerprint == "" {
		score += scoreNoFingerprint
		reasons = append(reasons, "no customer fingerprint")
	} else if s.redis != nil && s.config.VelocityLimit > 0 {
		count, err := s.incrementVelocity(ctx, req.CustomerFingerprint)
		if err != nil {
			return nil, err
		}
		if count > s.config.VelocityLimit {
			score += scoreVelocity
			reasons = append(reasons, fmt.Sprintf("%d payments within %s", count, s.config.VelocityWindow))
		}
	}

	level := RiskLow
	switch {
	case score >= thresholdHighRisk:
		level = RiskHigh
	case score >= thresholdMediumRisk:
		level = RiskMedium
	}

	return &Assessment{
		RiskLevel: level,
		Score:     decimal.NewFromInt(score),
		Reasons:   reasons,
	}, nil
}

func (s *RuleScreener) incrementVelocity(ctx context.Context, fingerprint string) (int64, error) {
	key := fmt.Sprintf("%s:%s", s.prefix, fingerprint)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment velocity counter: %w", err)
	}
	if count == 1 {
		if err := s.redis.PExpire(ctx, key, s.config.VelocityWindow).Err(); err != nil {
			return 0, fmt.Errorf("failed to set velocity window: %w", err)
		}
	}
	return count, nil
}
