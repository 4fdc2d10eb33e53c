package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrRateNotFound is returned when no rate is known for a currency pair.
var ErrRateNotFound = errors.New("exchange rate not found")

// RateSource returns how many units of `to` one unit of `from` buys.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

// =====================================================
// STATIC RATES
// =====================================================

// StaticRates is a fixed table keyed "FROM:TO". The inverse pair is derived
// when only one direction is configured.
type StaticRates map[string]decimal.Decimal

// ParseStaticRates parses "USD:IQD=1310,EUR:IQD=1420".
func ParseStaticRates(raw string) (StaticRates, error) {
	rates := StaticRates{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pair, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate entry %q", item)
		}
		from, to, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid currency pair %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid rate for %s: %q", pair, value)
		}
		rates[pairKey(strings.TrimSpace(from), strings.TrimSpace(to))] = rate
	}
	return rates, nil
}

func (r StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if rate, ok := r[pairKey(from, to)]; ok {
		return rate, nil
	}
	if inverse, ok := r[pairKey(to, from)]; ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).DivRound(inverse, 10), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, pairKey(from, to))
}

// =====================================================
// HTTP RATES WITH REDIS CACHE
// =====================================================

// HTTPRateSource fetches rates from GET {baseURL}/latest?base=FROM&symbols=TO
// and caches them in Redis for ttl. Concurrent misses for the same pair
// share one upstream call.
type HTTPRateSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      redis.UniversalClient
	ttl        time.Duration
	group      singleflight.Group
}

type latestRatesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func NewHTTPRateSource(baseURL, apiKey string, cache redis.UniversalClient, ttl time.Duration) *HTTPRateSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &HTTPRateSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		ttl:        ttl,
	}
}

func (s *HTTPRateSource) cacheKey(from, to string) string {
	return "fx:rate:" + pairKey(from, to)
}

func (s *HTTPRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := s.cacheKey(from, to)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
				return rate, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("pair", pairKey(from, to)).Msg("Rate cache read failed")
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		rate, err := s.fetch(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, rate.String(), s.ttl).Err(); err != nil {
				log.Warn().Err(err).Str("pair", pairKey(from, to)).Msg("Rate cache write failed")
			}
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (s *HTTPRateSource) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", strings.ToUpper(from))
	q.Set("symbols", strings.ToUpper(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create rate request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read exchange rate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate service returned %d", resp.StatusCode)
	}

	var out latestRatesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unmarshal exchange rates: %w", err)
	}
	rate, ok := out.Rates[strings.ToUpper(to)]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateNotFound, pairKey(from, to))
	}
	return rate, nil
}
