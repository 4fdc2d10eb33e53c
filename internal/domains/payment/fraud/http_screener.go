package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPScreener calls an external scoring service.
//
// POST {BaseURL}/v1/assessments with the CheckRequest as JSON; the response
// is an Assessment.
type HTTPScreener struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPScreener(baseURL, apiKey string, timeout time.Duration) *HTTPScreener {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScreener{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScreener) Check(ctx context.Context, req CheckRequest) (*Assessment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fraud check: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/assessments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create fraud check request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call fraud screen: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read fraud screen response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fraud screen returned %d", resp.StatusCode)
	}

	var assessment Assessment
	if err := json.Unmarshal(respBody, &assessment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fraud assessment: %w", err)
	}

	switch assessment.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return nil, fmt.Errorf("fraud screen returned unknown risk level %q", assessment.RiskLevel)
	}
	return &assessment, nil
}
