package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/infrastructure/metrics"
)

// =====================================================
// HTTP SENDER
// =====================================================

const (
	HeaderEventType = "X-Event-Type"
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderDelivery  = "X-Delivery-ID"

	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in LastError.
	maxErrorBody = 512
)

type Sender struct {
	client *http.Client
	now    func() time.Time
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Send POSTs payload to url once. Any 2xx is a success. It never returns an
// error: transport failures and non-2xx responses are reported in the result.
func (s *Sender) Send(ctx context.Context, url, eventType string, payload []byte, headers map[string]string) model.Result {
	start := s.now()
	result := s.send(ctx, url, eventType, payload, headers)
	result.ResponseTime = s.now().Sub(start)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.WebhookAttempts.WithLabelValues(outcome).Inc()
	metrics.WebhookLatency.Observe(result.ResponseTime.Seconds())
	return result
}

func (s *Sender) send(ctx context.Context, url, eventType string, payload []byte, headers map[string]string) model.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "payment-orchestrator-webhooks/1.0")
	req.Header.Set(HeaderEventType, eventType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.Result{Success: true, StatusCode: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	if len(body) > 0 {
		msg += ": " + string(bytes.TrimSpace(body))
	}
	return model.Result{StatusCode: resp.StatusCode, Error: msg}
}

// SignatureHeaders signs payload the same way inbound provider callbacks
// are verified, so merchants can reuse gateway.SignatureVerifier.
func SignatureHeaders(secret string, payload []byte, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: "sha256=" + gateway.GenerateSignature(secret, payload, ts),
	}
}
