package httpprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// JSON PROVIDER CLIENT
// =====================================================

type Client struct {
	config     *Config
	httpClient *http.Client
	verifier   *gateway.SignatureVerifier
	now        func() time.Time
}

// NewClient creates a client for one configured provider
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		verifier: gateway.NewSignatureVerifier(config.CallbackSecret, true),
		now:      time.Now,
	}, nil
}

func (c *Client) Name() string {
	return c.config.Name
}

// =====================================================
// PROCESS PAYMENT
// =====================================================

func (c *Client) ProcessPayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	body := chargeRequest{
		Reference:  req.PaymentID.String(),
		MerchantID: req.MerchantID,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Method:     req.Method,
		Metadata:   req.Metadata,
	}
	if req.Card != nil {
		body.CardToken = req.Card.Token
	}

	var resp chargeResponse
	if err := c.post(ctx, paymentsPath, req.PaymentID.String(), body, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case statusApproved, statusPending:
		return &gateway.PaymentResult{Success: true, TransactionID: resp.TransactionID, ProviderMetadata: resp.Metadata}, nil
	case statusCaptured:
		return &gateway.PaymentResult{Success: true, Captured: true, TransactionID: resp.TransactionID, ProviderMetadata: resp.Metadata}, nil
	case statusDeclined:
		return &gateway.PaymentResult{Success: false, FailureReason: resp.Reason, ProviderMetadata: resp.Metadata}, nil
	default:
		return nil, fmt.Errorf("%s returned unknown payment status %q", c.config.Name, resp.Status)
	}
}

// =====================================================
// REFUND
// =====================================================

func (c *Client) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	body := refundRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Reason:        req.Reason,
	}

	var resp refundResponse
	idemKey := fmt.Sprintf("%s:refund:%s", req.PaymentID, req.Amount.String())
	if err := c.post(ctx, refundsPath, idemKey, body, &resp); err != nil {
		return nil, err
	}

	if resp.Status != statusSuccess && resp.Status != statusApproved {
		return &gateway.RefundResult{Success: false, FailureReason: resp.Reason}, nil
	}
	return &gateway.RefundResult{Success: true, RefundTransactionID: resp.RefundID}, nil
}

// =====================================================
// CALLBACKS
// =====================================================

// VerifyCallback requires a timestamped signature and decodes the body.
func (c *Client) VerifyCallback(_ context.Context, data gateway.CallbackData) (*gateway.CallbackResult, error) {
	if err := c.verifier.Verify(data.Payload, data.Signature, data.Timestamp); err != nil {
		return nil, err
	}

	var body callbackBody
	if err := json.Unmarshal(data.Payload, &body); err != nil {
		return nil, fmt.Errorf("failed to decode %s callback: %w", c.config.Name, err)
	}
	if body.TransactionID == "" && body.PaymentReference == "" {
		return nil, fmt.Errorf("%s callback carries no payment reference", c.config.Name)
	}

	return &gateway.CallbackResult{
		Success:          body.Status == statusSuccess || body.Status == statusCaptured,
		TransactionID:    body.TransactionID,
		PaymentReference: body.PaymentReference,
		FailureReason:    body.Reason,
		EventID:          body.EventID,
	}, nil
}

// =====================================================
// 3-D SECURE
// =====================================================

func (c *Client) RequiresThreeDSecure(_ context.Context, check gateway.ThreeDSCheck) (bool, error) {
	if c.config.ThreeDS == nil {
		return false, nil
	}
	return c.config.ThreeDS.Requires(check), nil
}

func (c *Client) InitiateThreeDSecure(ctx context.Context, req gateway.ThreeDSInitiateRequest) (*model.ThreeDSecureChallenge, error) {
	body := threeDSInitiateRequest{
		Reference:       req.PaymentID.String(),
		TransactionID:   req.TransactionID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		CardToken:       req.Card.Token,
		NotificationURL: req.TermURL,
		MD:              req.MD,
	}

	var resp threeDSInitiateResponse
	if err := c.post(ctx, threeDSInitiatePath, req.PaymentID.String()+":3ds", body, &resp); err != nil {
		return nil, err
	}
	if resp.ACSURL == "" {
		return nil, fmt.Errorf("%s returned a challenge without acs_url", c.config.Name)
	}

	return &model.ThreeDSecureChallenge{
		ACSURL:      resp.ACSURL,
		AuthRequest: resp.CReq,
		MD:          req.MD,
		TermURL:     req.TermURL,
		Version:     resp.MessageVersion,
	}, nil
}

// CompleteThreeDSecure validates the RReq/ARes the ACS posted back.
func (c *Client) CompleteThreeDSecure(_ context.Context, req gateway.ThreeDSCompleteRequest) (*model.ThreeDSecureResult, error) {
	return gateway.ParseAuthenticationResponse(req.ARes)
}

// =====================================================
// HTTP PLUMBING
// =====================================================

// post sends a signed JSON request. Network failures, timeouts, 429 and 5xx
// are wrapped with gateway.ErrTransient.
func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.url(path), bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	httpReq.Header.Set("X-Timestamp", timestamp)
	if c.config.SigningSecret != "" {
		httpReq.Header.Set("X-Signature", gateway.GenerateSignature(c.config.SigningSecret, bodyJSON, timestamp))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("failed to call %s API: %w: %v", c.config.Name, gateway.ErrTransient, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w: %v", c.config.Name, gateway.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%s API returned %d: %w", c.config.Name, resp.StatusCode, gateway.ErrTransient)
	}
	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.Unmarshal(bodyBytes, &apiErr)
		return fmt.Errorf("%s API rejected request (%d %s): %s", c.config.Name, resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", c.config.Name, err)
	}
	return nil
}
