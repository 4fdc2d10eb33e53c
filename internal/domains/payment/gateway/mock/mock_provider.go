package mock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// MOCK PROVIDER FOR DEVELOPMENT AND TESTING
// =====================================================

type Provider struct {
	name     string
	verifier *gateway.SignatureVerifier
	seq      atomic.Int64
	calls    atomic.Int64

	mu                sync.Mutex
	shouldFailPayment bool
	shouldFailRefund  bool
	callErr           error
	captured          bool
	delay             time.Duration
	policy            *gateway.ThreeDSPolicy
}

// CallbackBody is the JSON shape the mock provider posts to callbacks.
type CallbackBody struct {
	EventID       string `json:"event_id"`
	PaymentID     string `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

func NewProvider(name, callbackSecret string) *Provider {
	return &Provider{
		name:     name,
		verifier: gateway.NewSignatureVerifier(callbackSecret, false),
	}
}

func (m *Provider) Name() string {
	return m.name
}

func (m *Provider) ProcessPayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	m.calls.Add(1)

	m.mu.Lock()
	delay, callErr, decline, captured := m.delay, m.callErr, m.shouldFailPayment, m.captured
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if callErr != nil {
		return nil, callErr
	}
	if decline {
		return &gateway.PaymentResult{
			Success:       false,
			FailureReason: "mock decline: insufficient funds",
		}, nil
	}

	return &gateway.PaymentResult{
		Success:       true,
		TransactionID: fmt.Sprintf("MOCK_%s_%d", m.name, m.seq.Add(1)),
		Captured:      captured,
		ProviderMetadata: map[string]string{
			"mock_payment_id": req.PaymentID.String(),
		},
	}, nil
}

func (m *Provider) VerifyCallback(_ context.Context, data gateway.CallbackData) (*gateway.CallbackResult, error) {
	if err := m.verifier.Verify(data.Payload, data.Signature, data.Timestamp); err != nil {
		return nil, err
	}

	var body CallbackBody
	if err := json.Unmarshal(data.Payload, &body); err != nil {
		return nil, fmt.Errorf("failed to decode mock callback: %w", err)
	}

	return &gateway.CallbackResult{
		Success:          body.Status == "success",
		TransactionID:    body.TransactionID,
		PaymentReference: body.PaymentID,
		FailureReason:    body.Reason,
		EventID:          body.EventID,
	}, nil
}

func (m *Provider) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	m.mu.Lock()
	fail := m.shouldFailRefund
	m.mu.Unlock()

	if fail {
		return &gateway.RefundResult{Success: false, FailureReason: "mock refund declined"}, nil
	}
	return &gateway.RefundResult{
		Success:             true,
		RefundTransactionID: fmt.Sprintf("MOCK_REFUND_%s_%d", m.name, m.seq.Add(1)),
	}, nil
}

func (m *Provider) RequiresThreeDSecure(_ context.Context, check gateway.ThreeDSCheck) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy == nil {
		return false, nil
	}
	return m.policy.Requires(check), nil
}

func (m *Provider) InitiateThreeDSecure(_ context.Context, req gateway.ThreeDSInitiateRequest) (*model.ThreeDSecureChallenge, error) {
	creq, err := json.Marshal(map[string]string{
		"messageType":          "CReq",
		"messageVersion":       "2.2.0",
		"threeDSServerTransID": req.PaymentID.String(),
		"challengeWindowSize":  "05",
	})
	if err != nil {
		return nil, err
	}

	return &model.ThreeDSecureChallenge{
		ACSURL:      "https://mock-acs.local/challenge",
		AuthRequest: base64.RawURLEncoding.EncodeToString(creq),
		MD:          req.MD,
		TermURL:     req.TermURL,
		Version:     "2.2.0",
	}, nil
}

func (m *Provider) CompleteThreeDSecure(_ context.Context, req gateway.ThreeDSCompleteRequest) (*model.ThreeDSecureResult, error) {
	return gateway.ParseAuthenticationResponse(req.ARes)
}

// =====================================================
// TEST CONTROLS
// =====================================================

// SetFailPayment makes ProcessPayment decline
func (m *Provider) SetFailPayment(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailPayment = fail
}

// SetFailRefund makes Refund decline
func (m *Provider) SetFailRefund(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailRefund = fail
}

// SetError makes ProcessPayment return err
func (m *Provider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callErr = err
}

// SetCaptured makes successful charges settle synchronously
func (m *Provider) SetCaptured(captured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = captured
}

func (m *Provider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *Provider) SetThreeDSPolicy(policy *gateway.ThreeDSPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

// Calls returns how many times ProcessPayment ran.
func (m *Provider) Calls() int {
	return int(m.calls.Load())
}
