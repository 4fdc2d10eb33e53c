package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// PAYMENT ENTITY
// =====================================================
type Payment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	OrderID    string    `json:"order_id" db:"order_id"`

	// Amount is immutable after creation
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	RefundedAmount decimal.Decimal `json:"refunded_amount" db:"refunded_amount"`

	Method   string `json:"method" db:"method"`
	Provider string `json:"provider" db:"provider"`

	Status        statemachine.Status `json:"status" db:"status"`
	TransactionID *string             `json:"transaction_id,omitempty" db:"transaction_id"`
	FailureReason *string             `json:"failure_reason,omitempty" db:"failure_reason"`

	Split      *SplitBreakdown `json:"split,omitempty" db:"split"`
	Card       *CardToken      `json:"card,omitempty" db:"card"`
	ThreeDS    ThreeDSecure    `json:"three_ds" db:"three_ds"`
	Settlement *Settlement     `json:"settlement,omitempty" db:"settlement"`

	CustomerFingerprint string            `json:"customer_fingerprint,omitempty" db:"customer_fingerprint"`
	Metadata            map[string]string `json:"metadata" db:"metadata"`

	Version int64 `json:"version" db:"version"`

	// Timestamps
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt    *time.Time `json:"failed_at,omitempty" db:"failed_at"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	events []DomainEvent
}

// CardToken is the tokenized card reference. Never holds a PAN.
type CardToken struct {
	Token string `json:"token"`
	Last4 string `json:"last4"`
	Brand string `json:"brand"`
}

type ThreeDSecure struct {
	Status          ThreeDSStatus `json:"status,omitempty"`
	Version         string        `json:"version,omitempty"`
	CAVV            string        `json:"cavv,omitempty"`
	ECI             string        `json:"eci,omitempty"`
	XID             string        `json:"xid,omitempty"`
	TransStatus     string        `json:"trans_status,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	AuthenticatedAt *time.Time    `json:"authenticated_at,omitempty"`
}

type Settlement struct {
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	SettledAt    time.Time       `json:"settled_at"`
}

// NewPayment builds a Pending payment from a validated request.
func NewPayment(req CreatePaymentRequest, provider string, now time.Time) *Payment {
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	return &Payment{
		ID:                  uuid.New(),
		MerchantID:          req.MerchantID,
		OrderID:             req.OrderID,
		Amount:              req.Amount,
		Currency:            req.Currency,
		RefundedAmount:      decimal.Zero,
		Method:              req.Method,
		Provider:            provider,
		Status:              statemachine.StatusPending,
		Card:                req.Card,
		CustomerFingerprint: req.CustomerFingerprint,
		Metadata:            metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// =====================================================
// STATE MUTATIONS
// =====================================================
// Each mutation consults the state machine first and records exactly one
// domain event on success. A rejected mutation leaves the payment untouched.

func (p *Payment) Process(transactionID string, now time.Time) error {
	if transactionID == "" {
		return fmt.Errorf("transaction id is required to process payment %s", p.ID)
	}
	if p.TransactionID != nil {
		return fmt.Errorf("payment %s already has transaction id %s", p.ID, *p.TransactionID)
	}
	if err := p.fire(statemachine.TriggerProcess, "", now); err != nil {
		return err
	}
	p.TransactionID = &transactionID
	return nil
}

// Complete marks the payment Succeeded. settlement may be nil.
func (p *Payment) Complete(settlement *Settlement, now time.Time) error {
	if err := p.fire(statemachine.TriggerComplete, "", now); err != nil {
		return err
	}
	p.Settlement = settlement
	p.CompletedAt = &now
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if err := p.fire(statemachine.TriggerFail, reason, now); err != nil {
		return err
	}
	p.FailureReason = &reason
	p.FailedAt = &now
	return nil
}

// Refund refunds amount. Refunding the full amount fires Refund, anything
// less fires PartialRefund. refundTransactionID replaces the charge's
// transaction id, which is kept under MetadataOriginalTransactionID.
func (p *Payment) Refund(amount decimal.Decimal, refundTransactionID string, now time.Time) error {
	if !amount.IsPositive() {
		return NewRefundNotAllowedError("refund amount must be positive")
	}
	if amount.GreaterThan(p.Amount) {
		return NewRefundNotAllowedError(fmt.Sprintf("refund amount %s exceeds payment amount %s", amount, p.Amount))
	}

	trigger := statemachine.TriggerPartialRefund
	if amount.Equal(p.Amount) {
		trigger = statemachine.TriggerRefund
	}
	if err := p.fire(trigger, "", now); err != nil {
		return err
	}

	if p.TransactionID != nil {
		p.setMetadata(MetadataOriginalTransactionID, *p.TransactionID)
	}
	if refundTransactionID != "" {
		p.TransactionID = &refundTransactionID
	}
	p.RefundedAmount = amount
	p.RefundedAt = &now
	p.events[len(p.events)-1].Amount = amount
	return nil
}

func (p *Payment) Cancel(reason string, now time.Time) error {
	if err := p.fire(statemachine.TriggerCancel, reason, now); err != nil {
		return err
	}
	if reason != "" {
		p.setMetadata(MetadataCancelReason, reason)
	}
	return nil
}

func (p *Payment) fire(trigger statemachine.Trigger, reason string, now time.Time) error {
	from := p.Status
	next, err := statemachine.Fire(from, trigger)
	if err != nil {
		return err
	}

	p.Status = next
	p.UpdatedAt = now
	p.events = append(p.events, DomainEvent{
		ID:         uuid.New(),
		Type:       eventForTrigger[trigger],
		PaymentID:  p.ID,
		MerchantID: p.MerchantID,
		From:       from,
		To:         next,
		Amount:     p.Amount,
		Reason:     reason,
		OccurredAt: now,
	})
	return nil
}

func (p *Payment) setMetadata(key, value string) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
}

// SetMetadata writes a metadata entry. Used by the core for reserved keys.
func (p *Payment) SetMetadata(key, value string) {
	p.setMetadata(key, value)
}

// DeleteMetadata removes a metadata entry.
func (p *Payment) DeleteMetadata(key string) {
	delete(p.Metadata, key)
}

// Events returns events recorded since the last DrainEvents.
func (p *Payment) Events() []DomainEvent {
	return p.events
}

// DrainEvents returns and clears the recorded events.
func (p *Payment) DrainEvents() []DomainEvent {
	out := p.events
	p.events = nil
	return out
}

// =====================================================
// QUERIES
// =====================================================

// IsExpired reports whether a non-terminal payment has waited longer than
// timeout for a provider response.
func (p *Payment) IsExpired(now time.Time, timeout time.Duration) bool {
	if p.Status != statemachine.StatusPending && p.Status != statemachine.StatusProcessing {
		return false
	}
	return now.Sub(p.CreatedAt) > timeout
}

func (p *Payment) IsSuccessful() bool {
	return p.Status == statemachine.StatusSucceeded
}

// Clone returns a deep copy without pending events.
func (p *Payment) Clone() *Payment {
	cp := *p
	cp.events = nil
	if p.TransactionID != nil {
		v := *p.TransactionID
		cp.TransactionID = &v
	}
	if p.FailureReason != nil {
		v := *p.FailureReason
		cp.FailureReason = &v
	}
	if p.Split != nil {
		v := *p.Split
		cp.Split = &v
	}
	if p.Card != nil {
		v := *p.Card
		cp.Card = &v
	}
	if p.Settlement != nil {
		v := *p.Settlement
		cp.Settlement = &v
	}
	if p.ThreeDS.AuthenticatedAt != nil {
		v := *p.ThreeDS.AuthenticatedAt
		cp.ThreeDS.AuthenticatedAt = &v
	}
	cp.CompletedAt = cloneTime(p.CompletedAt)
	cp.FailedAt = cloneTime(p.FailedAt)
	cp.RefundedAt = cloneTime(p.RefundedAt)
	cp.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
