package model

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// CREATE PAYMENT REQUEST
// =====================================================

type CreatePaymentRequest struct {
	MerchantID          string            `json:"merchant_id"`
	OrderID             string            `json:"order_id"`
	Amount              decimal.Decimal   `json:"amount"`
	Currency            string            `json:"currency"`
	Method              string            `json:"method"`
	Provider            string            `json:"provider,omitempty"`
	Card                *CardToken        `json:"card,omitempty"`
	Split               *SplitRule        `json:"split,omitempty"`
	CustomerFingerprint string            `json:"customer_fingerprint,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

func (r CreatePaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MerchantID, validation.Required.Error("merchant_id is required"), validation.Length(1, 64)),
		validation.Field(&r.OrderID, validation.Required.Error("order_id is required"), validation.Length(1, 128)),
		validation.Field(&r.Amount, validation.By(positiveAmount(r.Currency))),
		validation.Field(&r.Currency, validation.Required, is.CurrencyCode),
		validation.Field(&r.Method, validation.Required, validation.In(MethodCard, MethodWallet, MethodBank).Error("unsupported payment method")),
		validation.Field(&r.Provider, validation.Length(0, 32)),
		validation.Field(&r.Card, validation.When(r.Method == MethodCard, validation.Required.Error("card is required for card payments"))),
		validation.Field(&r.Split),
		validation.Field(&r.CustomerFingerprint, validation.Length(0, 128)),
		validation.Field(&r.Metadata, validation.By(validateMetadata)),
	)
}

func (c CardToken) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.Last4, validation.Required, validation.Length(4, 4), is.Digit),
		validation.Field(&c.Brand, validation.Required, validation.Length(1, 32)),
	)
}

func positiveAmount(currency string) validation.RuleFunc {
	return func(value interface{}) error {
		amount, _ := value.(decimal.Decimal)
		if !amount.IsPositive() {
			return errors.New("amount must be positive")
		}
		if currency != "" && !HasValidPrecision(amount, currency) {
			return fmt.Errorf("amount has more than %d decimal places for %s", MinorUnits(currency), currency)
		}
		return nil
	}
}

func validateMetadata(value interface{}) error {
	metadata, _ := value.(map[string]string)
	if len(metadata) > MaxMetadataEntries {
		return fmt.Errorf("metadata must not have more than %d entries", MaxMetadataEntries)
	}
	for _, reserved := range ReservedMetadataKeys {
		if _, ok := metadata[reserved]; ok {
			return fmt.Errorf("metadata key %q is reserved", reserved)
		}
	}
	for k, v := range metadata {
		if k == "" {
			return errors.New("metadata keys must not be empty")
		}
		if len(v) > MaxMetadataValueLength {
			return fmt.Errorf("metadata value for %q exceeds %d characters", k, MaxMetadataValueLength)
		}
	}
	return nil
}

// =====================================================
// LIFECYCLE REQUESTS
// =====================================================

type RefundPaymentRequest struct {
	// Amount defaults to the full payment amount when zero.
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (r RefundPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.By(func(value interface{}) error {
			amount, _ := value.(decimal.Decimal)
			if amount.IsNegative() {
				return errors.New("amount must not be negative")
			}
			return nil
		})),
		validation.Field(&r.Reason, validation.Length(0, 255)),
	)
}

type CancelPaymentRequest struct {
	Reason string `json:"reason"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason"`
}

func (r FailPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 500)),
	)
}

type InitiateThreeDSRequest struct {
	ReturnURL string `json:"return_url"`
}

func (r InitiateThreeDSRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ReturnURL, validation.Required, is.URL),
	)
}

type CompleteThreeDSRequest struct {
	PaReq string `json:"pareq"`
	ARes  string `json:"ares"`
	MD    string `json:"md"`
}

func (r CompleteThreeDSRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MD, validation.Required),
		validation.Field(&r.ARes, validation.Required),
	)
}

type ListPaymentsRequest struct {
	MerchantID string `form:"merchant_id"`
	OrderID    string `form:"order_id"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

func (r *ListPaymentsRequest) Normalize() {
	if r.Limit <= 0 {
		r.Limit = DefaultListLimit
	}
	if r.Limit > MaxListLimit {
		r.Limit = MaxListLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
}

// =====================================================
// PAYMENT RESPONSE
// =====================================================

// PaymentResponse is the external shape of a payment. It is also the body
// of outbound webhooks.
type PaymentResponse struct {
	ID             uuid.UUID           `json:"id"`
	MerchantID     string              `json:"merchant_id"`
	OrderID        string              `json:"order_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	RefundedAmount decimal.Decimal     `json:"refunded_amount"`
	Method         string              `json:"method"`
	Provider       string              `json:"provider"`
	Status         statemachine.Status `json:"status"`
	TransactionID  *string             `json:"transaction_id,omitempty"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	Split          *SplitBreakdown     `json:"split,omitempty"`
	CardLast4      string              `json:"card_last4,omitempty"`
	CardBrand      string              `json:"card_brand,omitempty"`
	ThreeDSStatus  ThreeDSStatus       `json:"three_ds_status,omitempty"`
	Settlement     *Settlement         `json:"settlement,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (p *Payment) ToResponse() PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID,
		MerchantID:     p.MerchantID,
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		RefundedAmount: p.RefundedAmount,
		Method:         p.Method,
		Provider:       p.Provider,
		Status:         p.Status,
		TransactionID:  p.TransactionID,
		FailureReason:  p.FailureReason,
		Split:          p.Split,
		ThreeDSStatus:  p.ThreeDS.Status,
		Settlement:     p.Settlement,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.Card != nil {
		resp.CardLast4 = p.Card.Last4
		resp.CardBrand = p.Card.Brand
	}
	if len(p.Metadata) > 0 {
		resp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			// The outstanding MD never leaves the service.
			if k == MetadataThreeDSMD {
				continue
			}
			resp.Metadata[k] = v
		}
	}
	return resp
}

// WebhookPayload is what merchants receive for a payment event.
type WebhookPayload struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payment    PaymentResponse `json:"payment"`
}
