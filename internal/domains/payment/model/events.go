package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-orchestrator/internal/domains/payment/statemachine"
)

// =====================================================
// DOMAIN EVENTS
// =====================================================

type EventType string

const (
	EventPaymentProcessing        EventType = "payment.processing"
	EventPaymentSucceeded         EventType = "payment.succeeded"
	EventPaymentFailed            EventType = "payment.failed"
	EventPaymentRefunded          EventType = "payment.refunded"
	EventPaymentPartiallyRefunded EventType = "payment.partially_refunded"
	EventPaymentCancelled         EventType = "payment.cancelled"
)

// eventForTrigger maps each trigger to the single event it emits.
var eventForTrigger = map[statemachine.Trigger]EventType{
	statemachine.TriggerProcess:       EventPaymentProcessing,
	statemachine.TriggerComplete:      EventPaymentSucceeded,
	statemachine.TriggerFail:          EventPaymentFailed,
	statemachine.TriggerRefund:        EventPaymentRefunded,
	statemachine.TriggerPartialRefund: EventPaymentPartiallyRefunded,
	statemachine.TriggerCancel:        EventPaymentCancelled,
}

type DomainEvent struct {
	ID         uuid.UUID           `json:"id"`
	Type       EventType           `json:"type"`
	PaymentID  uuid.UUID           `json:"payment_id"`
	MerchantID string              `json:"merchant_id"`
	From       statemachine.Status `json:"from"`
	To         statemachine.Status `json:"to"`
	Amount     decimal.Decimal     `json:"amount"`
	Reason     string              `json:"reason,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}
