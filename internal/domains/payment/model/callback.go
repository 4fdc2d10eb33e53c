package model

import (
	"time"

	"github.com/google/uuid"
)

// CallbackLog is the durable record of one inbound provider callback.
// (Provider, EventKey) is unique; a repeat delivery of a processed event is
// acknowledged without touching the payment again.
type CallbackLog struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Provider    string     `json:"provider" db:"provider"`
	EventKey    string     `json:"event_key" db:"event_key"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	Payload     []byte     `json:"payload" db:"payload"`
	Signature   string     `json:"signature" db:"signature"`
	Processed   bool       `json:"processed" db:"processed"`
	Error       *string    `json:"error,omitempty" db:"error"`
	Attempts    int        `json:"attempts" db:"attempts"`
	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}
