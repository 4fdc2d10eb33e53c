package model

import (
	"encoding/json"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

var (
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
)

// ScheduleRequest describes a durable delivery. MaxRetries <= 0 means
// DefaultMaxRetries.
type ScheduleRequest struct {
	PaymentID  uuid.UUID       `json:"payment_id"`
	EventID    *uuid.UUID      `json:"event_id,omitempty"`
	EndpointID *uuid.UUID      `json:"endpoint_id,omitempty"`
	URL        string          `json:"url"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries"`
}

func (r ScheduleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PaymentID, validation.Required),
		validation.Field(&r.URL, validation.Required, is.URL),
		validation.Field(&r.EventType, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Payload, validation.Required),
	)
}

type CreateEndpointRequest struct {
	MerchantID string   `json:"merchant_id"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	Events     []string `json:"events"`
}

func (r CreateEndpointRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MerchantID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.URL, validation.Required, is.URL),
		validation.Field(&r.Secret, validation.Length(0, 256)),
	)
}
