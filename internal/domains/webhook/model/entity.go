package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ================================================
// WEBHOOK DELIVERY
// ================================================

// Delivery is one outbound notification of one payment event to one URL.
type Delivery struct {
	ID         uuid.UUID       `json:"id"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	EventID    *uuid.UUID      `json:"event_id,omitempty"`
	EndpointID *uuid.UUID      `json:"endpoint_id,omitempty"`
	URL        string          `json:"url"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`

	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	LastStatusCode *int    `json:"last_status_code,omitempty"`
	LastError      *string `json:"last_error,omitempty"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LeaseUntil  *time.Time `json:"lease_until,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Delivery statuses
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusInFlight  = "in_flight"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

const DefaultMaxRetries = 5

// IsReadyForRetry: pending, retries left, and the scheduled time has passed.
func (d *Delivery) IsReadyForRetry(now time.Time) bool {
	if d.Status != DeliveryStatusPending || d.RetryCount > d.MaxRetries {
		return false
	}
	return d.NextRetryAt == nil || !d.NextRetryAt.After(now)
}

// IsExhausted reports whether no further attempt will be made.
func (d *Delivery) IsExhausted() bool {
	return d.Status == DeliveryStatusFailed || d.RetryCount > d.MaxRetries
}

// IsLeaseExpired reports whether an in-flight claim was abandoned.
func (d *Delivery) IsLeaseExpired(now time.Time) bool {
	return d.Status == DeliveryStatusInFlight && d.LeaseUntil != nil && d.LeaseUntil.Before(now)
}

// Claim marks the delivery in flight until leaseUntil.
func (d *Delivery) Claim(now, leaseUntil time.Time) {
	d.Status = DeliveryStatusInFlight
	d.LeaseUntil = &leaseUntil
	d.UpdatedAt = now
}

// RecordAttempt applies the outcome of one delivery attempt.
//
// Success -> Delivered. Failure -> RetryCount+1, then Failed once RetryCount
// exceeds MaxRetries, otherwise Pending with NextRetryAt from backoff.
func (d *Delivery) RecordAttempt(result Result, backoff Backoff, now time.Time) {
	d.LeaseUntil = nil
	d.UpdatedAt = now
	if result.StatusCode > 0 {
		code := result.StatusCode
		d.LastStatusCode = &code
	}

	if result.Success {
		d.Status = DeliveryStatusDelivered
		d.DeliveredAt = &now
		d.NextRetryAt = nil
		d.LastError = nil
		return
	}

	d.RetryCount++
	errMsg := result.Error
	d.LastError = &errMsg

	if d.RetryCount > d.MaxRetries {
		d.Status = DeliveryStatusFailed
		d.NextRetryAt = nil
		return
	}

	next := now.Add(backoff.Delay(d.RetryCount))
	d.Status = DeliveryStatusPending
	d.NextRetryAt = &next
}

// ================================================
// ATTEMPT RESULT
// ================================================

// Result is the outcome of a single POST. Error is empty on success.
type Result struct {
	Success      bool          `json:"success"`
	StatusCode   int           `json:"status_code,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
}

// ================================================
// MERCHANT ENDPOINT
// ================================================

type Endpoint struct {
	ID         uuid.UUID `json:"id"`
	MerchantID string    `json:"merchant_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	// Events lists subscribed event types; empty means all.
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Endpoint) Subscribes(eventType string) bool {
	if !e.Active {
		return false
	}
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == "*" || strings.EqualFold(ev, eventType) {
			return true
		}
	}
	return false
}

// StaticEndpointID derives a stable id for an endpoint that only exists in
// configuration, so deduplication keys survive restarts.
func StaticEndpointID(merchantID, url string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(merchantID+"|"+url))
}

// Clone returns a copy that shares no pointers with d.
func (d *Delivery) Clone() *Delivery {
	c := *d
	c.Payload = append(json.RawMessage(nil), d.Payload...)
	c.EventID = cloneUUID(d.EventID)
	c.EndpointID = cloneUUID(d.EndpointID)
	if d.LastStatusCode != nil {
		v := *d.LastStatusCode
		c.LastStatusCode = &v
	}
	if d.LastError != nil {
		v := *d.LastError
		c.LastError = &v
	}
	c.NextRetryAt = cloneTime(d.NextRetryAt)
	c.LeaseUntil = cloneTime(d.LeaseUntil)
	c.DeliveredAt = cloneTime(d.DeliveredAt)
	return &c
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
