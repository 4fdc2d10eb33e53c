package httpprovider

import (
	"fmt"
	"strings"
	"time"

	"payment-orchestrator/internal/domains/payment/gateway"
)

// Config describes one JSON-over-HTTPS provider (ZainCash, FIB, QiCard).
type Config struct {
	Name           string
	BaseURL        string // e.g. https://api.zaincash.iq
	APIKey         string
	SigningSecret  string // signs outbound requests (HMAC-SHA256)
	CallbackSecret string // verifies inbound callbacks
	Timeout        time.Duration
	// ThreeDS is nil for providers without card 3-D Secure.
	ThreeDS *gateway.ThreeDSPolicy
}

const (
	paymentsPath        = "/v1/payments"
	refundsPath         = "/v1/refunds"
	threeDSInitiatePath = "/v1/3ds/authentications"
)

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http") {
		return fmt.Errorf("provider %s: base url %q is invalid", c.Name, c.BaseURL)
	}
	return nil
}

func (c *Config) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
