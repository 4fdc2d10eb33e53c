package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"payment-orchestrator/internal/domains/payment/model"
)

// =====================================================
// EMV 3-D SECURE 2.x AUTHENTICATION RESPONSE
// =====================================================

// AuthenticationResponse holds the EMV 3DS 2.x fields of an ARes (frictionless)
// or RReq (after challenge) message that matter for authorization.
type AuthenticationResponse struct {
	MessageType          string `json:"messageType"`
	MessageVersion       string `json:"messageVersion"`
	ThreeDSServerTransID string `json:"threeDSServerTransID"`
	ACSTransID           string `json:"acsTransID"`
	DSTransID            string `json:"dsTransID"`
	TransStatus          string `json:"transStatus"`
	TransStatusReason    string `json:"transStatusReason"`
	AuthenticationValue  string `json:"authenticationValue"`
	ECI                  string `json:"eci"`
}

const (
	TransStatusAuthenticated = "Y"
	TransStatusAttempted     = "A"
	TransStatusNotAuth       = "N"
	TransStatusUnavailable   = "U"
	TransStatusRejected      = "R"
	TransStatusChallenge     = "C"
)

// eciAuthenticated lists ECIs that carry liability shift (Visa 05/06,
// Mastercard 02/01).
var eciAuthenticated = map[string]bool{"01": true, "02": true, "05": true, "06": true}

var transStatusReasons = map[string]string{
	TransStatusNotAuth:     "cardholder not authenticated",
	TransStatusUnavailable: "authentication could not be performed",
	TransStatusRejected:    "authentication rejected by issuer",
	TransStatusChallenge:   "challenge was not completed",
}

// ParseAuthenticationResponse decodes raw ARes/RReq JSON and validates it.
// A well-formed negative outcome is returned as a result with
// Authenticated=false; malformed input is an error.
func ParseAuthenticationResponse(raw string) (*model.ThreeDSecureResult, error) {
	var msg AuthenticationResponse
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("invalid authentication response: %w", err)
	}

	switch msg.MessageType {
	case "ARes", "RReq":
	default:
		return nil, fmt.Errorf("unexpected 3DS message type %q", msg.MessageType)
	}
	if !strings.HasPrefix(msg.MessageVersion, "2.") {
		return nil, fmt.Errorf("unsupported 3DS message version %q", msg.MessageVersion)
	}
	if msg.ThreeDSServerTransID == "" {
		return nil, fmt.Errorf("authentication response missing threeDSServerTransID")
	}

	result := &model.ThreeDSecureResult{
		TransStatus: msg.TransStatus,
		XID:         msg.ThreeDSServerTransID,
		Version:     msg.MessageVersion,
	}

	switch msg.TransStatus {
	case TransStatusAuthenticated, TransStatusAttempted:
		if err := validateCAVV(msg.AuthenticationValue); err != nil {
			return nil, err
		}
		if !eciAuthenticated[msg.ECI] {
			return nil, fmt.Errorf("authentication response has invalid eci %q", msg.ECI)
		}
		result.Authenticated = true
		result.CAVV = msg.AuthenticationValue
		result.ECI = msg.ECI
	case TransStatusNotAuth, TransStatusUnavailable, TransStatusRejected, TransStatusChallenge:
		reason := transStatusReasons[msg.TransStatus]
		if msg.TransStatusReason != "" {
			reason = fmt.Sprintf("%s (reason code %s)", reason, msg.TransStatusReason)
		}
		result.FailureReason = reason
		result.ECI = msg.ECI
	default:
		return nil, fmt.Errorf("unknown 3DS transStatus %q", msg.TransStatus)
	}

	return result, nil
}

// validateCAVV checks the authentication value is 20 bytes of base64.
func validateCAVV(v string) error {
	if v == "" {
		return fmt.Errorf("authentication response missing authenticationValue")
	}
	decoded, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return fmt.Errorf("authenticationValue is not base64: %w", err)
	}
	if len(decoded) != 20 {
		return fmt.Errorf("authenticationValue must be 20 bytes, got %d", len(decoded))
	}
	return nil
}
