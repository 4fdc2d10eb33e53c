package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =====================================================
// CALLBACK SIGNATURE GENERATION & VERIFICATION
// =====================================================

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrMissingTimestamp  = errors.New("missing timestamp")
	ErrStaleTimestamp    = errors.New("timestamp outside tolerance")
)

const DefaultSignatureTolerance = 5 * time.Minute

// GenerateSignature returns hex(HMAC-SHA256(secret, message)).
//
// message is "<timestamp>.<payload>" when a timestamp is given, otherwise the
// raw payload.
func GenerateSignature(secret string, payload []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureVerifier gates inbound provider callbacks.
type SignatureVerifier struct {
	Secret           string
	RequireTimestamp bool
	Tolerance        time.Duration
	Now              func() time.Time
}

func NewSignatureVerifier(secret string, requireTimestamp bool) *SignatureVerifier {
	return &SignatureVerifier{
		Secret:           secret,
		RequireTimestamp: requireTimestamp,
		Tolerance:        DefaultSignatureTolerance,
		Now:              time.Now,
	}
}

// Verify checks signature over payload (and timestamp when present) in
// constant time. A "sha256=" prefix on the signature is accepted.
func (v *SignatureVerifier) Verify(payload []byte, signature, timestamp string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrMissingSignature
	}
	if v.Secret == "" {
		return fmt.Errorf("callback secret is not configured")
	}

	if timestamp == "" {
		if v.RequireTimestamp {
			return ErrMissingTimestamp
		}
	} else if err := v.checkTimestamp(timestamp); err != nil {
		return err
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	want, _ := hex.DecodeString(GenerateSignature(v.Secret, payload, timestamp))
	if !hmac.Equal(got, want) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *SignatureVerifier) checkTimestamp(timestamp string) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a unix timestamp", ErrStaleTimestamp, timestamp)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	skew := now().Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrStaleTimestamp
	}
	return nil
}
