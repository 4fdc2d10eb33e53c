package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeMerchantData = "3ds_md"

	issuer = "payment-orchestrator"
)

// Claims binds a token to a single payment
type Claims struct {
	PaymentID string `json:"payment_id"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// Manager handles JWT operations
type Manager struct {
	secret string
	now    func() time.Time
}

// NewManager creates new JWT manager
func NewManager(secret string) *Manager {
	return &Manager{secret: secret, now: time.Now}
}

// GenerateMerchantData issues the opaque 3-D Secure MD value for a payment.
// Every call yields a distinct token.
func (m *Manager) GenerateMerchantData(paymentID uuid.UUID, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		PaymentID: paymentID.String(),
		Type:      TypeMerchantData,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   paymentID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secret))
}

// ValidateToken validates and parses token
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// ValidateMerchantData validates an MD token for paymentID specifically
func (m *Manager) ValidateMerchantData(tokenString string, paymentID uuid.UUID) error {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return err
	}

	if claims.Type != TypeMerchantData {
		return fmt.Errorf("invalid token type: expected %s, got %s", TypeMerchantData, claims.Type)
	}
	if claims.PaymentID != paymentID.String() {
		return fmt.Errorf("token issued for payment %s", claims.PaymentID)
	}

	return nil
}
