package threeds

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
	repo "payment-orchestrator/internal/domains/payment/repository"
	"payment-orchestrator/pkg/database"
	"payment-orchestrator/pkg/jwt"
	"payment-orchestrator/pkg/keylock"
)

// =====================================================
// 3-D SECURE COORDINATOR
// =====================================================
// The 3-D Secure overlay lives on Payment.ThreeDS and never moves the
// primary payment status. CompletePayment on the payment service reads it.

type Service interface {
	// Initiate starts authentication for a card payment. It returns nil
	// when the provider does not require 3-D Secure.
	Initiate(ctx context.Context, paymentID uuid.UUID, returnURL string) (*model.ThreeDSecureChallenge, error)

	// Complete validates the issuer's authentication response. md must be
	// the value handed out by Initiate.
	Complete(ctx context.Context, paymentID uuid.UUID, req model.CompleteThreeDSRequest) (*model.Payment, error)
}

type Config struct {
	// MDTTL bounds how long a challenge may stay open.
	MDTTL time.Duration
}

type coordinator struct {
	payments  repo.PaymentRepository
	registry  *gateway.Registry
	txManager database.TxManager
	locks     *keylock.KeyLock
	tokens    *jwt.Manager
	config    Config
	now       func() time.Time
}

// NewService creates the coordinator. locks must be the same KeyLock the
// payment service uses so both serialize on the payment.
func NewService(
	payments repo.PaymentRepository,
	registry *gateway.Registry,
	txManager database.TxManager,
	locks *keylock.KeyLock,
	tokens *jwt.Manager,
	config Config,
) Service {
	if config.MDTTL <= 0 {
		config.MDTTL = 15 * time.Minute
	}
	if txManager == nil {
		txManager = database.NoopTxManager{}
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &coordinator{
		payments:  payments,
		registry:  registry,
		txManager: txManager,
		locks:     locks,
		tokens:    tokens,
		config:    config,
		now:       time.Now,
	}
}

// =====================================================
// INITIATE
// =====================================================

func (c *coordinator) Initiate(ctx context.Context, paymentID uuid.UUID, returnURL string) (*model.ThreeDSecureChallenge, error) {
	if err := (model.InitiateThreeDSRequest{ReturnURL: returnURL}).Validate(); err != nil {
		return nil, model.NewValidationError("Invalid 3-D Secure request", err)
	}

	unlock := c.locks.Lock(paymentID.String())
	defer unlock()

	payment, err := c.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Card == nil {
		return nil, model.NewPaymentError(model.ErrValidation, model.ErrCodeValidation, "Payment has no card token", model.ErrNoCardToken)
	}
	if payment.Status.IsTerminal() || payment.IsSuccessful() {
		return nil, model.NewValidationError(fmt.Sprintf("Cannot start 3-D Secure for a %s payment", payment.Status), nil)
	}
	switch payment.ThreeDS.Status {
	case model.ThreeDSAuthenticated, model.ThreeDSFailed:
		return nil, model.NewValidationError("3-D Secure authentication already completed", nil)
	}

	provider, ok := c.threeDSProvider(payment.Provider)
	required := false
	if ok {
		required, err = provider.RequiresThreeDSecure(ctx, gateway.ThreeDSCheck{
			Amount:   payment.Amount,
			Currency: payment.Currency,
			Brand:    payment.Card.Brand,
		})
		if err != nil {
			return nil, providerError(payment.Provider, "3-D Secure check failed", err)
		}
	}

	if !required {
		payment.ThreeDS.Status = model.ThreeDSNotRequired
		if err := c.save(ctx, payment); err != nil {
			return nil, err
		}
		log.Info().Str("payment_id", payment.ID.String()).Msg("3-D Secure not required")
		return nil, nil
	}

	md, err := c.tokens.GenerateMerchantData(payment.ID, c.config.MDTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate merchant data: %w", err)
	}

	req := gateway.ThreeDSInitiateRequest{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Card:      *payment.Card,
		TermURL:   returnURL,
		MD:        md,
	}
	if payment.TransactionID != nil {
		req.TransactionID = *payment.TransactionID
	}

	challenge, err := provider.InitiateThreeDSecure(ctx, req)
	if err != nil {
		payment.ThreeDS.Status = model.ThreeDSRequired
		if saveErr := c.save(context.WithoutCancel(ctx), payment); saveErr != nil {
			log.Error().Err(saveErr).Str("payment_id", payment.ID.String()).Msg("Failed to store 3-D Secure state")
		}
		return nil, providerError(payment.Provider, "3-D Secure initiation failed", err)
	}
	challenge.MD = md
	if challenge.TermURL == "" {
		challenge.TermURL = returnURL
	}

	payment.ThreeDS = model.ThreeDSecure{
		Status:  model.ThreeDSChallenged,
		Version: challenge.Version,
	}
	payment.SetMetadata(model.MetadataThreeDSMD, md)
	if err := c.save(ctx, payment); err != nil {
		return nil, err
	}

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("provider", payment.Provider).
		Str("version", challenge.Version).
		Msg("3-D Secure challenge issued")
	return challenge, nil
}

// =====================================================
// COMPLETE
// =====================================================

func (c *coordinator) Complete(ctx context.Context, paymentID uuid.UUID, req model.CompleteThreeDSRequest) (*model.Payment, error) {
	// md is checked before anything else in the response.
	if req.MD == "" {
		return nil, model.NewMerchantDataMismatchError()
	}

	unlock := c.locks.Lock(paymentID.String())
	defer unlock()

	payment, err := c.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if !c.merchantDataMatches(payment, req.MD) {
		log.Warn().Str("payment_id", payment.ID.String()).Msg("3-D Secure merchant data mismatch")
		return nil, model.NewMerchantDataMismatchError()
	}

	if err := req.Validate(); err != nil {
		return nil, model.NewValidationError("Invalid 3-D Secure response", err)
	}

	provider, ok := c.threeDSProvider(payment.Provider)
	if !ok {
		return nil, model.NewValidationError(fmt.Sprintf("Provider %s does not support 3-D Secure", payment.Provider), nil)
	}

	completeReq := gateway.ThreeDSCompleteRequest{
		PaymentID: payment.ID,
		PaReq:     req.PaReq,
		ARes:      req.ARes,
		MD:        req.MD,
	}
	if payment.TransactionID != nil {
		completeReq.TransactionID = *payment.TransactionID
	}

	result, err := provider.CompleteThreeDSecure(ctx, completeReq)
	if err != nil {
		if gateway.IsTransient(err) {
			return nil, providerError(payment.Provider, "3-D Secure completion failed", err)
		}
		return nil, model.NewValidationError("Invalid authentication response", err)
	}

	now := c.now()
	three := model.ThreeDSecure{
		Version:     result.Version,
		TransStatus: result.TransStatus,
		ECI:         result.ECI,
		XID:         result.XID,
	}
	if three.Version == "" {
		three.Version = payment.ThreeDS.Version
	}
	if result.Authenticated {
		three.Status = model.ThreeDSAuthenticated
		three.CAVV = result.CAVV
		three.AuthenticatedAt = &now
	} else {
		three.Status = model.ThreeDSFailed
		three.FailureReason = result.FailureReason
	}

	payment.ThreeDS = three
	payment.DeleteMetadata(model.MetadataThreeDSMD)
	payment.UpdatedAt = now
	if err := c.save(ctx, payment); err != nil {
		return nil, err
	}

	log.Info().
		Str("payment_id", payment.ID.String()).
		Str("three_ds_status", string(three.Status)).
		Str("trans_status", three.TransStatus).
		Msg("3-D Secure authentication completed")
	return payment, nil
}

// =====================================================
// HELPERS
// =====================================================

// merchantDataMatches requires both the stored copy and a valid signature
// bound to this payment.
func (c *coordinator) merchantDataMatches(payment *model.Payment, md string) bool {
	stored := payment.Metadata[model.MetadataThreeDSMD]
	if stored == "" || payment.ThreeDS.Status != model.ThreeDSChallenged {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(md)) != 1 {
		return false
	}
	if err := c.tokens.ValidateMerchantData(md, payment.ID); err != nil {
		log.Warn().Err(err).Str("payment_id", payment.ID.String()).Msg("Rejected 3-D Secure merchant data")
		return false
	}
	return true
}

func (c *coordinator) threeDSProvider(name string) (gateway.ThreeDSecureProvider, bool) {
	adapter, ok := c.registry.Get(name)
	if !ok {
		return nil, false
	}
	provider, ok := adapter.(gateway.ThreeDSecureProvider)
	return provider, ok
}

func (c *coordinator) save(ctx context.Context, payment *model.Payment) error {
	return c.txManager.WithinTx(ctx, func(ctx context.Context) error {
		return c.payments.Update(ctx, payment)
	})
}

func providerError(provider, reason string, err error) *model.ProviderError {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &model.ProviderError{
		Provider:  provider,
		Reason:    reason,
		Transient: gateway.IsTransient(err),
		Err:       err,
	}
}
