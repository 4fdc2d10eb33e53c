package model

import "time"

// =====================================================
// PROVIDERS
// =====================================================
const (
	ProviderZainCash = "ZainCash"
	ProviderFIB      = "FIB"
	ProviderQiCard   = "QiCard"
	ProviderMock     = "Mock"
)

// =====================================================
// PAYMENT METHODS
// =====================================================
const (
	MethodCard   = "card"
	MethodWallet = "wallet"
	MethodBank   = "bank_transfer"
)

var ValidMethods = []string{
	MethodCard,
	MethodWallet,
	MethodBank,
}

// =====================================================
// RESERVED METADATA KEYS
// =====================================================
// Keys written by the core. Callers may read them but must not set them.
const (
	MetadataThreeDSMD             = "3ds_md"
	MetadataOriginalTransactionID = "original_transaction_id"
	MetadataFraudReview           = "fraud_review"
	MetadataCancelReason          = "cancel_reason"
)

var ReservedMetadataKeys = []string{
	MetadataThreeDSMD,
	MetadataOriginalTransactionID,
	MetadataFraudReview,
	MetadataCancelReason,
}

// =====================================================
// 3-D SECURE STATUS
// =====================================================
type ThreeDSStatus string

const (
	ThreeDSNone          ThreeDSStatus = ""
	ThreeDSNotRequired   ThreeDSStatus = "not_required"
	ThreeDSRequired      ThreeDSStatus = "required"
	ThreeDSChallenged    ThreeDSStatus = "challenged"
	ThreeDSAuthenticated ThreeDSStatus = "authenticated"
	ThreeDSFailed        ThreeDSStatus = "failed"
)

// =====================================================
// FAILURE REASONS
// =====================================================
const (
	FailureReasonCancelled       = "cancelled"
	FailureReasonTimeout         = "provider response timeout"
	FailureReasonThreeDSFailed   = "3-D Secure authentication failed"
	FailureReasonInternalFailure = "internal processing error"
)

// =====================================================
// DEFAULTS
// =====================================================
const (
	MaxMetadataEntries     = 50
	MaxMetadataValueLength = 500
	DefaultPaymentTimeout  = 30 * time.Minute
	DefaultListLimit       = 20
	MaxListLimit           = 100
)

// =====================================================
// INTERNAL ERROR CODES
// =====================================================
const (
	ErrCodeValidation          = "PAY001"
	ErrCodeIdempotencyConflict = "PAY002"
	ErrCodePaymentNotFound     = "PAY003"
	ErrCodeInvalidTransition   = "PAY004"
	ErrCodeProviderError       = "PAY005"
	ErrCodeProviderUnavailable = "PAY006"
	ErrCodeFraudBlocked        = "PAY007"
	ErrCodeFraudUnavailable    = "PAY008"
	ErrCodeRequestInProgress   = "PAY009"
	ErrCodeConcurrentUpdate    = "PAY010"
	ErrCodeInvalidSignature    = "PAY011"
	ErrCodeMerchantDataInvalid = "PAY012"
	ErrCodeThreeDSPending      = "PAY013"
	ErrCodeThreeDSFailed       = "PAY014"
	ErrCodeRefundNotAllowed    = "PAY015"
	ErrCodeDeliveryFailed      = "PAY016"
	ErrCodeSettlement          = "PAY017"
)
