package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/service"
	"payment-orchestrator/internal/domains/payment/threeds"
	res "payment-orchestrator/internal/shared/response"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderCallbackSignature = "X-Signature"
	HeaderCallbackTimestamp = "X-Timestamp"

	maxCallbackBody = 1 << 20
)

type PaymentHandler struct {
	paymentService service.PaymentService
	threeDSService threeds.Service
}

func NewPaymentHandler(paymentService service.PaymentService, threeDSService threeds.Service) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		threeDSService: threeDSService,
	}
}

// =====================================================
// PAYMENTS
// =====================================================

// CreatePayment initiates a payment
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	key := c.GetHeader(HeaderIdempotencyKey)
	if key == "" {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, "Idempotency-Key header is required")
		return
	}

	var req model.CreatePaymentRequest
	if err := bindJSON(c, &req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	payment, err := h.paymentService.CreatePayment(c.Request.Context(), key, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	res.Success(c, http.StatusCreated, payment.ToResponse())
}

// GetPayment
// GET /api/v1/payments/:payment_id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	res.Success(c, http.StatusOK, payment.ToResponse())
}

// ListPayments
// GET /api/v1/payments?merchant_id=&order_id=&limit=&offset=
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var req model.ListPaymentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, "Invalid query parameters")
		return
	}
	req.Normalize()

	payments, total, err := h.paymentService.ListPayments(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	items := make([]model.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, p.ToResponse())
	}
	res.SuccessWithMeta(c, http.StatusOK, items, &res.Meta{Limit: req.Limit, Offset: req.Offset, Total: total})
}

// =====================================================
// LIFECYCLE
// =====================================================

// CompletePayment
// POST /api/v1/payments/:payment_id/complete
func (h *PaymentHandler) CompletePayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.CompletePayment(c.Request.Context(), paymentID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, payment.ToResponse())
}

// FailPayment
// POST /api/v1/payments/:payment_id/fail
func (h *PaymentHandler) FailPayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req model.FailPaymentRequest
	if err := bindJSON(c, &req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	payment, err := h.paymentService.FailPayment(c.Request.Context(), paymentID, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, payment.ToResponse())
}

// RefundPayment refunds all or part of a succeeded payment
// POST /api/v1/payments/:payment_id/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req model.RefundPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
			return
		}
	}

	payment, err := h.paymentService.RefundPayment(c.Request.Context(), paymentID, req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, payment.ToResponse())
}

// CancelPayment
// POST /api/v1/payments/:payment_id/cancel
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req model.CancelPaymentRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
			return
		}
	}

	payment, err := h.paymentService.CancelPayment(c.Request.Context(), paymentID, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, payment.ToResponse())
}

// =====================================================
// 3-D SECURE
// =====================================================

// InitiateThreeDS
// POST /api/v1/payments/:payment_id/3ds/initiate
func (h *PaymentHandler) InitiateThreeDS(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req model.InitiateThreeDSRequest
	if err := bindJSON(c, &req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	challenge, err := h.threeDSService.Initiate(c.Request.Context(), paymentID, req.ReturnURL)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if challenge == nil {
		res.Success(c, http.StatusOK, gin.H{"required": false})
		return
	}
	res.Success(c, http.StatusOK, gin.H{"required": true, "challenge": challenge})
}

// CompleteThreeDS receives the issuer's authentication response
// POST /api/v1/payments/:payment_id/3ds/complete
func (h *PaymentHandler) CompleteThreeDS(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	var req model.CompleteThreeDSRequest
	if err := bindJSON(c, &req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	payment, err := h.threeDSService.Complete(c.Request.Context(), paymentID, req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, payment.ToResponse())
}

// =====================================================
// PROVIDER CALLBACKS
// =====================================================

// ProviderCallback receives an asynchronous provider notification. The raw
// body is verified before it is parsed.
// POST /api/v1/callbacks/:provider
func (h *PaymentHandler) ProviderCallback(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, "Failed to read callback body")
		return
	}

	payment, err := h.paymentService.HandleProviderCallback(c.Request.Context(), provider, gateway.CallbackData{
		Payload:   body,
		Signature: c.GetHeader(HeaderCallbackSignature),
		Timestamp: c.GetHeader(HeaderCallbackTimestamp),
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Str("request_id", c.GetString("request_id")).Msg("Provider callback rejected")
		h.handleError(c, err)
		return
	}

	data := gin.H{"received": true}
	if payment != nil {
		data["payment_id"] = payment.ID
		data["status"] = payment.Status
	}
	res.Success(c, http.StatusOK, data)
}

// =====================================================
// HELPER FUNCTIONS
// =====================================================

func (h *PaymentHandler) handleError(c *gin.Context, err error) {
	statusCode, errCode, message := mapPaymentError(err)
	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("Payment request failed")
	}
	res.ErrorResponse(c, statusCode, errCode, message)
}

// mapPaymentError maps domain errors to HTTP status codes
func mapPaymentError(err error) (statusCode int, errorCode, message string) {
	return model.HTTPStatus(err)
}

func paymentIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeValidation, "Invalid payment ID")
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON binds JSON request body
func bindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
