package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	paymentModel "payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/domains/webhook/service"
	res "payment-orchestrator/internal/shared/response"
)

const defaultRetryLimit = 100

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// =====================================================
// ENDPOINTS
// =====================================================

// RegisterEndpoint
// POST /api/v1/webhooks/endpoints
func (h *WebhookHandler) RegisterEndpoint(c *gin.Context) {
	var req model.CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, paymentModel.ErrCodeValidation, "Invalid request body")
		return
	}

	endpoint, err := h.webhookService.RegisterEndpoint(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusCreated, endpoint)
}

// DeactivateEndpoint
// DELETE /api/v1/webhooks/endpoints/:endpoint_id
func (h *WebhookHandler) DeactivateEndpoint(c *gin.Context) {
	id, ok := uuidParam(c, "endpoint_id")
	if !ok {
		return
	}
	if err := h.webhookService.DeactivateEndpoint(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =====================================================
// DELIVERIES
// =====================================================

// GetDelivery
// GET /api/v1/webhooks/deliveries/:delivery_id
func (h *WebhookHandler) GetDelivery(c *gin.Context) {
	id, ok := uuidParam(c, "delivery_id")
	if !ok {
		return
	}
	delivery, err := h.webhookService.GetDelivery(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, delivery)
}

// ListPaymentDeliveries
// GET /api/v1/payments/:payment_id/webhooks
func (h *WebhookHandler) ListPaymentDeliveries(c *gin.Context) {
	paymentID, ok := uuidParam(c, "payment_id")
	if !ok {
		return
	}
	deliveries, err := h.webhookService.ListDeliveries(c.Request.Context(), paymentID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.SuccessWithMeta(c, http.StatusOK, deliveries, &res.Meta{Total: len(deliveries)})
}

// RetryDue runs one retry sweep on demand
// POST /api/v1/webhooks/retry?limit=
func (h *WebhookHandler) RetryDue(c *gin.Context) {
	limit := defaultRetryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			res.ErrorResponse(c, http.StatusBadRequest, paymentModel.ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}

	delivered, err := h.webhookService.ProcessDueRetries(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	res.Success(c, http.StatusOK, gin.H{"delivered": delivered})
}

// =====================================================
// HELPERS
// =====================================================

func (h *WebhookHandler) handleError(c *gin.Context, err error) {
	if errors.Is(err, model.ErrDeliveryNotFound) || errors.Is(err, model.ErrEndpointNotFound) {
		res.NotFound(c, err.Error())
		return
	}
	status, code, message := paymentModel.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("Webhook request failed")
	}
	res.ErrorResponse(c, status, code, message)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		res.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
