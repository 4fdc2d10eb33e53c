package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/webhook/model"
	"payment-orchestrator/internal/domains/webhook/repository"
	"payment-orchestrator/internal/domains/webhook/service"
	"payment-orchestrator/pkg/option"
)

func newTestRouter(t *testing.T) (*gin.Engine, service.WebhookService) {
	t.Helper()

	svc := service.NewWebhookService(
		repository.NewMemoryDeliveryRepository(),
		option.Some[repository.EndpointRepository](repository.NewMemoryEndpointRepository()),
		service.DefaultConfig(),
	)
	h := NewWebhookHandler(svc)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/endpoints", h.RegisterEndpoint)
	r.DELETE("/webhooks/endpoints/:endpoint_id", h.DeactivateEndpoint)
	r.GET("/webhooks/deliveries/:delivery_id", h.GetDelivery)
	r.GET("/payments/:payment_id/webhooks", h.ListPaymentDeliveries)
	r.POST("/webhooks/retry", h.RetryDue)
	return r, svc
}

func serve(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndDeactivateEndpoint(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	w := serve(r, http.MethodPost, "/webhooks/endpoints",
		[]byte(`{"merchant_id":"m-1","url":"https://merchant.example/hooks","secret":"top-secret","events":["payment.succeeded"]}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "top-secret")

	var body struct {
		Data model.Endpoint `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEqual(t, uuid.Nil, body.Data.ID)

	w = serve(r, http.MethodDelete, "/webhooks/endpoints/"+body.Data.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, http.MethodDelete, "/webhooks/endpoints/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterEndpoint_Invalid(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	w := serve(r, http.MethodPost, "/webhooks/endpoints", []byte(`{"merchant_id":"m-1","url":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliveries(t *testing.T) {
	t.Parallel()

	merchant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(merchant.Close)

	r, svc := newTestRouter(t)
	paymentID := uuid.New()
	id, err := svc.ScheduleWebhook(context.Background(), model.ScheduleRequest{
		PaymentID: paymentID,
		URL:       merchant.URL,
		EventType: "payment.succeeded",
		Payload:   json.RawMessage(`{"ok":true}`),
	})
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/webhooks/deliveries/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"delivered"`)

	w = serve(r, http.MethodGet, "/webhooks/deliveries/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/payments/"+paymentID.String()+"/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	w = serve(r, http.MethodPost, "/webhooks/retry?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/webhooks/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"delivered":0}}`, w.Body.String())
}
