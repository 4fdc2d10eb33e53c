package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/domains/payment/gateway"
	"payment-orchestrator/internal/domains/payment/model"
	"payment-orchestrator/internal/domains/payment/service"
	"payment-orchestrator/internal/domains/payment/threeds"
)

// =====================================================
// MOCKS
// =====================================================

type mockPaymentService struct {
	mock.Mock
}

var _ service.PaymentService = (*mockPaymentService)(nil)

func (m *mockPaymentService) payment(args mock.Arguments) (*model.Payment, error) {
	p, _ := args.Get(0).(*model.Payment)
	return p, args.Error(1)
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, key string, req model.CreatePaymentRequest) (*model.Payment, error) {
	return m.payment(m.Called(key, req.OrderID))
}

func (m *mockPaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return m.payment(m.Called(id))
}

func (m *mockPaymentService) ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]*model.Payment, int, error) {
	args := m.Called(req)
	payments, _ := args.Get(0).([]*model.Payment)
	return payments, args.Int(1), args.Error(2)
}

func (m *mockPaymentService) CompletePayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return m.payment(m.Called(id))
}

func (m *mockPaymentService) FailPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error) {
	return m.payment(m.Called(id, reason))
}

func (m *mockPaymentService) RefundPayment(ctx context.Context, id uuid.UUID, req model.RefundPaymentRequest) (*model.Payment, error) {
	return m.payment(m.Called(id, req.Amount.String()))
}

func (m *mockPaymentService) CancelPayment(ctx context.Context, id uuid.UUID, reason string) (*model.Payment, error) {
	return m.payment(m.Called(id, reason))
}

func (m *mockPaymentService) HandleProviderCallback(ctx context.Context, provider string, data gateway.CallbackData) (*model.Payment, error) {
	return m.payment(m.Called(provider, string(data.Payload), data.Signature, data.Timestamp))
}

func (m *mockPaymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

type mockThreeDSService struct {
	mock.Mock
}

var _ threeds.Service = (*mockThreeDSService)(nil)

func (m *mockThreeDSService) Initiate(ctx context.Context, paymentID uuid.UUID, returnURL string) (*model.ThreeDSecureChallenge, error) {
	args := m.Called(paymentID, returnURL)
	challenge, _ := args.Get(0).(*model.ThreeDSecureChallenge)
	return challenge, args.Error(1)
}

func (m *mockThreeDSService) Complete(ctx context.Context, paymentID uuid.UUID, req model.CompleteThreeDSRequest) (*model.Payment, error) {
	args := m.Called(paymentID, req.MD)
	p, _ := args.Get(0).(*model.Payment)
	return p, args.Error(1)
}

// =====================================================
// HELPERS
// =====================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
	} `json:"meta"`
}

func newRouter(h *PaymentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/payments", h.CreatePayment)
	r.GET("/payments", h.ListPayments)
	r.GET("/payments/:payment_id", h.GetPayment)
	r.POST("/payments/:payment_id/refund", h.RefundPayment)
	r.POST("/payments/:payment_id/3ds/initiate", h.InitiateThreeDS)
	r.POST("/callbacks/:provider", h.ProviderCallback)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func samplePayment() *model.Payment {
	return model.NewPayment(model.CreatePaymentRequest{
		MerchantID: "merchant-1",
		OrderID:    "order-1",
		Amount:     decimal.RequireFromString("25.00"),
		Currency:   "USD",
		Method:     model.MethodWallet,
	}, model.ProviderZainCash, time.Now())
}

const createBody = `{"merchant_id":"merchant-1","order_id":"order-1","amount":"25.00","currency":"USD","method":"wallet"}`

// =====================================================
// TESTS
// =====================================================

func TestCreatePayment_RequiresIdempotencyKey(t *testing.T) {
	t.Parallel()

	svc := &mockPaymentService{}
	r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

	w, env := do(t, r, http.MethodPost, "/payments", []byte(createBody), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeValidation, env.Error.Code)
	svc.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestCreatePayment_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"created", nil, http.StatusCreated, ""},
		{"fraud blocked", &model.FraudBlockedError{RiskLevel: "high"}, http.StatusForbidden, model.ErrCodeFraudBlocked},
		{"key conflict", model.NewIdempotencyConflictError("k-1"), http.StatusConflict, model.ErrCodeIdempotencyConflict},
		{"no provider", model.NewProviderUnavailableError("ZainCash"), http.StatusServiceUnavailable, model.ErrCodeProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockPaymentService{}
			var payment *model.Payment
			if tt.err == nil {
				payment = samplePayment()
			}
			svc.On("CreatePayment", "k-1", "order-1").Return(payment, tt.err)
			r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

			w, env := do(t, r, http.MethodPost, "/payments", []byte(createBody), map[string]string{HeaderIdempotencyKey: "k-1"})

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.err == nil {
				assert.True(t, env.Success)
				var got model.PaymentResponse
				require.NoError(t, json.Unmarshal(env.Data, &got))
				assert.Equal(t, payment.ID, got.ID)
				return
			}
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestGetPayment(t *testing.T) {
	t.Parallel()

	svc := &mockPaymentService{}
	r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

	w, _ := do(t, r, http.MethodGet, "/payments/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missing := uuid.New()
	svc.On("GetPayment", missing).Return(nil, model.NewPaymentNotFoundError(missing.String()))
	w, env := do(t, r, http.MethodGet, "/payments/"+missing.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodePaymentNotFound, env.Error.Code)
}

func TestListPayments_NormalizesLimit(t *testing.T) {
	t.Parallel()

	svc := &mockPaymentService{}
	want := model.ListPaymentsRequest{MerchantID: "merchant-1", Limit: model.MaxListLimit}
	svc.On("ListPayments", want).Return([]*model.Payment{samplePayment()}, 42, nil)
	r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

	w, env := do(t, r, http.MethodGet, "/payments?merchant_id=merchant-1&limit=100000", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 42, env.Meta.Total)
	assert.Equal(t, model.MaxListLimit, env.Meta.Limit)
	svc.AssertExpectations(t)
}

func TestRefundPayment_EmptyBodyMeansFullRefund(t *testing.T) {
	t.Parallel()

	svc := &mockPaymentService{}
	p := samplePayment()
	svc.On("RefundPayment", p.ID, "0").Return(p, nil)
	r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

	w, _ := do(t, r, http.MethodPost, "/payments/"+p.ID.String()+"/refund", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestProviderCallback_PassesRawBodyAndHeaders(t *testing.T) {
	t.Parallel()

	body := `{"event_id":"evt-1","status":"success"}`
	headers := map[string]string{HeaderCallbackSignature: "sha256=abc", HeaderCallbackTimestamp: "1700000000"}

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		svc := &mockPaymentService{}
		p := samplePayment()
		svc.On("HandleProviderCallback", "FIB", body, "sha256=abc", "1700000000").Return(p, nil)
		r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

		w, env := do(t, r, http.MethodPost, "/callbacks/FIB", []byte(body), headers)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), p.ID.String())
		svc.AssertExpectations(t)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()

		svc := &mockPaymentService{}
		svc.On("HandleProviderCallback", "FIB", body, "sha256=abc", "1700000000").Return(nil, model.NewInvalidSignatureError())
		r := newRouter(NewPaymentHandler(svc, &mockThreeDSService{}))

		w, env := do(t, r, http.MethodPost, "/callbacks/FIB", []byte(body), headers)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, model.ErrCodeInvalidSignature, env.Error.Code)
	})
}

func TestInitiateThreeDS(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	threeDS := &mockThreeDSService{}
	threeDS.On("Initiate", id, "https://shop.example/return").Return(nil, nil)
	r := newRouter(NewPaymentHandler(&mockPaymentService{}, threeDS))

	w, env := do(t, r, http.MethodPost, "/payments/"+id.String()+"/3ds/initiate", []byte(`{"return_url":"https://shop.example/return"}`), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"required":false}`, string(env.Data))

	w, _ = do(t, r, http.MethodPost, "/payments/"+id.String()+"/3ds/initiate", []byte(`{"return_url":"not a url"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
