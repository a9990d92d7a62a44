package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/processing"
	"github.com/andrey-berenda/paysettle/internal/pkg/reconcile"
	"github.com/andrey-berenda/paysettle/internal/pkg/signature"
	"github.com/andrey-berenda/paysettle/internal/pkg/storage/memstore"
	"github.com/andrey-berenda/paysettle/internal/pkg/webhook"
)

const (
	passphrase    = "jt7NOE43FZPn"
	webhookSecret = "whsec_test"
	adminToken    = "admin-token"
)

type testServer struct {
	store   *memstore.Store
	handler http.Handler
}

func newTestServer(t *testing.T, yocoHandler http.HandlerFunc) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	m := metrics.New()
	store := memstore.New()
	_, err := store.OrderCreate(context.Background(), models.Order{
		ID:         "ORD-1",
		MerchantID: "merchant1",
		Total:      decimal.RequireFromString("150.00"),
		Currency:   "ZAR",
		Status:     models.OrderStatusPending,
	})
	require.NoError(t, err)

	payfastCfg := config.PayFastConfig{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  passphrase,
		ProcessURL:  "https://sandbox.payfast.co.za/eng/process",
		NotifyURL:   "https://api.example.co.za/payments/payfast/webhook",
	}
	processors := []processing.Processor{processing.NewPayFast(store, payfastCfg)}
	if yocoHandler != nil {
		yocoAPI := httptest.NewServer(yocoHandler)
		t.Cleanup(yocoAPI.Close)
		processors = append(processors, processing.NewYoco(store, yocoAPI.Client(), config.YocoConfig{
			SecretKey: "sk_test",
			BaseURL:   yocoAPI.URL,
		}))
	}

	ingestor := webhook.New(store, payfastCfg, config.YocoConfig{WebhookSecret: webhookSecret}, nil, m, logger)
	sweeper := reconcile.New(store, nil, m, logger, 0)
	server := New(store, processors, ingestor, sweeper, m, logger, adminToken)
	return &testServer{store: store, handler: server.Routes()}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) orderStatus(t *testing.T) models.OrderStatus {
	t.Helper()
	o, err := s.store.OrderGet(context.Background(), "merchant1", "ORD-1")
	require.NoError(t, err)
	return o.Status
}

func jsonRequest(method string, target string, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func itnRequest(fields url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/payfast/webhook", strings.NewReader(fields.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func signedITN(status string) url.Values {
	fields := url.Values{
		"merchant_id":    {"10000100"},
		"m_payment_id":   {"merchant1-ORD-1"},
		"pf_payment_id":  {"1089250"},
		"payment_status": {status},
		"amount_gross":   {"150.00"},
	}
	fields.Set(signature.PayFastField, signature.PayFast(fields, passphrase))
	return fields
}

func TestPayFastCreateAndWebhook(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, jsonRequest(http.MethodPost, "/payments/payfast/create",
		`{"merchantId":"merchant1","orderId":"ORD-1","amount":150,"itemName":"Braai pack"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created payFastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	u, err := url.Parse(created.PaymentURL)
	require.NoError(t, err)
	assert.Equal(t, "merchant1-ORD-1", u.Query().Get("m_payment_id"))
	assert.Equal(t, "150.00", u.Query().Get("amount"))
	assert.True(t, signature.VerifyPayFast(u.Query(), passphrase))

	rec = s.do(t, itnRequest(signedITN("COMPLETE")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, models.OrderStatusPaid, s.orderStatus(t))

	rec = s.do(t, jsonRequest(http.MethodPost, "/payments/payfast/create", `{"merchantId":"merchant1","orderId":"ORD-1"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePaymentAmountMustMatchOrder(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, jsonRequest(http.MethodPost, "/payments/payfast/create",
		`{"merchantId":"merchant1","orderId":"ORD-1","amount":0.01}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "does not match order total 150.00")

	underpaid := signedITN("COMPLETE")
	underpaid.Set("amount_gross", "0.01")
	underpaid.Set(signature.PayFastField, signature.PayFast(underpaid, passphrase))
	rec = s.do(t, itnRequest(underpaid))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPending, s.orderStatus(t))
}

func TestPayFastWebhookResponses(t *testing.T) {
	s := newTestServer(t, nil)

	forged := signedITN("COMPLETE")
	forged.Set("amount_gross", "1.00")
	rec := s.do(t, itnRequest(forged))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPending, s.orderStatus(t))

	rec = s.do(t, itnRequest(url.Values{"payment_status": {"COMPLETE"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown := signedITN("COMPLETE")
	unknown.Set("m_payment_id", "merchant1-ORD-404")
	unknown.Set(signature.PayFastField, signature.PayFast(unknown, passphrase))
	rec = s.do(t, itnRequest(unknown))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Len(t, s.store.WebhookEvents(), 3)
}

func TestYocoCreateLinkAndWebhook(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ch_1","status":"created","redirectUrl":"https://c.yoco.com/checkout/ch_1"}`))
	})

	rec := s.do(t, jsonRequest(http.MethodPost, "/payments/yoco/create-link",
		`{"merchantId":"merchant1","orderId":"ORD-1","amount":"150.00","description":"Order ORD-1"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created yocoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, yocoResponse{Success: true, Link: "https://c.yoco.com/checkout/ch_1", PaymentID: "ch_1"}, created)

	body := `{"id":"ch_1","amount":15000,"currency":"ZAR","status":"succeeded"}`

	req := jsonRequest(http.MethodPost, "/payments/yoco/webhook", body)
	req.Header.Set("webhook-signature", signature.Yoco([]byte(body), "wrong"))
	rec = s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())
	assert.Equal(t, models.OrderStatusPending, s.orderStatus(t))

	req = jsonRequest(http.MethodPost, "/payments/yoco/webhook", body)
	req.Header.Set("webhook-signature", signature.Yoco([]byte(body), webhookSecret))
	req.Header.Set("webhook-id", "msg_1")
	rec = s.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, models.OrderStatusPaid, s.orderStatus(t))
}

func TestYocoProviderFailure(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := s.do(t, jsonRequest(http.MethodPost, "/payments/yoco/create-link", `{"merchantId":"merchant1","orderId":"ORD-1"}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, models.OrderStatusPending, s.orderStatus(t))
}

func TestYocoNotConfigured(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, jsonRequest(http.MethodPost, "/payments/yoco/create-link", `{"merchantId":"merchant1","orderId":"ORD-1"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "yoco is not configured")
}

func TestOrders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, jsonRequest(http.MethodPost, "/orders",
		`{"merchantId":"merchant1","orderId":"ORD-2","items":[{"name":"Boerewors roll","unitPrice":"45.50","quantity":2}]}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "91.00", created.Total.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, created.Status)

	rec = s.do(t, jsonRequest(http.MethodPost, "/orders", `{"merchantId":"merchant1","orderId":"ORD-2","total":10}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, jsonRequest(http.MethodPost, "/orders", `{"merchantId":"bad-merchant","orderId":"ORD-3","total":10}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/orders/merchant1/ORD-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ORD-2", got.Order.ID)
	assert.Empty(t, got.Payments)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/orders/merchant1/ORD-404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminReconcile(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/admin/reconcile-payments", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile-payments", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var report reconcile.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Count)
	assert.Equal(t, []reconcile.Result{{MerchantID: "merchant1", OrderID: "ORD-1"}}, report.Results)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `paysettle_http_requests_total{route="/health",status="200"} 1`)
}
