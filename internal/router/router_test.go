package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safaripay/config"
	"safaripay/internal/auth"
	"safaripay/internal/cache"
	"safaripay/internal/database/dbtest"
	"safaripay/internal/domain"
	"safaripay/internal/service"
	"safaripay/pkg/payment"
)

const webhookSecret = "whsec_test"

type api struct {
	t      *testing.T
	cfg    *config.Config
	engine *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "test"},
		JWT:    config.JWTConfig{AccessSecret: "test-secret", AccessExpiry: time.Hour, Issuer: "safaripay"},
		Redis:  config.RedisConfig{IdempotencyTTL: time.Hour},
		Payment: config.PaymentConfig{
			WebhookSecret: webhookSecret,
			RailTimeout:   time.Second,
			CallbackBase:  "https://api.test",
		},
		Ledger: config.LedgerConfig{
			WithdrawalFeeRate:   decimal.RequireFromString("0.01"),
			Rates:               map[string]decimal.Decimal{"USD": decimal.RequireFromString("130.25")},
			CostRates:           map[string]decimal.Decimal{"USD": decimal.RequireFromString("131.00")},
			MaxTransactionCents: 100_000_000,
		},
	}
	stub := &payment.StubProvider{SettlePayouts: true}
	engine, _ := Setup(cfg, Deps{
		DB:          dbtest.Open(t),
		Rails:       service.Rails{Card: stub, Mpesa: stub, MpesaPayout: stub, Bank: stub},
		Idempotency: cache.NewMemoryIdempotencyStore(),
		Registry:    prometheus.NewRegistry(),
		Logger:      zap.NewNop(),
	})
	return &api{t: t, cfg: cfg, engine: engine}
}

func (a *api) token(userID uint, role string) string {
	tok, err := auth.GenerateAccessToken(&a.cfg.JWT, userID, role)
	require.NoError(a.t, err)
	return tok
}

func (a *api) do(method, path, token string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	out := map[string]interface{}{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func (a *api) webhook(name string, payload interface{}, secret string) int {
	a.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(a.t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+name, bytes.NewReader(raw))
	req.Header.Set("X-Webhook-Signature", payment.Sign(secret, raw))
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w.Code
}

func (a *api) balance(token string) float64 {
	a.t.Helper()
	code, body := a.do(http.MethodGet, "/api/v1/me/wallet", token, nil, nil)
	require.Equal(a.t, http.StatusOK, code)
	return body["balance_cents"].(float64)
}

func TestSettlementFlow(t *testing.T) {
	a := newAPI(t)
	tourist := a.token(1, domain.RoleTourist)
	business := a.token(2, domain.RoleBusiness)
	admin := a.token(3, domain.RoleAdmin)

	code, _ := a.do(http.MethodPost, "/api/v1/me/wallet", tourist, nil, nil)
	require.Equal(t, http.StatusCreated, code)
	code, _ = a.do(http.MethodPost, "/api/v1/me/wallet", business, nil, nil)
	require.Equal(t, http.StatusCreated, code)

	// Card top-up of 100 USD, credited once the checkout webhook arrives.
	code, body := a.do(http.MethodPost, "/api/v1/topups", tourist, gin.H{"method": "card", "amount": "100", "currency": "usd"}, nil)
	require.Equal(t, http.StatusAccepted, code, body)
	txn := body["transaction"].(map[string]interface{})
	ref := txn["external_reference"].(string)
	assert.NotEmpty(t, body["checkout_url"])
	assert.Equal(t, float64(0), a.balance(tourist))

	success := gin.H{"reference": ref, "charge_id": "ch_1", "status": "succeeded", "amount": 10000, "currency": "USD"}
	assert.Equal(t, http.StatusUnauthorized, a.webhook("card", success, "wrong"))
	assert.Equal(t, http.StatusOK, a.webhook("card", success, webhookSecret))
	assert.Equal(t, http.StatusOK, a.webhook("card", success, webhookSecret))
	assert.Equal(t, float64(1_302_500), a.balance(tourist))

	// QR payment, retried with the same Idempotency-Key.
	pay := gin.H{"qr": "safaripay://pay?merchant=2&ref=inv-1&amount=2500"}
	key := map[string]string{"Idempotency-Key": "pay-1"}
	code, first := a.do(http.MethodPost, "/api/v1/payments", tourist, pay, key)
	require.Equal(t, http.StatusCreated, code, first)
	code, again := a.do(http.MethodPost, "/api/v1/payments", tourist, pay, key)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, first["id"], again["id"])
	assert.Equal(t, float64(1_052_500), a.balance(tourist))
	assert.Equal(t, float64(250_000), a.balance(business))

	// Bank withdrawal settles synchronously on the stub rail.
	code, body = a.do(http.MethodPost, "/api/v1/withdrawals", business, gin.H{"method": "bank", "amount": "1000", "destination": "0123456789"}, nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "10.00", body["fee"])
	assert.Equal(t, float64(150_000), a.balance(business))

	code, body = a.do(http.MethodGet, "/api/v1/admin/revenue/summary", admin, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(8_500), body["total_cents"])

	code, body = a.do(http.MethodGet, "/api/v1/admin/transactions?kind=payment", admin, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	tourist := a.token(1, domain.RoleTourist)
	business := a.token(2, domain.RoleBusiness)
	a.do(http.MethodPost, "/api/v1/me/wallet", tourist, nil, nil)
	a.do(http.MethodPost, "/api/v1/me/wallet", business, nil, nil)

	testCases := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/me/wallet", "", nil, http.StatusUnauthorized},
		{"admin only", http.MethodGet, "/api/v1/admin/revenue", tourist, nil, http.StatusForbidden},
		{"business cannot top up", http.MethodPost, "/api/v1/topups", business, gin.H{"method": "CARD", "amount": "10", "currency": "USD"}, http.StatusForbidden},
		{"insufficient funds", http.MethodPost, "/api/v1/payments", tourist, gin.H{"merchant_id": 2, "amount": "50"}, http.StatusPaymentRequired},
		{"unsupported currency", http.MethodPost, "/api/v1/topups", tourist, gin.H{"method": "CARD", "amount": "10", "currency": "JPY"}, http.StatusBadRequest},
		{"bad qr", http.MethodPost, "/api/v1/payments", tourist, gin.H{"qr": "https://evil.example/pay"}, http.StatusBadRequest},
		{"fractional withdrawal", http.MethodPost, "/api/v1/withdrawals", business, gin.H{"method": "BANK", "amount": "10.50", "destination": "1"}, http.StatusBadRequest},
		{"top-up beyond int64 cents", http.MethodPost, "/api/v1/topups", tourist, gin.H{"method": "CARD", "amount": "184467440737095516.16", "currency": "USD"}, http.StatusBadRequest},
		{"top-up above limit", http.MethodPost, "/api/v1/topups", tourist, gin.H{"method": "CARD", "amount": "10000", "currency": "USD"}, http.StatusBadRequest},
		{"payment above limit", http.MethodPost, "/api/v1/payments", tourist, gin.H{"merchant_id": 2, "amount": "1000000.01"}, http.StatusBadRequest},
		{"withdrawal beyond int64 cents", http.MethodPost, "/api/v1/withdrawals", business, gin.H{"method": "BANK", "amount": "92233720368547758.08", "destination": "1"}, http.StatusBadRequest},
		{"unknown transaction", http.MethodGet, "/api/v1/me/transactions/999", tourist, nil, http.StatusNotFound},
		{"bad revenue filter", http.MethodGet, "/api/v1/admin/revenue?source=TIPS", a.token(9, domain.RoleAdmin), nil, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := a.do(tc.method, tc.path, tc.token, tc.body, nil)
			assert.Equal(t, tc.want, code, body)
		})
	}
}

func TestWebhookAcknowledgesUnknownAndPending(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.webhook("bank", gin.H{"reference": "wd-missing", "status": "SETTLED"}, webhookSecret))
	assert.Equal(t, http.StatusOK, a.webhook("card", gin.H{"reference": "tp-1", "status": "processing"}, webhookSecret))
	assert.Equal(t, http.StatusBadRequest, a.webhook("card", gin.H{"status": "succeeded"}, webhookSecret))
}

func TestOpsEndpoints(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
