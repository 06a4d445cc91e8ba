package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paycore/api/controllers"
	"github.com/angelmondragon/paycore/internal/payments"
	"github.com/angelmondragon/paycore/internal/paytest"
	"github.com/angelmondragon/paycore/internal/plugins"
	pkgauth "github.com/angelmondragon/paycore/pkg/auth"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/mockpay"
	"github.com/angelmondragon/paycore/pkg/types"
)

const routerWebhookSecret = "whsec_router"

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type mockResolver struct {
	adapter gateway.Adapter
}

func (r mockResolver) Resolve(_ context.Context, provider string) (gateway.Adapter, error) {
	if provider != r.adapter.Provider() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment provider not available")
	}
	return r.adapter, nil
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "pc:idempotency:" + scope + ":" + id
}

func (m *memoryStore) WebhookKey(provider, eventID string) string {
	return "pc:webhook:" + provider + ":" + eventID
}

type stubPluginManager struct{}

func (stubPluginManager) List(context.Context) ([]plugins.Status, error) {
	return []plugins.Status{{Provider: mockpay.Provider, State: enums.PluginStateEnabled, Enabled: true, CredentialKeys: []string{mockpay.CredentialWebhookSecret}}}, nil
}

func (stubPluginManager) Configure(_ context.Context, provider string, input plugins.ConfigInput) (*plugins.Status, error) {
	return &plugins.Status{Provider: provider, Enabled: input.Enabled, Sandbox: input.Sandbox}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *types.APIError `json:"error"`
}

type routerHarness struct {
	*paytest.Fixture
	handler http.Handler
	cfg     *config.Config
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	f := paytest.New(t)
	logg := logger.New(logger.Options{ServiceName: "paycore-test", Output: io.Discard})

	adapter, err := mockpay.New(context.Background(), gateway.Settings{
		Credentials: map[string]string{mockpay.CredentialWebhookSecret: routerWebhookSecret},
	}, gateway.Options{})
	require.NoError(t, err)

	store := newMemoryStore()
	guard, err := payments.NewIdempotencyGuard(store, time.Hour)
	require.NoError(t, err)

	svc, err := payments.NewService(payments.Params{
		Plugins:       mockResolver{adapter: adapter},
		Invoices:      f.Invoices,
		Subscriptions: f.Subscriptions,
		Plans:         f.Plans,
		Ledger:        f.Ledger,
		Emitter:       f.Dispatcher,
		Guard:         guard,
		Logger:        logg,
		PublicBaseURL: "https://pay.example.com",
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", PublicBaseURL: "https://pay.example.com"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "paycore-test"},
	}
	handler := NewRouter(Params{
		Config:      cfg,
		Logger:      logg,
		Payments:    svc,
		Webhooks:    svc,
		Plugins:     stubPluginManager{},
		Idempotency: store,
		Ready:       map[string]controllers.Pinger{"db": f.Client},
	})
	return &routerHarness{Fixture: f, handler: handler, cfg: cfg}
}

func (h *routerHarness) token(t *testing.T, userID uuid.UUID, role enums.Role) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(h.cfg.JWT, time.Now(), time.Hour, pkgauth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    uuid.NewString(),
	})
	require.NoError(t, err)
	return token
}

func (h *routerHarness) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (h *routerHarness) webhook(t *testing.T, event mockpay.Event, secret string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/plugins/mock/webhook", bytes.NewReader(payload))
	req.Header.Set(mockpay.SignatureHeader, mockpay.Sign(secret, payload))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *routerHarness) balance(t *testing.T, token string) int64 {
	t.Helper()
	rec, env := h.do(t, http.MethodGet, "/api/v1/tokens/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Balance
}

func (h *routerHarness) transactions(t *testing.T, token string) []map[string]any {
	t.Helper()
	rec, env := h.do(t, http.MethodGet, "/api/v1/tokens/transactions?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out.Items
}

type subscribed struct {
	userID    uuid.UUID
	token     string
	subID     uuid.UUID
	invoiceID uuid.UUID
}

// subscribeAndCapture runs scenario A up to a paid recurring invoice.
func (h *routerHarness) subscribeAndCapture(t *testing.T) subscribed {
	t.Helper()
	userID := uuid.New()
	token := h.token(t, userID, enums.RoleUser)
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := h.SeedSubscriptionInvoice(t, userID, plan)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/create-order", token, map[string]string{"invoiceId": invoice.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order payments.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &order))
	require.Equal(t, enums.PaymentModeSubscription, order.Mode)
	require.NotEmpty(t, order.SubscriptionID)

	rec, env = h.do(t, http.MethodPost, "/plugins/mock/capture-order", token, map[string]string{"orderId": order.SubscriptionID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var captured payments.CaptureResultView
	require.NoError(t, json.Unmarshal(env.Data, &captured))
	require.Equal(t, gateway.StatusPaid, captured.Status)

	return subscribed{userID: userID, token: token, subID: sub.ID, invoiceID: invoice.ID}
}

func findTransaction(rows []map[string]any, kind string) map[string]any {
	for _, row := range rows {
		if row["type"] == kind {
			return row
		}
	}
	return nil
}

func TestScenarioARecurringCaptureActivatesAndCredits(t *testing.T) {
	h := newRouterHarness(t)
	s := h.subscribeAndCapture(t)

	require.Equal(t, enums.InvoiceStatusPaid, h.Invoice(t, s.invoiceID).Status)
	require.Equal(t, enums.SubscriptionStatusActive, h.Subscription(t, s.subID).Status)
	require.Equal(t, int64(100), h.balance(t, s.token))

	row := findTransaction(h.transactions(t, s.token), string(enums.TokenTransactionSubscription))
	require.NotNil(t, row)
	require.EqualValues(t, 100, row["amount"])
}

func TestScenarioBRefundCancelsAndReverses(t *testing.T) {
	h := newRouterHarness(t)
	s := h.subscribeAndCapture(t)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/refund", s.token, map[string]string{"invoiceId": s.invoiceID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refund payments.RefundView
	require.NoError(t, json.Unmarshal(env.Data, &refund))
	require.Equal(t, int64(100), refund.TokensDebited)

	require.Equal(t, enums.InvoiceStatusRefunded, h.Invoice(t, s.invoiceID).Status)
	require.Equal(t, enums.SubscriptionStatusCancelled, h.Subscription(t, s.subID).Status)
	require.Equal(t, int64(0), h.balance(t, s.token))

	row := findTransaction(h.transactions(t, s.token), string(enums.TokenTransactionRefund))
	require.NotNil(t, row)
	require.EqualValues(t, -100, row["amount"])
}

func TestScenarioCRefundRejectedAfterSpend(t *testing.T) {
	h := newRouterHarness(t)
	s := h.subscribeAndCapture(t)
	_, err := h.Ledger.Spend(context.Background(), s.userID, 80, uuid.New())
	require.NoError(t, err)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/refund", s.token, map[string]string{"invoiceId": s.invoiceID.String()})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.NotNil(t, env.Error)
	require.Equal(t, string(pkgerrors.CodeConflict), env.Error.Code)

	require.Equal(t, enums.InvoiceStatusPaid, h.Invoice(t, s.invoiceID).Status)
	require.Equal(t, enums.SubscriptionStatusActive, h.Subscription(t, s.subID).Status)
	require.Equal(t, int64(20), h.balance(t, s.token))
	require.Nil(t, findTransaction(h.transactions(t, s.token), string(enums.TokenTransactionRefund)))
}

func TestScenarioDConcurrentWebhooksHaveOneEffect(t *testing.T) {
	h := newRouterHarness(t)
	userID := uuid.New()
	token := h.token(t, userID, enums.RoleUser)
	plan := h.SeedPlan(t, enums.BillingPeriodMonthly, "9.99", 100)
	invoice, sub := h.SeedSubscriptionInvoice(t, userID, plan)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/create-order", token, map[string]string{"invoiceId": invoice.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order payments.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &order))

	event := mockpay.Event{
		ID:             "evt_router_capture",
		Type:           string(gateway.EventPaymentSucceeded),
		SubscriptionID: order.SubscriptionID,
		TransactionID:  "cap_router_1",
		InvoiceID:      invoice.ID.String(),
		Amount:         func(v int64) *int64 { return &v }(999),
		Currency:       "USD",
	}

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = h.webhook(t, event, routerWebhookSecret).Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
	require.Equal(t, enums.InvoiceStatusPaid, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, enums.SubscriptionStatusActive, h.Subscription(t, sub.ID).Status)
	require.Equal(t, int64(100), h.balance(t, token))
	require.Equal(t, int64(1), h.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestScenarioEBadSignatureIsRejected(t *testing.T) {
	h := newRouterHarness(t)
	userID := uuid.New()
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")

	rec := h.webhook(t, mockpay.Event{
		ID:        "evt_forged",
		Type:      string(gateway.EventPaymentSucceeded),
		InvoiceID: invoice.ID.String(),
		Amount:    func(v int64) *int64 { return &v }(499),
		Currency:  "USD",
	}, "not-the-secret")

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, string(pkgerrors.CodeSignature), env.Error.Code)

	require.Equal(t, enums.InvoiceStatusPending, h.Invoice(t, invoice.ID).Status)
	require.Equal(t, int64(0), h.Balance(t, userID))
	require.Equal(t, int64(0), h.OutboxCount(t, enums.EventPaymentCaptured))
}

func TestPaymentRoutesRequireBearerToken(t *testing.T) {
	h := newRouterHarness(t)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/create-order", "", map[string]string{"invoiceId": uuid.NewString()})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(pkgerrors.CodeUnauthorized), env.Error.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/tokens/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrderRequiresIdempotencyKey(t *testing.T) {
	h := newRouterHarness(t)
	token := h.token(t, uuid.New(), enums.RoleUser)

	req := httptest.NewRequest(http.MethodPost, "/plugins/mock/create-order", bytes.NewReader([]byte(`{"invoiceId":"`+uuid.NewString()+`"}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestCreateOrderValidatesBody(t *testing.T) {
	h := newRouterHarness(t)
	token := h.token(t, uuid.New(), enums.RoleUser)

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/create-order", token, map[string]string{"invoiceId": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)
}

func TestTokenTransactionsPaginates(t *testing.T) {
	h := newRouterHarness(t)
	s := h.subscribeAndCapture(t)
	_, err := h.Ledger.Spend(context.Background(), s.userID, 10, uuid.New())
	require.NoError(t, err)

	rec, env := h.do(t, http.MethodGet, "/api/v1/tokens/transactions?limit=1", s.token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, string(enums.TokenTransactionUsage), page.Items[0]["type"])
	require.NotEmpty(t, page.NextCursor)

	rec, env = h.do(t, http.MethodGet, "/api/v1/tokens/transactions?limit=1&cursor="+url.QueryEscape(page.NextCursor), s.token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page.NextCursor = ""
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, string(enums.TokenTransactionSubscription), page.Items[0]["type"])
	require.Empty(t, page.NextCursor)

	rec, env = h.do(t, http.MethodGet, "/api/v1/tokens/transactions?cursor=bogus!", s.token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)
}

func TestSessionStatusRoute(t *testing.T) {
	h := newRouterHarness(t)
	userID := uuid.New()
	token := h.token(t, userID, enums.RoleUser)
	invoice := h.SeedBundleInvoice(t, userID, 500, "4.99")

	rec, env := h.do(t, http.MethodPost, "/plugins/mock/create-order", token, map[string]string{"invoiceId": invoice.ID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order payments.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &order))

	rec, env = h.do(t, http.MethodGet, "/plugins/mock/session-status/"+order.SessionID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status struct {
		Status gateway.PaymentStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Equal(t, gateway.StatusPending, status.Status)

	other := h.token(t, uuid.New(), enums.RoleUser)
	rec, _ = h.do(t, http.MethodGet, "/plugins/mock/session-status/"+order.SessionID, other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPluginRoutesRequireAdminRole(t *testing.T) {
	h := newRouterHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/api/admin/v1/plugins", h.token(t, uuid.New(), enums.RoleUser), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin := h.token(t, uuid.New(), enums.RoleAdmin)
	rec, env := h.do(t, http.MethodGet, "/api/admin/v1/plugins", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var statuses []plugins.Status
	require.NoError(t, json.Unmarshal(env.Data, &statuses))
	require.Len(t, statuses, 1)
	require.Equal(t, []string{mockpay.CredentialWebhookSecret}, statuses[0].CredentialKeys)

	rec, env = h.do(t, http.MethodPut, "/api/admin/v1/plugins/mock", admin, map[string]any{
		"enabled":     true,
		"sandbox":     true,
		"credentials": map[string]string{mockpay.CredentialWebhookSecret: "whsec_new"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status plugins.Status
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.True(t, status.Enabled)
	require.True(t, status.Sandbox)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := newRouterHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-Paycore-Env"))

	rec, _ = h.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	h.handler.ServeHTTP(metricsRec, req)
	require.Equal(t, http.StatusOK, metricsRec.Code)
}

func TestHealthReadyReportsDownDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	handler := controllers.HealthReady(cfg, nil, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: fmt.Errorf("connection refused")},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
