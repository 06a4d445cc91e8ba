package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/gateway"
	"github.com/angelmondragon/paycore/pkg/money"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	adapter, err := New(context.Background(), gateway.Settings{
		Sandbox: true,
		Credentials: map[string]string{
			CredentialAPIKey:        "sk_test_123",
			CredentialWebhookSecret: testSecret,
		},
	}, gateway.Options{
		BaseURL: baseURL,
		Retrier: gateway.NewRetrier(gateway.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Cap: time.Millisecond, Timeout: time.Second}),
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestNewValidatesCredentials(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, gateway.Settings{Sandbox: true, Credentials: map[string]string{CredentialWebhookSecret: "whsec"}}, gateway.Options{})
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = New(ctx, gateway.Settings{Sandbox: true, Credentials: map[string]string{CredentialAPIKey: "sk_test_1"}}, gateway.Options{})
	require.ErrorIs(t, err, errSecretRequired)

	_, err = New(ctx, gateway.Settings{Sandbox: true, Credentials: map[string]string{CredentialAPIKey: "sk_live_1", CredentialWebhookSecret: "whsec"}}, gateway.Options{})
	require.Error(t, err)

	adapter, err := New(ctx, gateway.Settings{Credentials: map[string]string{CredentialAPIKey: "sk_live_1", CredentialWebhookSecret: "whsec"}}, gateway.Options{})
	require.NoError(t, err)
	require.Equal(t, "live", adapter.(*Adapter).Environment())
	require.Equal(t, gateway.CaptureAutomatic, adapter.CaptureMode())
}

func TestCheckKey(t *testing.T) {
	cases := []struct {
		mode mode
		key  string
		ok   bool
	}{
		{modeTest, "sk_test_abc", true},
		{modeTest, "rk_test_abc", true},
		{modeTest, "sk_live_abc", false},
		{modeLive, "sk_live_abc", true},
		{modeLive, "rk_live_abc", true},
		{modeLive, "sk_test_abc", false},
		{modeLive, "pk_live_abc", false},
	}
	for _, tc := range cases {
		err := checkKey(tc.mode, tc.key)
		if tc.ok {
			assert.NoError(t, err, "%s %s", tc.mode, tc.key)
		} else {
			assert.Error(t, err, "%s %s", tc.mode, tc.key)
		}
	}
	require.ErrorIs(t, checkKey("staging", "sk_live_abc"), errUnknownMode)
	require.Equal(t, modeTest, modeFor(true))
}

func TestCreatePaymentIntentOpensCheckoutSession(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "1999", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "inv-1", r.PostForm.Get("metadata[invoice_id]"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))

		w.Header().Set("Content-Type", "application/json")
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"try again"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	res, err := adapter.CreatePaymentIntent(context.Background(), gateway.PaymentIntentRequest{
		Amount:         money.Amount{Value: decimal.RequireFromString("19.99"), Currency: "USD"},
		Metadata:       map[string]string{gateway.MetadataInvoiceID: "inv-1"},
		IdempotencyKey: "idem-1",
		ReturnURL:      "https://app.test/return",
		CancelURL:      "https://app.test/cancel",
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, "cs_test_1", res.SessionID)
	require.Equal(t, "https://checkout.stripe.test/cs_test_1", res.RedirectURL)
	require.Equal(t, int32(2), attempts.Load())
}

func TestCreatePaymentIntentRejectsExcessPrecision(t *testing.T) {
	adapter := newTestAdapter(t, "http://127.0.0.1:1")
	_, err := adapter.CreatePaymentIntent(context.Background(), gateway.PaymentIntentRequest{
		Amount: money.Amount{Value: decimal.RequireFromString("1.999"), Currency: "USD"},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetStatusMapsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_paid":
			_, _ = w.Write([]byte(`{"id":"cs_paid","object":"checkout.session","status":"complete","payment_status":"paid","amount_total":1000,"currency":"usd","payment_intent":"pi_123"}`))
		case "/v1/checkout/sessions/cs_missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	status, err := adapter.GetStatus(context.Background(), "cs_paid")
	require.NoError(t, err)
	require.True(t, status.OK)
	require.Equal(t, gateway.StatusPaid, status.Status)
	require.Equal(t, "pi_123", status.TransactionID)
	require.True(t, status.Amount.Value.Equal(decimal.RequireFromString("10")))
	require.Equal(t, "USD", status.Amount.Currency)

	capture, err := adapter.CaptureOrder(context.Background(), "cs_paid")
	require.NoError(t, err)
	require.Equal(t, "pi_123", capture.CaptureID)
	require.Equal(t, gateway.StatusPaid, capture.Status)

	missing, err := adapter.GetStatus(context.Background(), "cs_missing")
	require.NoError(t, err)
	require.False(t, missing.OK)
	require.Equal(t, "not_found", missing.ErrorCode)
}

func TestRefundRejectsUnknownReference(t *testing.T) {
	adapter := newTestAdapter(t, "http://127.0.0.1:1")
	res, err := adapter.Refund(context.Background(), gateway.RefundRequest{CaptureRef: "sub_123"})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "unsupported_reference", res.ErrorCode)
}

func TestVerifyWebhookSignatureMapsCheckoutCompleted(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": "paid",
		"amount_total":   2500,
		"currency":       "usd",
		"payment_intent": "pi_1",
		"metadata":       map[string]string{"invoice_id": "inv-1"},
	})
	headers := http.Header{}
	headers.Set(SignatureHeader, buildStripeSignatureHeader(payload, testSecret, time.Now()))

	evt, err := adapter.VerifyWebhookSignature(context.Background(), gateway.WebhookRequest{Payload: payload, Headers: headers})
	require.NoError(t, err)
	require.Equal(t, "evt_1", evt.ID)
	require.Equal(t, gateway.EventPaymentSucceeded, evt.Type)
	require.Equal(t, "cs_test_1", evt.ExternalRef)
	require.Equal(t, "pi_1", evt.TransactionID)
	require.Equal(t, "inv-1", evt.InvoiceID)
	require.True(t, evt.Amount.Value.Equal(decimal.RequireFromString("25")))
}

func TestVerifyWebhookSignatureMapsOtherEvents(t *testing.T) {
	adapter := newTestAdapter(t, "")
	cases := []struct {
		name     string
		typ      string
		object   map[string]any
		expected gateway.WebhookEventType
		check    func(t *testing.T, evt *gateway.WebhookEvent)
	}{
		{
			name:     "refund",
			typ:      "charge.refunded",
			object:   map[string]any{"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "amount_refunded": 500, "currency": "usd"},
			expected: gateway.EventRefundCreated,
			check: func(t *testing.T, evt *gateway.WebhookEvent) {
				require.Equal(t, "pi_1", evt.TransactionID)
			},
		},
		{
			name:     "subscription deleted",
			typ:      "customer.subscription.deleted",
			object:   map[string]any{"id": "sub_1", "object": "subscription", "cancellation_details": map[string]any{"reason": "cancellation_requested"}},
			expected: gateway.EventSubscriptionCancelled,
			check: func(t *testing.T, evt *gateway.WebhookEvent) {
				require.Equal(t, "sub_1", evt.SubscriptionRef)
				require.Equal(t, "cancellation_requested", evt.Reason)
			},
		},
		{
			name:     "payment failed",
			typ:      "payment_intent.payment_failed",
			object:   map[string]any{"id": "pi_2", "object": "payment_intent", "amount": 100, "currency": "usd", "last_payment_error": map[string]any{"code": "card_declined", "message": "Your card was declined."}},
			expected: gateway.EventPaymentFailed,
			check: func(t *testing.T, evt *gateway.WebhookEvent) {
				require.Equal(t, "card_declined", evt.ErrorCode)
				require.Equal(t, "pi_2", evt.TransactionID)
			},
		},
		{
			name:     "unrelated",
			typ:      "customer.created",
			object:   map[string]any{"id": "cus_1", "object": "customer"},
			expected: gateway.EventUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := eventPayload(t, "evt_"+tc.name, tc.typ, tc.object)
			headers := http.Header{}
			headers.Set(SignatureHeader, buildStripeSignatureHeader(payload, testSecret, time.Now()))
			evt, err := adapter.VerifyWebhookSignature(context.Background(), gateway.WebhookRequest{Payload: payload, Headers: headers})
			require.NoError(t, err)
			require.Equal(t, tc.expected, evt.Type)
			if tc.check != nil {
				tc.check(t, evt)
			}
		})
	}
}

func TestVerifyWebhookSignatureRejectsTampering(t *testing.T) {
	adapter := newTestAdapter(t, "")
	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]any{"id": "cs_1", "object": "checkout.session"})

	headers := http.Header{}
	headers.Set(SignatureHeader, buildStripeSignatureHeader(payload, "whsec_other", time.Now()))
	_, err := adapter.VerifyWebhookSignature(context.Background(), gateway.WebhookRequest{Payload: payload, Headers: headers})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignature))

	_, err = adapter.VerifyWebhookSignature(context.Background(), gateway.WebhookRequest{Payload: payload, Headers: http.Header{}})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignature))
}

func eventPayload(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2020-08-27",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func buildStripeSignatureHeader(payload []byte, secret string, ts time.Time) string {
	timestamp := ts.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
