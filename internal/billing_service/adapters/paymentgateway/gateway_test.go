package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
)

const testWebhookSecret = "whsec_test_secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStripeAdapter(t *testing.T, handler http.HandlerFunc) *StripeAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		HTTPClient:        server.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeAdapter("sk_test_123", testWebhookSecret, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}, testLogger())
}

func signedEvent(t *testing.T, eventType string, session map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"created":     1709287200,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeAdapter_CreateCheckoutSession(t *testing.T) {
	debtID := uuid.New()
	adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "100050", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "Acme Bank balance", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, debtID.String(), r.PostForm.Get("metadata[debt_id]"))
		assert.Equal(t, debtID.String(), r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "jane@example.com", r.PostForm.Get("customer_email"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	})

	session, err := adapter.CreateCheckoutSession(context.Background(), domain.CheckoutRequest{
		DebtID:        debtID,
		AmountCents:   100050,
		Currency:      "usd",
		Description:   "Acme Bank balance",
		CustomerEmail: "jane@example.com",
		SuccessURL:    "https://pay.example.com/done",
		CancelURL:     "https://pay.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)
}

func TestStripeAdapter_CreateCheckoutSession_APIError(t *testing.T) {
	adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid currency: zzz"}}`)
	})

	_, err := adapter.CreateCheckoutSession(context.Background(), domain.CheckoutRequest{
		DebtID: uuid.New(), AmountCents: 100, Currency: "zzz", Description: "x",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Contains(t, err.Error(), "Invalid currency: zzz")
}

func TestStripeAdapter_ParseWebhookEvent(t *testing.T) {
	adapter := NewStripeAdapter("sk_test_123", testWebhookSecret, nil, testLogger())
	ctx := context.Background()
	debtID := uuid.New()

	t.Run("completed checkout", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", map[string]any{
			"id":             "cs_test_1",
			"object":         "checkout.session",
			"amount_total":   25000,
			"currency":       "usd",
			"payment_status": "paid",
			"metadata":       map[string]string{"debt_id": debtID.String()},
		})
		ev, err := adapter.ParseWebhookEvent(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, "cs_test_1", ev.Reference)
		assert.Equal(t, debtID, ev.DebtID)
		assert.Equal(t, int64(25000), ev.AmountCents)
		assert.Equal(t, "usd", ev.Currency)
		assert.Equal(t, time.Unix(1709287200, 0).UTC(), ev.OccurredAt)
	})

	t.Run("client reference fallback", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.async_payment_succeeded", map[string]any{
			"id":                  "cs_test_2",
			"object":              "checkout.session",
			"amount_total":        100,
			"currency":            "usd",
			"payment_status":      "paid",
			"client_reference_id": debtID.String(),
		})
		ev, err := adapter.ParseWebhookEvent(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, debtID, ev.DebtID)
	})

	t.Run("unpaid session is not a payment", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", map[string]any{
			"id": "cs_test_3", "object": "checkout.session", "amount_total": 100, "payment_status": "unpaid",
			"metadata": map[string]string{"debt_id": debtID.String()},
		})
		_, err := adapter.ParseWebhookEvent(ctx, payload, header)
		assert.ErrorIs(t, err, domain.ErrUnhandledEvent)
	})

	t.Run("other event type", func(t *testing.T) {
		payload, header := signedEvent(t, "customer.created", map[string]any{"id": "cus_1", "object": "customer"})
		_, err := adapter.ParseWebhookEvent(ctx, payload, header)
		assert.ErrorIs(t, err, domain.ErrUnhandledEvent)
	})

	t.Run("missing debt id", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", map[string]any{
			"id": "cs_test_4", "object": "checkout.session", "amount_total": 100, "payment_status": "paid",
		})
		_, err := adapter.ParseWebhookEvent(ctx, payload, header)
		assert.ErrorIs(t, err, domain.ErrMalformedEvent)
	})

	t.Run("bad signature", func(t *testing.T) {
		payload, _ := signedEvent(t, "checkout.session.completed", map[string]any{"id": "cs_test_5"})
		_, err := adapter.ParseWebhookEvent(ctx, payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestMockPaymentGatewayAdapter(t *testing.T) {
	ctx := context.Background()
	debtID := uuid.New()

	t.Run("checkout", func(t *testing.T) {
		session, err := NewMockPaymentGatewayAdapter(testLogger(), false).CreateCheckoutSession(ctx, domain.CheckoutRequest{DebtID: debtID, AmountCents: 10})
		require.NoError(t, err)
		assert.Contains(t, session.URL, session.ID)

		_, err = NewMockPaymentGatewayAdapter(testLogger(), true).CreateCheckoutSession(ctx, domain.CheckoutRequest{DebtID: debtID})
		assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	})

	t.Run("webhook", func(t *testing.T) {
		m := NewMockPaymentGatewayAdapter(testLogger(), false)
		body := fmt.Sprintf(`{"type":"payment.succeeded","reference":"ref-1","debt_id":%q,"amount_cents":500}`, debtID)

		ev, err := m.ParseWebhookEvent(ctx, []byte(body), "sig")
		require.NoError(t, err)
		assert.Equal(t, "ref-1", ev.Reference)
		assert.Equal(t, "usd", ev.Currency)

		_, err = m.ParseWebhookEvent(ctx, []byte(body), "invalid_signature")
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)

		_, err = m.ParseWebhookEvent(ctx, []byte(`{"type":"payment.failed"}`), "")
		assert.ErrorIs(t, err, domain.ErrUnhandledEvent)

		_, err = m.ParseWebhookEvent(ctx, []byte(`{"type":"payment.succeeded","debt_id":"nope"}`), "")
		assert.ErrorIs(t, err, domain.ErrMalformedEvent)
	})
}

func TestNewFromConfig(t *testing.T) {
	gw, err := NewFromConfig(config.CheckoutConfig{Gateway: "stripe", SecretKey: "sk_test", WebhookSecret: "whsec"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw.Name())

	gw, err = NewFromConfig(config.CheckoutConfig{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", gw.Name())

	_, err = NewFromConfig(config.CheckoutConfig{Gateway: "stripe"}, testLogger())
	assert.Error(t, err)
	_, err = NewFromConfig(config.CheckoutConfig{Gateway: "paypal"}, testLogger())
	assert.Error(t, err)
}
