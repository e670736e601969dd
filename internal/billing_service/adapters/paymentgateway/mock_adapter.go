package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
)

const MockEventPaymentSucceeded = "payment.succeeded"

// MockWebhookPayload is the body the mock gateway accepts on the payment webhook.
type MockWebhookPayload struct {
	Type        string `json:"type"`
	Reference   string `json:"reference"`
	DebtID      string `json:"debt_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// MockPaymentGatewayAdapter is used for local development. A signature of "invalid_signature"
// is rejected; anything else passes.
type MockPaymentGatewayAdapter struct {
	logger                *slog.Logger
	SimulateCreateFailure bool
}

func NewMockPaymentGatewayAdapter(logger *slog.Logger, createFail bool) *MockPaymentGatewayAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockPaymentGatewayAdapter{
		logger:                logger.With("adapter", "mock_payment_gateway"),
		SimulateCreateFailure: createFail,
	}
}

func (m *MockPaymentGatewayAdapter) Name() string { return "mock" }

func (m *MockPaymentGatewayAdapter) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	m.logger.InfoContext(ctx, "MockPaymentGatewayAdapter: CreateCheckoutSession called", "amount_cents", req.AmountCents, "currency", req.Currency, "debt_id", req.DebtID)

	if m.SimulateCreateFailure {
		gatewayRequestsCounter.WithLabelValues(m.Name(), "create_checkout", "error").Inc()
		return nil, fmt.Errorf("%w: mock gateway simulated failure", domain.ErrGatewayFailure)
	}

	id := "mock_cs_" + uuid.New().String()
	gatewayRequestsCounter.WithLabelValues(m.Name(), "create_checkout", "ok").Inc()
	return &domain.CheckoutSession{ID: id, URL: "https://mockgateway.dev/checkout/" + id}, nil
}

func (m *MockPaymentGatewayAdapter) ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*domain.PaymentEvent, error) {
	m.logger.InfoContext(ctx, "MockPaymentGatewayAdapter: ParseWebhookEvent called", "signature_present", signature != "", "payload_len", len(payload))

	if signature == "invalid_signature" {
		return nil, domain.ErrInvalidSignature
	}

	var body MockWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if body.Type != MockEventPaymentSucceeded {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnhandledEvent, body.Type)
	}
	debtID, err := uuid.Parse(body.DebtID)
	if err != nil {
		return nil, fmt.Errorf("%w: debt_id: %v", domain.ErrMalformedEvent, err)
	}
	if body.Reference == "" || body.AmountCents <= 0 {
		return nil, errors.Join(domain.ErrMalformedEvent, errors.New("reference and a positive amount_cents are required"))
	}
	currency := body.Currency
	if currency == "" {
		currency = "usd"
	}

	return &domain.PaymentEvent{
		Type:        body.Type,
		Reference:   body.Reference,
		DebtID:      debtID,
		AmountCents: body.AmountCents,
		Currency:    currency,
		OccurredAt:  time.Now().UTC(),
	}, nil
}
