package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
)

const (
	stripeEventCheckoutCompleted     = "checkout.session.completed"
	stripeEventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	debtIDMetadataKey                = "debt_id"
)

// StripeAdapter creates Checkout Sessions and turns completed-checkout webhooks into payments.
type StripeAdapter struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
}

// NewStripeAdapter builds the adapter. backends may be nil to use Stripe's production endpoints.
func NewStripeAdapter(secretKey, webhookSecret string, backends *stripe.Backends, logger *slog.Logger) *StripeAdapter {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeAdapter{
		api:           api,
		webhookSecret: webhookSecret,
		logger:        logger.With("adapter", "stripe_payment_gateway"),
	}
}

func (a *StripeAdapter) Name() string { return "stripe" }

func (a *StripeAdapter) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (session *domain.CheckoutSession, err error) {
	defer func() {
		gatewayRequestsCounter.WithLabelValues(a.Name(), "create_checkout", outcome(err)).Inc()
	}()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.DebtID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{debtIDMetadataKey: req.DebtID.String()},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(debtIDMetadataKey, req.DebtID.String())
	params.Context = ctx

	cs, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			a.logger.ErrorContext(ctx, "Stripe rejected checkout session", "status", stripeErr.HTTPStatusCode, "code", stripeErr.Code, "message", stripeErr.Msg, "debt_id", req.DebtID)
			return nil, fmt.Errorf("%w: stripe status %d: %s", domain.ErrGatewayFailure, stripeErr.HTTPStatusCode, stripeErr.Msg)
		}
		a.logger.ErrorContext(ctx, "Stripe checkout session request failed", "error", err, "debt_id", req.DebtID)
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
	}

	a.logger.InfoContext(ctx, "Stripe checkout session created", "session_id", cs.ID, "debt_id", req.DebtID, "amount_cents", req.AmountCents)
	return &domain.CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

func (a *StripeAdapter) ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (ev *domain.PaymentEvent, err error) {
	defer func() {
		if !errors.Is(err, domain.ErrUnhandledEvent) {
			gatewayRequestsCounter.WithLabelValues(a.Name(), "webhook", outcome(err)).Inc()
		}
	}()

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "Stripe webhook rejected", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	switch string(event.Type) {
	case stripeEventCheckoutCompleted, stripeEventAsyncPaymentSucceeded:
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnhandledEvent, event.Type)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: decoding checkout session: %v", domain.ErrMalformedEvent, err)
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Delayed payment methods complete the session before the money arrives; the
		// async_payment_succeeded event follows.
		return nil, fmt.Errorf("%w: checkout %s payment_status %s", domain.ErrUnhandledEvent, cs.ID, cs.PaymentStatus)
	}

	rawDebtID := cs.Metadata[debtIDMetadataKey]
	if rawDebtID == "" {
		rawDebtID = cs.ClientReferenceID
	}
	debtID, err := uuid.Parse(rawDebtID)
	if err != nil {
		return nil, fmt.Errorf("%w: checkout %s has no debt id", domain.ErrMalformedEvent, cs.ID)
	}
	if cs.AmountTotal <= 0 {
		return nil, fmt.Errorf("%w: checkout %s has no amount", domain.ErrMalformedEvent, cs.ID)
	}

	occurredAt := time.Now().UTC()
	if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}
	return &domain.PaymentEvent{
		Type:        string(event.Type),
		Reference:   cs.ID,
		DebtID:      debtID,
		AmountCents: cs.AmountTotal,
		Currency:    string(cs.Currency),
		OccurredAt:  occurredAt,
	}, nil
}
