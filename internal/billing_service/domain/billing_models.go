package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature  = errors.New("webhook signature verification failed")
	ErrUnhandledEvent    = errors.New("unhandled payment gateway event")
	ErrMalformedEvent    = errors.New("malformed payment gateway event")
	ErrDebtNotFound      = errors.New("debt not found")
	ErrNothingToPay      = errors.New("debt has no outstanding balance")
	ErrGatewayFailure    = errors.New("payment gateway request failed")
	ErrPaymentLinkFailed = errors.New("payment link is invalid or expired")
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
)

// Payment is one settled gateway payment applied to a debt. GatewayReference is unique,
// which is what makes webhook redelivery a no-op.
type Payment struct {
	ID               uuid.UUID
	DebtID           uuid.UUID
	GatewayReference string
	AmountCents      int64
	Currency         string
	Status           PaymentStatus
	CreatedAt        time.Time
}

type CheckoutRequest struct {
	DebtID        uuid.UUID
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEvent is a gateway notification reduced to what the ledger needs.
type PaymentEvent struct {
	Type        string
	Reference   string
	DebtID      uuid.UUID
	AmountCents int64
	Currency    string
	OccurredAt  time.Time
}

// PaymentGatewayAdapter is implemented by the Stripe adapter and the mock gateway.
type PaymentGatewayAdapter interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ParseWebhookEvent verifies the signature and returns ErrUnhandledEvent for event
	// types that do not complete a payment.
	ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error)
	Name() string
}
