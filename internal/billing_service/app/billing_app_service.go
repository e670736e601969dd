package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
	collections "github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
	"github.com/recoverly/golang_services/internal/platform/database"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
)

const SubjectPaymentCompleted = "billing.payment.completed"

// DebtLedger is the part of the debt repository billing writes through. The locked read and
// the update run on the transaction passed in.
type DebtLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*collections.Debt, error)
	GetByIDForUpdate(ctx context.Context, q database.Querier, id uuid.UUID) (*collections.Debt, error)
	UpdatePaidAmount(ctx context.Context, q database.Querier, id uuid.UUID, amountPaidCents int64, status collections.DebtStatus) error
}

type DebtorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*collections.Debtor, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, q database.Querier, p *domain.Payment) (bool, error)
}

type LinkVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// PaymentCompletedEvent is published on billing.payment.completed after the debt is updated.
type PaymentCompletedEvent struct {
	PaymentID        uuid.UUID              `json:"payment_id"`
	DebtID           uuid.UUID              `json:"debt_id"`
	GatewayReference string                 `json:"gateway_reference"`
	AmountCents      int64                  `json:"amount_cents"`
	Currency         string                 `json:"currency"`
	AmountPaidCents  int64                  `json:"amount_paid_cents"`
	DebtStatus       collections.DebtStatus `json:"debt_status"`
	OccurredAt       time.Time              `json:"occurred_at"`
}

// BillingService turns payment links into checkout sessions and applies completed payments to debts.
type BillingService struct {
	db        database.TxQuerier
	debts     DebtLedger
	debtors   DebtorLookup
	payments  PaymentRepository
	gateway   domain.PaymentGatewayAdapter
	links     LinkVerifier
	publisher messagebroker.Publisher
	checkout  config.CheckoutConfig
	logger    *slog.Logger
}

func NewBillingService(
	db database.TxQuerier,
	debts DebtLedger,
	debtors DebtorLookup,
	payments PaymentRepository,
	gateway domain.PaymentGatewayAdapter,
	links LinkVerifier,
	publisher messagebroker.Publisher,
	checkout config.CheckoutConfig,
	logger *slog.Logger,
) *BillingService {
	if publisher == nil {
		publisher = messagebroker.NoopPublisher{}
	}
	return &BillingService{
		db:        db,
		debts:     debts,
		debtors:   debtors,
		payments:  payments,
		gateway:   gateway,
		links:     links,
		publisher: publisher,
		checkout:  checkout,
		logger:    logger.With("service", "billing"),
	}
}

// CreateCheckout opens a gateway checkout session for the remaining balance of the debt the
// payment-link token was minted for.
func (s *BillingService) CreateCheckout(ctx context.Context, token string) (session *domain.CheckoutSession, err error) {
	defer func() {
		checkoutSessionsCounter.WithLabelValues(checkoutOutcome(err)).Inc()
	}()

	debtID, err := s.links.Verify(token)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejected payment link", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentLinkFailed, err)
	}

	debt, err := s.debts.GetByID(ctx, debtID)
	if err != nil {
		return nil, fmt.Errorf("loading debt %s: %w", debtID, err)
	}
	if debt == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrDebtNotFound, debtID)
	}
	remaining := debt.RemainingCents()
	if remaining == 0 || debt.Status == collections.DebtStatusResolved || debt.Status == collections.DebtStatusWrittenOff {
		s.logger.InfoContext(ctx, "Payment link used for a settled debt", "debt_id", debtID, "status", debt.Status)
		return nil, fmt.Errorf("%w: %s", domain.ErrNothingToPay, debtID)
	}

	var customerEmail string
	debtor, err := s.debtors.GetByID(ctx, debt.DebtorID)
	if err != nil {
		return nil, fmt.Errorf("loading debtor %s: %w", debt.DebtorID, err)
	}
	if debtor != nil {
		customerEmail = debtor.Email
	}

	session, err = s.gateway.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		DebtID:        debt.ID,
		AmountCents:   remaining,
		Currency:      strings.ToLower(debt.Currency),
		Description:   fmt.Sprintf("Balance owed to %s", debt.OriginalCreditor),
		CustomerEmail: customerEmail,
		SuccessURL:    s.checkout.SuccessURL,
		CancelURL:     s.checkout.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Checkout session created", "debt_id", debt.ID, "session_id", session.ID, "amount_cents", remaining, "gateway", s.gateway.Name())
	return session, nil
}

// HandlePaymentWebhook verifies a gateway notification and applies the payment to its debt.
// Event types that do not complete a payment are acknowledged without changes, and a
// redelivered event is a no-op because the gateway reference is recorded in the same
// transaction that moves the debt's paid amount.
func (s *BillingService) HandlePaymentWebhook(ctx context.Context, rawPayload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhookEvent(ctx, rawPayload, signature)
	if err != nil {
		if errors.Is(err, domain.ErrUnhandledEvent) {
			s.logger.DebugContext(ctx, "Ignoring payment webhook", "reason", err)
			paymentWebhooksCounter.WithLabelValues("ignored").Inc()
			return nil
		}
		paymentWebhooksCounter.WithLabelValues("rejected").Inc()
		return err
	}
	logger := s.logger.With("debt_id", ev.DebtID, "gateway_reference", ev.Reference)
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payment := &domain.Payment{
		ID:               uuid.New(),
		DebtID:           ev.DebtID,
		GatewayReference: ev.Reference,
		AmountCents:      ev.AmountCents,
		Currency:         strings.ToLower(ev.Currency),
		Status:           domain.PaymentStatusSucceeded,
		CreatedAt:        ev.OccurredAt,
	}
	var (
		duplicate  bool
		paidCents  int64
		debtStatus collections.DebtStatus
	)
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		debt, err := s.debts.GetByIDForUpdate(ctx, tx, ev.DebtID)
		if err != nil {
			return err
		}
		if debt == nil {
			return fmt.Errorf("%w: %s", domain.ErrDebtNotFound, ev.DebtID)
		}
		if !strings.EqualFold(debt.Currency, ev.Currency) {
			return fmt.Errorf("%w: payment currency %q does not match debt currency %q", domain.ErrMalformedEvent, ev.Currency, debt.Currency)
		}

		inserted, err := s.payments.Create(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			duplicate = true
			return nil
		}

		paidCents = debt.AmountPaidCents + ev.AmountCents
		debtStatus = debt.StatusAfterPayment(paidCents)
		return s.debts.UpdatePaidAmount(ctx, tx, debt.ID, paidCents, debtStatus)
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to apply payment", "error", err)
		paymentWebhooksCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("applying payment %s: %w", ev.Reference, err)
	}
	if duplicate {
		logger.InfoContext(ctx, "Payment webhook already processed")
		paymentWebhooksCounter.WithLabelValues("duplicate").Inc()
		return nil
	}

	paymentWebhooksCounter.WithLabelValues("applied").Inc()
	collectedCentsCounter.WithLabelValues(payment.Currency).Add(float64(payment.AmountCents))
	logger.InfoContext(ctx, "Payment applied", "amount_cents", payment.AmountCents, "amount_paid_cents", paidCents, "debt_status", debtStatus)

	s.publishCompleted(ctx, PaymentCompletedEvent{
		PaymentID:        payment.ID,
		DebtID:           payment.DebtID,
		GatewayReference: payment.GatewayReference,
		AmountCents:      payment.AmountCents,
		Currency:         payment.Currency,
		AmountPaidCents:  paidCents,
		DebtStatus:       debtStatus,
		OccurredAt:       payment.CreatedAt,
	})
	return nil
}

// publishCompleted never fails the webhook: the payment is already committed.
func (s *BillingService) publishCompleted(ctx context.Context, ev PaymentCompletedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal payment event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, SubjectPaymentCompleted, data); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish payment event", "error", err, "subject", SubjectPaymentCompleted)
	}
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrPaymentLinkFailed):
		return "invalid_link"
	case errors.Is(err, domain.ErrNothingToPay):
		return "settled"
	default:
		return "error"
	}
}
