package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
)

// Outreach starts a conversation with a debtor: it opens (or reuses) the thread for the subject
// and sends the first AI-drafted message.
type Outreach struct {
	debts             domain.DebtRepository
	debtors           domain.DebtorRepository
	threads           domain.ThreadRepository
	emails            domain.EmailRepository
	generator         domain.ResponseGenerator
	dispatcher        *Dispatcher
	usage             domain.AIUsageRepository
	events            *eventEmitter
	generationTimeout time.Duration
	logger            *slog.Logger
}

func NewOutreach(
	debts domain.DebtRepository,
	debtors domain.DebtorRepository,
	threads domain.ThreadRepository,
	emails domain.EmailRepository,
	generator domain.ResponseGenerator,
	dispatcher *Dispatcher,
	usage domain.AIUsageRepository,
	publisher messagebroker.Publisher,
	generationTimeout time.Duration,
	logger *slog.Logger,
) *Outreach {
	logger = logger.With("service", "outreach")
	return &Outreach{
		debts:             debts,
		debtors:           debtors,
		threads:           threads,
		emails:            emails,
		generator:         generator,
		dispatcher:        dispatcher,
		usage:             usage,
		events:            newEventEmitter(publisher, logger),
		generationTimeout: generationTimeout,
		logger:            logger,
	}
}

// SendInitialContact emails the debtor of debtID. An empty subject defaults to one naming the
// original creditor.
func (o *Outreach) SendInitialContact(ctx context.Context, debtID uuid.UUID, subject string) (*domain.Email, error) {
	logger := o.logger.With("debt_id", debtID)

	debt, err := o.debts.GetByID(ctx, debtID)
	if err != nil {
		return nil, fmt.Errorf("loading debt: %w", err)
	}
	if debt == nil {
		return nil, fmt.Errorf("debt %s: %w", debtID, domain.ErrNotFound)
	}
	debtor, err := o.debtors.GetByID(ctx, debt.DebtorID)
	if err != nil {
		return nil, fmt.Errorf("loading debtor: %w", err)
	}
	if debtor == nil {
		return nil, fmt.Errorf("debtor %s: %w", debt.DebtorID, domain.ErrNotFound)
	}
	if !debtor.EmailConsent {
		logger.WarnContext(ctx, "Skipping outreach, debtor has not consented to email", "debtor_id", debtor.ID)
		return nil, domain.ErrNoEmailConsent
	}

	if subject == "" {
		subject = fmt.Sprintf("Regarding your account with %s", debt.OriginalCreditor)
	}
	thread, created, err := o.threads.GetOrCreate(ctx, debtor.ID, subject)
	if err != nil {
		return nil, fmt.Errorf("opening thread: %w", err)
	}
	logger = logger.With("thread_id", thread.ID, "thread_created", created)

	history, err := threadHistory(ctx, o.emails, thread.ID)
	if err != nil {
		return nil, err
	}
	resp, err := generateWithTimeout(ctx, o.generator, o.generationTimeout, history, debt)
	if err != nil {
		return nil, err
	}
	recordUsage(ctx, o.usage, logger, resp, thread.ID, debt.ID, "initial_contact")

	outbound, err := o.dispatcher.Dispatch(ctx, resp, thread, debt, nil)
	if err != nil {
		return nil, err
	}
	o.events.emailEvent(ctx, SubjectEmailSent, outbound, "")
	logger.InfoContext(ctx, "Initial contact sent", "message_id", outbound.MessageID)
	return outbound, nil
}
