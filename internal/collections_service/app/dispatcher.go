package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/collections_service/mailheader"
)

// DispatcherConfig is built from config.EmailConfig by main.
type DispatcherConfig struct {
	FromAddress        string
	DefaultFromAddress string
	MailDomain         string
	Timeout            time.Duration
}

func (c DispatcherConfig) from() string {
	if c.FromAddress != "" {
		return c.FromAddress
	}
	return c.DefaultFromAddress
}

// PaymentLinker returns the payment page URL for a debt, or "" when links are disabled.
type PaymentLinker interface {
	URL(debtID uuid.UUID) (string, error)
}

// Dispatcher sends a generated reply and records it as an outbound email. It does not retry.
type Dispatcher struct {
	sender  domain.EmailSender
	emails  domain.EmailRepository
	debtors domain.DebtorRepository
	links   PaymentLinker
	cfg     DispatcherConfig
	logger  *slog.Logger
}

func NewDispatcher(
	sender domain.EmailSender,
	emails domain.EmailRepository,
	debtors domain.DebtorRepository,
	links PaymentLinker,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.MailDomain == "" {
		cfg.MailDomain = "localhost"
	}
	return &Dispatcher{
		sender:  sender,
		emails:  emails,
		debtors: debtors,
		links:   links,
		cfg:     cfg,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Dispatch delivers resp to the thread's debtor. inReplyTo is the inbound email being answered,
// or nil for a first contact.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	resp *domain.GeneratedResponse,
	thread *domain.EmailThread,
	debt *domain.Debt,
	inReplyTo *domain.Email,
) (*domain.Email, error) {
	debtor, err := d.debtors.GetByID(ctx, thread.DebtorID)
	if err != nil {
		return nil, fmt.Errorf("loading debtor: %w", err)
	}
	if debtor == nil {
		return nil, fmt.Errorf("debtor %s: %w", thread.DebtorID, domain.ErrNotFound)
	}

	history, err := d.emails.ListByThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("building references: %w", err)
	}

	messageID := uuid.NewString()
	headerMessageID := mailheader.FormatMessageID(messageID, d.cfg.MailDomain)
	headers := map[string]string{"Message-ID": headerMessageID}
	if inReplyTo != nil {
		headers["In-Reply-To"] = wireMessageID(inReplyTo, d.cfg.MailDomain)
	}
	if refs := d.referencesHeader(history); refs != "" {
		headers["References"] = refs
	}

	paymentURL := ""
	if d.links != nil {
		paymentURL, err = d.links.URL(debt.ID)
		if err != nil {
			d.logger.WarnContext(ctx, "Could not create payment link, sending without it", "error", err, "debt_id", debt.ID)
			paymentURL = ""
		}
	}

	body, err := renderReply(resp, paymentURL)
	if err != nil {
		return nil, err
	}

	msg := domain.OutboundMessage{
		From:    d.cfg.from(),
		To:      debtor.Email,
		Subject: resp.Subject,
		HTML:    body.HTML,
		Text:    body.Text,
		Headers: headers,
		Tags: map[string]string{
			"thread_id": thread.ID.String(),
			"debt_id":   debt.ID.String(),
		},
	}

	sendCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	result, err := d.sender.Send(sendCtx, msg)
	if err != nil {
		d.logger.ErrorContext(ctx, "Email provider rejected reply", "error", err, "provider", d.sender.Name(), "thread_id", thread.ID)
		return nil, fmt.Errorf("%w: %w", domain.ErrDelivery, err)
	}

	outbound := &domain.Email{
		MessageID:       messageID,
		HeaderMessageID: sql.NullString{String: headerMessageID, Valid: true},
		ThreadID:        uuid.NullUUID{UUID: thread.ID, Valid: true},
		DebtID:          uuid.NullUUID{UUID: debt.ID, Valid: true},
		Direction:       domain.DirectionOutbound,
		FromAddress:     msg.From,
		ToAddress:       msg.To,
		Subject:         msg.Subject,
		TextBody:        body.Text,
		HTMLBody:        body.HTML,
		AIGenerated:     true,
	}
	if inReplyTo != nil {
		outbound.ReplyTo = sql.NullString{String: inReplyTo.MessageID, Valid: true}
	}
	if result != nil && result.ProviderMessageID != "" {
		outbound.ProviderMessageID = sql.NullString{String: result.ProviderMessageID, Valid: true}
	}

	if err := d.emails.Create(ctx, outbound); err != nil {
		d.logger.ErrorContext(ctx, "Reply was sent but could not be recorded", "error", err, "message_id", messageID)
		return nil, fmt.Errorf("recording outbound email: %w", err)
	}

	d.logger.InfoContext(ctx, "Reply dispatched",
		"thread_id", thread.ID,
		"message_id", messageID,
		"provider_message_id", outbound.ProviderMessageID.String,
		"reply_to", outbound.ReplyTo.String)
	return outbound, nil
}

// referencesHeader lists the thread's Message-IDs oldest first, each in the form it was sent or
// received with, so clients on both sides can thread the reply. history is newest first.
func (d *Dispatcher) referencesHeader(history []*domain.Email) string {
	ids := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		ids = append(ids, wireMessageID(history[i], d.cfg.MailDomain))
	}
	return strings.Join(ids, " ")
}

func wireMessageID(e *domain.Email, mailDomain string) string {
	if e.HeaderMessageID.Valid && e.HeaderMessageID.String != "" {
		return e.HeaderMessageID.String
	}
	return mailheader.FormatMessageID(e.MessageID, mailDomain)
}
