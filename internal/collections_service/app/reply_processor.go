package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/collections_service/mailheader"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
)

// Pipeline stages, used for logging and metrics.
const (
	stageParse    = "parse"
	stageResolve  = "resolve_thread"
	stageInbound  = "persist_inbound"
	stageGenerate = "generate_response"
	stageDispatch = "send_and_persist_outbound"
)

// ProcessResult describes one completed reply cycle.
type ProcessResult struct {
	Thread        *domain.EmailThread
	ThreadCreated bool
	Inbound       *domain.Email
	Outbound      *domain.Email
}

// ReplyProcessor runs the inbound reply pipeline:
// parse, resolve thread, persist inbound, generate, send, persist outbound.
// Any failing stage aborts the run; rows written by earlier stages are kept.
type ReplyProcessor struct {
	resolver          *ThreadResolver
	emails            domain.EmailRepository
	debts             domain.DebtRepository
	generator         domain.ResponseGenerator
	dispatcher        *Dispatcher
	usage             domain.AIUsageRepository
	events            *eventEmitter
	generationTimeout time.Duration
	logger            *slog.Logger
}

func NewReplyProcessor(
	resolver *ThreadResolver,
	emails domain.EmailRepository,
	debts domain.DebtRepository,
	generator domain.ResponseGenerator,
	dispatcher *Dispatcher,
	usage domain.AIUsageRepository,
	publisher messagebroker.Publisher,
	generationTimeout time.Duration,
	logger *slog.Logger,
) *ReplyProcessor {
	logger = logger.With("service", "reply_processor")
	return &ReplyProcessor{
		resolver:          resolver,
		emails:            emails,
		debts:             debts,
		generator:         generator,
		dispatcher:        dispatcher,
		usage:             usage,
		events:            newEventEmitter(publisher, logger),
		generationTimeout: generationTimeout,
		logger:            logger,
	}
}

// ProcessInbound handles one inbound notification. It returns domain.ErrIgnoredEvent for
// notification types other than email.received.
func (p *ReplyProcessor) ProcessInbound(ctx context.Context, n *domain.InboundNotification) (*ProcessResult, error) {
	if n.Type != domain.EventTypeEmailReceived {
		inboundProcessedCounter.WithLabelValues("ignored").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrIgnoredEvent, n.Type)
	}

	res, err := p.run(ctx, n)
	if err != nil {
		inboundProcessedCounter.WithLabelValues("failed").Inc()
		return nil, err
	}
	inboundProcessedCounter.WithLabelValues("replied").Inc()
	return res, nil
}

func (p *ReplyProcessor) run(ctx context.Context, n *domain.InboundNotification) (*ProcessResult, error) {
	logger := p.logger.With("provider_email_id", n.ProviderEmailID)

	// Parsed
	stageStart := time.Now()
	sender, messageID, headerMessageID, err := parseInbound(n)
	if err != nil {
		return nil, p.fail(ctx, logger, stageParse, err)
	}
	logger = logger.With("message_id", messageID)
	observeStage(stageParse, stageStart)

	// ThreadResolved
	stageStart = time.Now()
	resolution, err := p.resolver.Resolve(ctx, n, sender)
	if err != nil {
		return nil, p.fail(ctx, logger, stageResolve, err)
	}
	thread := resolution.Thread
	logger = logger.With("thread_id", thread.ID, "debt_id", resolution.DebtID)
	observeStage(stageResolve, stageStart)

	// Persisted(inbound)
	stageStart = time.Now()
	inbound := &domain.Email{
		MessageID:       messageID,
		HeaderMessageID: headerMessageID,
		ThreadID:        uuid.NullUUID{UUID: thread.ID, Valid: true},
		DebtID:          uuid.NullUUID{UUID: resolution.DebtID, Valid: true},
		Direction:       domain.DirectionInbound,
		FromAddress:     sender,
		ToAddress:       strings.Join(n.To, ", "),
		Subject:         n.Subject,
		TextBody:        n.Text,
		HTMLBody:        n.HTML,
		ReplyTo:         sql.NullString{String: resolution.ReplyTo, Valid: resolution.ReplyTo != ""},
	}
	if n.ProviderEmailID != "" {
		inbound.ProviderMessageID = sql.NullString{String: n.ProviderEmailID, Valid: true}
	}
	if err := p.emails.Create(ctx, inbound); err != nil {
		return nil, p.fail(ctx, logger, stageInbound, err)
	}
	observeStage(stageInbound, stageStart)
	logger.InfoContext(ctx, "Inbound email recorded", "resolution", resolution.Path)
	p.events.emailEvent(ctx, SubjectEmailReceived, inbound, "")

	// ResponseGenerated
	stageStart = time.Now()
	debt, err := p.debts.GetByID(ctx, resolution.DebtID)
	if err == nil && debt == nil {
		err = fmt.Errorf("debt %s: %w", resolution.DebtID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, p.fail(ctx, logger, stageGenerate, err)
	}
	history, err := threadHistory(ctx, p.emails, thread.ID)
	if err != nil {
		return nil, p.fail(ctx, logger, stageGenerate, err)
	}
	resp, err := generateWithTimeout(ctx, p.generator, p.generationTimeout, history, debt)
	if err != nil {
		return nil, p.fail(ctx, logger, stageGenerate, err)
	}
	observeStage(stageGenerate, stageStart)
	recordUsage(ctx, p.usage, logger, resp, thread.ID, debt.ID, "collector_reply")

	// Sent + Persisted(outbound)
	stageStart = time.Now()
	outbound, err := p.dispatcher.Dispatch(ctx, resp, thread, debt, inbound)
	if err != nil {
		return nil, p.fail(ctx, logger, stageDispatch, err)
	}
	observeStage(stageDispatch, stageStart)
	p.events.emailEvent(ctx, SubjectEmailSent, outbound, "")

	logger.InfoContext(ctx, "Reply pipeline completed", "outbound_message_id", outbound.MessageID)
	return &ProcessResult{
		Thread:        thread,
		ThreadCreated: resolution.Created,
		Inbound:       inbound,
		Outbound:      outbound,
	}, nil
}

func (p *ReplyProcessor) fail(ctx context.Context, logger *slog.Logger, stage string, err error) error {
	pipelineStageFailuresCounter.WithLabelValues(stage).Inc()
	level := slog.LevelError
	if errors.Is(err, domain.ErrMissingContent) || errors.Is(err, domain.ErrMalformedNotification) || errors.Is(err, domain.ErrNoDebtorFound) {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "Reply pipeline aborted", "stage", stage, "error", err)
	return err
}

func observeStage(stage string, start time.Time) {
	pipelineStageDurationHist.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// parseInbound validates the notification before anything is written.
func parseInbound(n *domain.InboundNotification) (sender, messageID string, headerMessageID sql.NullString, err error) {
	if !n.HasContent() {
		return "", "", sql.NullString{}, domain.ErrMissingContent
	}
	sender, err = mailheader.NormalizeAddress(n.From)
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}
	for _, raw := range []string{n.MessageID, n.Header("Message-ID")} {
		if id, ok := mailheader.ParseMessageID(raw); ok {
			wire := strings.TrimSpace(raw)
			if !strings.HasPrefix(wire, "<") {
				wire = "<" + wire + ">"
			}
			return sender, id, sql.NullString{String: wire, Valid: true}, nil
		}
	}
	if id := strings.TrimSpace(n.MessageID); id != "" {
		return sender, id, sql.NullString{}, nil
	}
	if id := strings.TrimSpace(n.ProviderEmailID); id != "" {
		return sender, id, sql.NullString{}, nil
	}
	return "", "", sql.NullString{}, fmt.Errorf("%w: no message id", domain.ErrMalformedNotification)
}

// threadHistory returns the thread's emails oldest first.
func threadHistory(ctx context.Context, emails domain.EmailRepository, threadID uuid.UUID) ([]*domain.Email, error) {
	newestFirst, err := emails.ListByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread history: %w", err)
	}
	history := make([]*domain.Email, len(newestFirst))
	for i, e := range newestFirst {
		history[len(newestFirst)-1-i] = e
	}
	return history, nil
}

func generateWithTimeout(ctx context.Context, g domain.ResponseGenerator, timeout time.Duration, history []*domain.Email, debt *domain.Debt) (*domain.GeneratedResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return g.Generate(ctx, history, debt)
}

// recordUsage is best effort; a failed insert is logged and the reply still goes out.
func recordUsage(ctx context.Context, repo domain.AIUsageRepository, logger *slog.Logger, resp *domain.GeneratedResponse, threadID, debtID uuid.UUID, purpose string) {
	if repo == nil || resp.Usage.Model == "" {
		return
	}
	err := repo.Record(ctx, &domain.AIUsage{
		ThreadID:         uuid.NullUUID{UUID: threadID, Valid: true},
		DebtID:           uuid.NullUUID{UUID: debtID, Valid: true},
		Model:            resp.Usage.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Metadata: domain.Document{
			"purpose":       purpose,
			"subject_chars": len(resp.Subject),
			"body_chars":    len(resp.Body),
		},
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to record AI usage", "error", err)
	}
}
