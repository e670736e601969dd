package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
)

const (
	SubjectEmailReceived = "collections.email.received"
	SubjectEmailSent     = "collections.email.sent"
	SubjectEmailDelivery = "collections.email.delivery"
)

// EmailEvent is the JSON body published on the collections.email.* subjects.
type EmailEvent struct {
	EmailID     uuid.UUID        `json:"email_id"`
	MessageID   string           `json:"message_id"`
	ThreadID    uuid.UUID        `json:"thread_id"`
	DebtID      uuid.UUID        `json:"debt_id"`
	Direction   domain.Direction `json:"direction"`
	AIGenerated bool             `json:"ai_generated"`
	ReplyTo     string           `json:"reply_to,omitempty"`
	Event       string           `json:"event,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// eventEmitter publishes after the fact; a publish failure never fails the caller.
type eventEmitter struct {
	publisher messagebroker.Publisher
	logger    *slog.Logger
}

func newEventEmitter(publisher messagebroker.Publisher, logger *slog.Logger) *eventEmitter {
	if publisher == nil {
		publisher = messagebroker.NoopPublisher{}
	}
	return &eventEmitter{publisher: publisher, logger: logger}
}

func (e *eventEmitter) emailEvent(ctx context.Context, subject string, email *domain.Email, event string) {
	payload := EmailEvent{
		EmailID:     email.ID,
		MessageID:   email.MessageID,
		ThreadID:    email.ThreadID.UUID,
		DebtID:      email.DebtID.UUID,
		Direction:   email.Direction,
		AIGenerated: email.AIGenerated,
		ReplyTo:     email.ReplyTo.String,
		Event:       event,
		OccurredAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to marshal email event", "error", err, "subject", subject)
		eventPublishFailuresCounter.WithLabelValues(subject).Inc()
		return
	}
	if err := e.publisher.Publish(ctx, subject, data); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish email event", "error", err, "subject", subject, "message_id", email.MessageID)
		eventPublishFailuresCounter.WithLabelValues(subject).Inc()
	}
}
