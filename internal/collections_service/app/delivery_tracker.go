package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/messagebroker"
)

// DeliveryTracker applies provider tracking events (delivered, opened, clicked, bounced,
// complained) to outbound emails.
type DeliveryTracker struct {
	emails domain.EmailRepository
	events *eventEmitter
	logger *slog.Logger
}

func NewDeliveryTracker(emails domain.EmailRepository, publisher messagebroker.Publisher, logger *slog.Logger) *DeliveryTracker {
	logger = logger.With("service", "delivery_tracker")
	return &DeliveryTracker{
		emails: emails,
		events: newEventEmitter(publisher, logger),
		logger: logger,
	}
}

// HandleEvent returns domain.ErrIgnoredEvent for event types it does not track. Events for
// unknown provider ids are acknowledged and dropped.
func (t *DeliveryTracker) HandleEvent(ctx context.Context, n *domain.DeliveryNotification) error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrIgnoredEvent, n.Type)
	}
	if n.ProviderEmailID == "" {
		return fmt.Errorf("%w: missing email id", domain.ErrMalformedNotification)
	}
	at := n.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	email, err := t.emails.ApplyDeliveryEvent(ctx, n.ProviderEmailID, n.Type, at)
	if err != nil {
		return fmt.Errorf("applying delivery event: %w", err)
	}
	deliveryEventsCounter.WithLabelValues(string(n.Type), strconv.FormatBool(email != nil)).Inc()
	if email == nil {
		t.logger.WarnContext(ctx, "Delivery event for unknown email", "provider_email_id", n.ProviderEmailID, "event", n.Type)
		return nil
	}

	t.logger.InfoContext(ctx, "Delivery event applied", "message_id", email.MessageID, "event", n.Type)
	t.events.emailEvent(ctx, SubjectEmailDelivery, email, string(n.Type))
	return nil
}
