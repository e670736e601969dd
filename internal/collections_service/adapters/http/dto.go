package http

import (
	"encoding/json"
	"time"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

// WebhookEnvelope is the outer shape shared by every provider webhook. Data is decoded once the
// type is known.
type WebhookEnvelope struct {
	Type      string          `json:"type" validate:"required"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type HeaderDTO struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// InboundEmailData is the data object of an email.received webhook.
type InboundEmailData struct {
	EmailID   string      `json:"email_id"`
	MessageID string      `json:"message_id"`
	From      string      `json:"from" validate:"required"`
	To        []string    `json:"to" validate:"omitempty,dive,required"`
	Subject   string      `json:"subject"`
	Headers   []HeaderDTO `json:"headers" validate:"omitempty,dive"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
}

// DeliveryEventData is the data object of a delivery tracking webhook.
type DeliveryEventData struct {
	EmailID string `json:"email_id" validate:"required"`
}

func toInboundNotification(env *WebhookEnvelope, d *InboundEmailData) *domain.InboundNotification {
	n := &domain.InboundNotification{
		Type:            env.Type,
		CreatedAt:       env.CreatedAt,
		ProviderEmailID: d.EmailID,
		MessageID:       d.MessageID,
		From:            d.From,
		To:              d.To,
		Subject:         d.Subject,
		Text:            d.Text,
		HTML:            d.HTML,
	}
	for _, h := range d.Headers {
		n.Headers = append(n.Headers, domain.Header{Name: h.Name, Value: h.Value})
	}
	return n
}
