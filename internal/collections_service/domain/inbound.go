package domain

import (
	"strings"
	"time"
)

// EventTypeEmailReceived is the only inbound notification type that runs the reply pipeline.
const EventTypeEmailReceived = "email.received"

type Header struct {
	Name  string
	Value string
}

// InboundNotification is a provider webhook payload after decoding.
type InboundNotification struct {
	Type            string
	CreatedAt       time.Time
	ProviderEmailID string
	MessageID       string
	From            string
	To              []string
	Subject         string
	Headers         []Header
	Text            string
	HTML            string
}

// Header returns the first header value whose name matches case-insensitively.
func (n *InboundNotification) Header(name string) string {
	for _, h := range n.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (n *InboundNotification) HasContent() bool {
	return strings.TrimSpace(n.Text) != "" || strings.TrimSpace(n.HTML) != ""
}

// DeliveryNotification is a provider tracking webhook payload after decoding.
type DeliveryNotification struct {
	Type            DeliveryEvent
	CreatedAt       time.Time
	ProviderEmailID string
}
