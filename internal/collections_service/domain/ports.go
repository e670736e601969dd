package domain

import "context"

// GeneratedResponse is the structured output of the response generator.
type GeneratedResponse struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Signature string `json:"signature"`

	Usage GenerationUsage `json:"-"`
}

type GenerationUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// ResponseGenerator drafts the collector's next message. history is oldest first and may be empty
// for a first contact.
type ResponseGenerator interface {
	Generate(ctx context.Context, history []*Email, debt *Debt) (*GeneratedResponse, error)
}

type OutboundMessage struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
	Tags    map[string]string
}

type SendResult struct {
	ProviderMessageID string
}

// EmailSender delivers one message through an email provider.
type EmailSender interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
	Name() string
}
