// Package emailprovider holds the outbound email provider clients.
package emailprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

type ResendProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewResendProvider(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *ResendProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &ResendProvider{
		logger:     logger.With("provider", "resend"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

// ResendSendRequest is the body of POST /emails.
type ResendSendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []ResendTag       `json:"tags,omitempty"`
}

type ResendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ResendSendResponse struct {
	ID string `json:"id"`
}

type ResendErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (p *ResendProvider) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	timer := prometheus.NewTimer(providerRequestDurationHist.WithLabelValues(p.Name()))
	defer timer.ObserveDuration()

	reqBytes, err := json.Marshal(ResendSendRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Headers: msg.Headers,
		Tags:    resendTags(msg.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for resend: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for resend: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to send request to resend", "error", err, "to", msg.To)
		return nil, fmt.Errorf("failed to send request to resend: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("resend request failed (status %d), and failed to read response body: %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		providerErrorsCounter.WithLabelValues(p.Name()).Inc()
		errMsg := fmt.Sprintf("resend API error: status %d", httpResp.StatusCode)
		var apiErr ResendErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			errMsg = fmt.Sprintf("resend API error: status %d, %s: %s", httpResp.StatusCode, apiErr.Name, apiErr.Message)
		} else if len(respBody) > 0 && len(respBody) < 200 {
			errMsg = fmt.Sprintf("resend API error: status %d, raw_body: %s", httpResp.StatusCode, string(respBody))
		}
		p.logger.WarnContext(ctx, "Resend send failed", "status_code", httpResp.StatusCode, "error_message", errMsg)
		return nil, fmt.Errorf("%s", errMsg)
	}

	var out ResendSendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		// Accepted by the provider; only the id is lost.
		p.logger.WarnContext(ctx, "Resend accepted email but response was unreadable", "error", err, "body", string(respBody))
		return &domain.SendResult{}, nil
	}
	p.logger.InfoContext(ctx, "Email sent via resend", "provider_message_id", out.ID, "to", msg.To)
	return &domain.SendResult{ProviderMessageID: out.ID}, nil
}

func (p *ResendProvider) Name() string {
	return "resend"
}

// resendTags sorts by name so request bodies are stable.
func resendTags(tags map[string]string) []ResendTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]ResendTag, 0, len(tags))
	for k, v := range tags {
		out = append(out, ResendTag{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
