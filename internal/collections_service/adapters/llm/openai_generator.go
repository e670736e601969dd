// Package llm drafts collector emails with an OpenAI-compatible chat-completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var collectorEmailSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"subject":   map[string]any{"type": "string"},
		"body":      map[string]any{"type": "string"},
		"signature": map[string]any{"type": "string"},
	},
	"required":             []string{"subject", "body", "signature"},
	"additionalProperties": false,
}

// OpenAIResponseGenerator implements domain.ResponseGenerator. It never substitutes fallback
// text: every failure is returned wrapped in domain.ErrGeneration.
type OpenAIResponseGenerator struct {
	httpClient  *http.Client
	apiURL      string
	apiKey      string
	model       string
	temperature float64
	prompts     *Prompts
	logger      *slog.Logger
}

func NewOpenAIResponseGenerator(cfg config.LLMConfig, prompts *Prompts, httpClient *http.Client, logger *slog.Logger) *OpenAIResponseGenerator {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OpenAIResponseGenerator{
		httpClient:  httpClient,
		apiURL:      cfg.APIURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		prompts:     prompts,
		logger:      logger.With("component", "openai_generator"),
	}
}

func (g *OpenAIResponseGenerator) Generate(ctx context.Context, history []*domain.Email, debt *domain.Debt) (*domain.GeneratedResponse, error) {
	messages, err := g.buildMessages(history, debt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}

	reqBytes, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "collector_email", Strict: true, Schema: collectorEmailSchema},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", domain.ErrGeneration, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		g.logger.ErrorContext(ctx, "Chat completion request failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", domain.ErrGeneration, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", httpResp.StatusCode)
		var apiErr apiErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg += ": " + apiErr.Error.Message
		}
		g.logger.WarnContext(ctx, "Chat completion rejected", "status_code", httpResp.StatusCode, "error_message", msg)
		return nil, fmt.Errorf("%w: %s", domain.ErrGeneration, msg)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("%w: decoding completion: %w", domain.ErrGeneration, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", domain.ErrGeneration)
	}

	resp, err := parseGeneratedResponse(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	resp.Usage = domain.GenerationUsage{
		Model:            completion.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}
	if resp.Usage.Model == "" {
		resp.Usage.Model = g.model
	}

	g.logger.DebugContext(ctx, "Chat completion succeeded",
		"model", resp.Usage.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start))
	return resp, nil
}

func (g *OpenAIResponseGenerator) buildMessages(history []*domain.Email, debt *domain.Debt) ([]chatMessage, error) {
	data := newDebtContext(debt)
	system, err := render(g.prompts.system, data)
	if err != nil {
		return nil, err
	}
	debtContext, err := render(g.prompts.debtContext, data)
	if err != nil {
		return nil, err
	}

	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: roleSystem, Content: system + "\n\n" + debtContext})
	for _, e := range history {
		role := roleUser
		if e.Direction == domain.DirectionOutbound {
			role = roleAssistant
		}
		content := strings.TrimSpace(e.Content())
		if e.Subject != "" {
			content = "Subject: " + e.Subject + "\n\n" + content
		}
		messages = append(messages, chatMessage{Role: role, Content: content})
	}

	instruction := g.prompts.reply
	if len(history) == 0 {
		instruction = g.prompts.firstContact
	}
	text, err := render(instruction, data)
	if err != nil {
		return nil, err
	}
	messages = append(messages, chatMessage{Role: roleSystem, Content: text})
	return messages, nil
}

func parseGeneratedResponse(content string) (*domain.GeneratedResponse, error) {
	var resp domain.GeneratedResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("completion is not valid JSON: %w", err)
	}
	var missing []string
	if strings.TrimSpace(resp.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(resp.Body) == "" {
		missing = append(missing, "body")
	}
	if strings.TrimSpace(resp.Signature) == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("completion is missing %s", strings.Join(missing, ", "))
	}
	return &resp, nil
}
