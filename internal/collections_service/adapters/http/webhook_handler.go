package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/recoverly/golang_services/internal/collections_service/app"
	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

const (
	MaxRequestBodySize = 1 << 20 // 1 MB
	SignatureHeader    = "X-Webhook-Signature"
)

var errInvalidSignature = errors.New("webhook signature verification failed")

type InboundProcessor interface {
	ProcessInbound(ctx context.Context, n *domain.InboundNotification) (*app.ProcessResult, error)
}

type DeliveryEventProcessor interface {
	HandleEvent(ctx context.Context, n *domain.DeliveryNotification) error
}

// WebhookHandler receives the email provider's inbound and tracking webhooks.
type WebhookHandler struct {
	inbound  InboundProcessor
	delivery DeliveryEventProcessor
	secret   []byte
	validate *validator.Validate
	logger   *slog.Logger
}

// NewWebhookHandler builds the handler. An empty secret disables signature checks.
func NewWebhookHandler(inbound InboundProcessor, delivery DeliveryEventProcessor, secret string, validate *validator.Validate, logger *slog.Logger) *WebhookHandler {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &WebhookHandler{
		inbound:  inbound,
		delivery: delivery,
		secret:   []byte(secret),
		validate: validate,
		logger:   logger.With("component", "webhook_handler"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/email/inbound", h.HandleInbound)
	r.Post("/webhooks/email/events", h.HandleDeliveryEvent)
}

// HandleInbound runs the reply pipeline for an email.received notification.
// 200 processed, 204 other notification types, 400 malformed, 500 anything else.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "webhook", "inbound")

	env, ok := h.readEnvelope(w, r, logger)
	if !ok {
		return
	}

	n := &domain.InboundNotification{Type: env.Type, CreatedAt: env.CreatedAt}
	if env.Type == domain.EventTypeEmailReceived {
		var data InboundEmailData
		if err := decodeData(env.Data, &data); err != nil {
			logger.WarnContext(ctx, "Invalid inbound email data", "error", err)
			http.Error(w, "Invalid data: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.validate.StructCtx(ctx, data); err != nil {
			logger.WarnContext(ctx, "Inbound email data failed validation", "error", err)
			http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
			return
		}
		n = toInboundNotification(env, &data)
	}

	res, err := h.inbound.ProcessInbound(ctx, n)
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}

	logger.InfoContext(ctx, "Inbound email processed",
		"thread_id", res.Thread.ID,
		"thread_created", res.ThreadCreated,
		"inbound_message_id", res.Inbound.MessageID,
		"outbound_message_id", res.Outbound.MessageID)
	w.WriteHeader(http.StatusOK)
}

// HandleDeliveryEvent records delivered/opened/clicked/bounced/complained notifications.
func (h *WebhookHandler) HandleDeliveryEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "webhook", "events")

	env, ok := h.readEnvelope(w, r, logger)
	if !ok {
		return
	}
	event := domain.DeliveryEvent(env.Type)
	if !event.Valid() {
		logger.DebugContext(ctx, "Ignoring webhook event type", "type", env.Type)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var data DeliveryEventData
	if err := decodeData(env.Data, &data); err != nil {
		http.Error(w, "Invalid data: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, data); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.delivery.HandleEvent(ctx, &domain.DeliveryNotification{
		Type:            event,
		CreatedAt:       env.CreatedAt,
		ProviderEmailID: data.EmailID,
	})
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readEnvelope writes the error response itself and reports false on failure.
func (h *WebhookHandler) readEnvelope(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WebhookEnvelope, bool) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read webhook request body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return nil, false
	}

	if len(h.secret) > 0 && !verifySignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		logger.WarnContext(ctx, "Rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, errInvalidSignature.Error(), http.StatusBadRequest)
		return nil, false
	}

	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		logger.WarnContext(ctx, "Failed to decode webhook JSON", "error", err)
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if err := h.validate.StructCtx(ctx, env); err != nil {
		logger.WarnContext(ctx, "Webhook envelope failed validation", "error", err)
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	logger.InfoContext(ctx, "Received webhook", "type", env.Type, "payload_size", len(body))
	return &env, true
}

func (h *WebhookHandler) writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrIgnoredEvent):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrMalformedNotification), errors.Is(err, domain.ErrMissingContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.ErrorContext(ctx, "Webhook processing failed", "error", err)
		http.Error(w, "Internal server error processing webhook", http.StatusInternalServerError)
	}
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing data object")
	}
	return json.Unmarshal(raw, dst)
}

// verifySignature checks a hex HMAC-SHA256 of body, optionally prefixed with "sha256=".
func verifySignature(secret, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body. Exposed for tests and local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
