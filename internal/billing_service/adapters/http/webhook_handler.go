package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// Stripe signs with Stripe-Signature; the mock gateway reads X-Payment-Signature.
var signatureHeaders = []string{"Stripe-Signature", "X-Payment-Signature"}

// PaymentWebhookProcessor is satisfied by app.BillingService.
type PaymentWebhookProcessor interface {
	HandlePaymentWebhook(ctx context.Context, rawPayload []byte, signature string) error
}

type WebhookHandler struct {
	appService PaymentWebhookProcessor
	logger     *slog.Logger
}

func NewWebhookHandler(appService PaymentWebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		appService: appService,
		logger:     logger.With("component", "webhook_handler"),
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments", h.HandlePaymentWebhook)
}

// HandlePaymentWebhook receives webhook events from the payment gateway.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "Method not allowed for webhook", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}
	logger = logger.With("signature_present", signature != "")

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read webhook request body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
		}
		return
	}

	logger.InfoContext(ctx, "Received payment webhook",
		"remote_addr", r.RemoteAddr,
		"payload_size", len(rawPayload))

	if err := h.appService.HandlePaymentWebhook(ctx, rawPayload, signature); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			logger.WarnContext(ctx, "Payment webhook rejected", "error", err)
			http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		case errors.Is(err, domain.ErrMalformedEvent):
			logger.WarnContext(ctx, "Payment webhook rejected", "error", err)
			http.Error(w, "Malformed payment event", http.StatusBadRequest)
		case errors.Is(err, domain.ErrDebtNotFound):
			logger.ErrorContext(ctx, "Payment webhook for unknown debt", "error", err)
			http.Error(w, "Debt not found", http.StatusNotFound)
		default:
			logger.ErrorContext(ctx, "Error processing payment webhook", "error", err)
			http.Error(w, "Internal server error processing webhook", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("Webhook received successfully")); err != nil {
		logger.WarnContext(ctx, "Failed to write webhook success response", "error", err)
	}
	logger.InfoContext(ctx, "Payment webhook processed successfully")
}
