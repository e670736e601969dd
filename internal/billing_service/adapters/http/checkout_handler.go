package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
)

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, token string) (*domain.CheckoutSession, error)
}

// CheckoutHandler serves the payment links embedded in collection emails.
type CheckoutHandler struct {
	appService CheckoutCreator
	logger     *slog.Logger
}

func NewCheckoutHandler(appService CheckoutCreator, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		appService: appService,
		logger:     logger.With("component", "checkout_handler"),
	}
}

func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Get("/pay/{token}", h.HandlePayLink)
}

// HandlePayLink redirects the debtor to a fresh checkout session for the remaining balance.
func (h *CheckoutHandler) HandlePayLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	session, err := h.appService.CreateCheckout(ctx, chi.URLParam(r, "token"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentLinkFailed), errors.Is(err, domain.ErrDebtNotFound):
			http.Error(w, "This payment link is invalid or has expired", http.StatusNotFound)
		case errors.Is(err, domain.ErrNothingToPay):
			http.Error(w, "This balance has already been settled", http.StatusConflict)
		case errors.Is(err, domain.ErrGatewayFailure):
			logger.ErrorContext(ctx, "Payment gateway unavailable", "error", err)
			http.Error(w, "Payment provider is unavailable, please try again later", http.StatusBadGateway)
		default:
			logger.ErrorContext(ctx, "Failed to create checkout session", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	http.Redirect(w, r, session.URL, http.StatusSeeOther)
}
