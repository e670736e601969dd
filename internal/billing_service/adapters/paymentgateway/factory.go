package paymentgateway

import (
	"fmt"
	"log/slog"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
)

// NewFromConfig selects the gateway named by cfg.Gateway ("stripe" or "mock").
func NewFromConfig(cfg config.CheckoutConfig, logger *slog.Logger) (domain.PaymentGatewayAdapter, error) {
	switch cfg.Gateway {
	case "stripe":
		if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("payment gateway stripe requires a secret key and a webhook secret")
		}
		return NewStripeAdapter(cfg.SecretKey, cfg.WebhookSecret, nil, logger), nil
	case "mock", "":
		return NewMockPaymentGatewayAdapter(logger, false), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway)
	}
}
