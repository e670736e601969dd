package emailprovider

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/config"
)

// NewFromConfig selects the provider named by cfg.Provider ("resend" or "mock").
func NewFromConfig(cfg config.EmailConfig, logger *slog.Logger) (domain.EmailSender, error) {
	switch cfg.Provider {
	case "resend":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("email provider resend requires an API key")
		}
		var client *http.Client
		if cfg.Timeout > 0 {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return NewResendProvider(logger, cfg.APIURL, cfg.APIKey, client), nil
	case "mock", "":
		return NewMockProvider(logger, false, 0), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
