package emailprovider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

// MockProvider logs outbound emails instead of sending them. Used for local runs.
type MockProvider struct {
	logger         *slog.Logger
	FailSend       bool
	SimulatedDelay time.Duration

	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func NewMockProvider(logger *slog.Logger, failSend bool, delay time.Duration) *MockProvider {
	return &MockProvider{
		logger:         logger.With("provider", "mock"),
		FailSend:       failSend,
		SimulatedDelay: delay,
	}
}

func (p *MockProvider) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	timer := prometheus.NewTimer(providerRequestDurationHist.WithLabelValues(p.Name()))
	defer timer.ObserveDuration()

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.FailSend {
		providerErrorsCounter.WithLabelValues(p.Name()).Inc()
		p.logger.WarnContext(ctx, "Mock provider simulated send failure", "to", msg.To)
		return nil, errors.New("mock provider simulated send failure")
	}

	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()

	id := "mock-" + uuid.NewString()
	p.logger.InfoContext(ctx, "Email sent (simulated)", "to", msg.To, "subject", msg.Subject, "provider_message_id", id)
	return &domain.SendResult{ProviderMessageID: id}, nil
}

// Sent returns the messages accepted so far.
func (p *MockProvider) Sent() []domain.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboundMessage(nil), p.sent...)
}

func (p *MockProvider) Name() string {
	return "mock"
}
