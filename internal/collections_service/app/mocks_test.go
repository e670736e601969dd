package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, history []*domain.Email, debt *domain.Debt) (*domain.GeneratedResponse, error) {
	args := m.Called(ctx, history, debt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GeneratedResponse), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SendResult), args.Error(1)
}

func (m *mockSender) Name() string { return "mock" }

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, key string, ttl time.Duration) (cache.Unlock, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(cache.Unlock), args.Error(1)
}

type mockThreadRepository struct {
	mock.Mock
}

func (m *mockThreadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailThread, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailThread), args.Error(1)
}

func (m *mockThreadRepository) GetOrCreate(ctx context.Context, debtorID uuid.UUID, subject string) (*domain.EmailThread, bool, error) {
	args := m.Called(ctx, debtorID, subject)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.EmailThread), args.Bool(1), args.Error(2)
}

type mockDebtRepository struct {
	mock.Mock
}

func (m *mockDebtRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Debt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Debt), args.Error(1)
}

func (m *mockDebtRepository) ListByDebtorEmail(ctx context.Context, email string) ([]*domain.Debt, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Debt), args.Error(1)
}

// recordingPublisher keeps every published message in order.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type stubLinker struct {
	url string
	err error
}

func (s stubLinker) URL(uuid.UUID) (string, error) { return s.url, s.err }
