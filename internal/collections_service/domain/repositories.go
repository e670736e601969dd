package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lookups return (nil, nil) when the row does not exist.

type DebtorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Debtor, error)
	GetByEmail(ctx context.Context, email string) (*Debtor, error)
}

type DebtRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Debt, error)
	// ListByDebtorEmail returns the debts of the debtor with this email, oldest first.
	ListByDebtorEmail(ctx context.Context, email string) ([]*Debt, error)
}

type ThreadRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*EmailThread, error)
	// GetOrCreate returns the thread for (debtorID, subject), creating it if needed.
	// created reports whether this call inserted the row.
	GetOrCreate(ctx context.Context, debtorID uuid.UUID, subject string) (thread *EmailThread, created bool, err error)
}

// EmailRepository is the conversation store.
type EmailRepository interface {
	Create(ctx context.Context, email *Email) error
	GetByID(ctx context.Context, id uuid.UUID) (*Email, error)
	GetByMessageID(ctx context.Context, messageID string) (*Email, error)
	// ListByThread returns the thread's emails newest first.
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]*Email, error)
	// BuildReferencesChain returns the thread's message ids oldest first.
	BuildReferencesChain(ctx context.Context, threadID uuid.UUID) ([]string, error)
	GetLatestInThread(ctx context.Context, threadID uuid.UUID) (*Email, error)
	// ApplyDeliveryEvent sets the tracking flag for event and returns the updated email,
	// or (nil, nil) if no email carries providerMessageID.
	ApplyDeliveryEvent(ctx context.Context, providerMessageID string, event DeliveryEvent, at time.Time) (*Email, error)
}

type AIUsageRepository interface {
	Record(ctx context.Context, usage *AIUsage) error
}
