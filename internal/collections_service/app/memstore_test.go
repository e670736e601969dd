package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

// memStore is an in-memory stand-in for the Postgres repositories. It enforces the same
// constraints the schema does: unique message ids, one thread per (debtor, subject), and
// emails that must reference an existing thread and debt.
type memStore struct {
	mu      sync.Mutex
	clock   time.Time
	debtors []*domain.Debtor
	debts   []*domain.Debt
	threads []*domain.EmailThread
	emails  []*domain.Email
	usage   []*domain.AIUsage
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) addDebtor(email string, consent bool) *domain.Debtor {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &domain.Debtor{ID: uuid.New(), Email: email, FirstName: "Jane", LastName: "Doe", EmailConsent: consent, CreatedAt: s.tick()}
	s.debtors = append(s.debtors, d)
	return d
}

func (s *memStore) addDebt(debtorID uuid.UUID, creditor string, owedCents int64) *domain.Debt {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &domain.Debt{
		ID:               uuid.New(),
		DebtorID:         debtorID,
		OriginalCreditor: creditor,
		TotalOwedCents:   owedCents,
		Currency:         "USD",
		Status:           domain.DebtStatusActive,
		CreatedAt:        s.tick(),
	}
	s.debts = append(s.debts, d)
	return d
}

func (s *memStore) threadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

func (s *memStore) allEmails() []*domain.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Email(nil), s.emails...)
}

func (s *memStore) allUsage() []*domain.AIUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.AIUsage(nil), s.usage...)
}

type memDebtors struct{ s *memStore }

func (r memDebtors) GetByID(_ context.Context, id uuid.UUID) (*domain.Debtor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.debtors {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (r memDebtors) GetByEmail(_ context.Context, email string) (*domain.Debtor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.debtors {
		if strings.EqualFold(d.Email, email) {
			return d, nil
		}
	}
	return nil, nil
}

type memDebts struct{ s *memStore }

func (r memDebts) GetByID(_ context.Context, id uuid.UUID) (*domain.Debt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.debts {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (r memDebts) ListByDebtorEmail(_ context.Context, email string) ([]*domain.Debt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Debt
	for _, debtor := range r.s.debtors {
		if !strings.EqualFold(debtor.Email, email) {
			continue
		}
		for _, d := range r.s.debts {
			if d.DebtorID == debtor.ID {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

type memThreads struct{ s *memStore }

func (r memThreads) GetByID(_ context.Context, id uuid.UUID) (*domain.EmailThread, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.threads {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (r memThreads) GetOrCreate(_ context.Context, debtorID uuid.UUID, subject string) (*domain.EmailThread, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.threads {
		if t.DebtorID == debtorID && t.Subject.String == subject {
			return t, false, nil
		}
	}
	now := r.s.tick()
	t := &domain.EmailThread{
		ID:        uuid.New(),
		DebtorID:  debtorID,
		Subject:   sql.NullString{String: subject, Valid: subject != ""},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.threads = append(r.s.threads, t)
	return t, true, nil
}

type memEmails struct{ s *memStore }

func (r memEmails) Create(_ context.Context, e *domain.Email) error {
	if !e.ThreadID.Valid || !e.DebtID.Valid {
		return domain.ErrMissingReference
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.emails {
		if existing.MessageID == e.MessageID {
			return domain.ErrDuplicateMessageID
		}
	}
	if !r.s.hasThread(e.ThreadID.UUID) || !r.s.hasDebt(e.DebtID.UUID) {
		return domain.ErrReferentialIntegrity
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	e.CreatedAt = r.s.tick()
	r.s.emails = append(r.s.emails, e)
	return nil
}

func (s *memStore) hasThread(id uuid.UUID) bool {
	for _, t := range s.threads {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) hasDebt(id uuid.UUID) bool {
	for _, d := range s.debts {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (r memEmails) GetByID(_ context.Context, id uuid.UUID) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.emails {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (r memEmails) GetByMessageID(_ context.Context, messageID string) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.emails {
		if e.MessageID == messageID {
			return e, nil
		}
	}
	return nil, nil
}

func (r memEmails) inThread(threadID uuid.UUID) []*domain.Email {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Email
	for _, e := range r.s.emails {
		if e.ThreadID.Valid && e.ThreadID.UUID == threadID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r memEmails) ListByThread(_ context.Context, threadID uuid.UUID) ([]*domain.Email, error) {
	asc := r.inThread(threadID)
	out := make([]*domain.Email, len(asc))
	for i, e := range asc {
		out[len(asc)-1-i] = e
	}
	return out, nil
}

func (r memEmails) BuildReferencesChain(_ context.Context, threadID uuid.UUID) ([]string, error) {
	var ids []string
	for _, e := range r.inThread(threadID) {
		ids = append(ids, e.MessageID)
	}
	return ids, nil
}

func (r memEmails) GetLatestInThread(_ context.Context, threadID uuid.UUID) (*domain.Email, error) {
	asc := r.inThread(threadID)
	if len(asc) == 0 {
		return nil, nil
	}
	return asc[len(asc)-1], nil
}

func (r memEmails) ApplyDeliveryEvent(_ context.Context, providerMessageID string, event domain.DeliveryEvent, at time.Time) (*domain.Email, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.emails {
		if !e.ProviderMessageID.Valid || e.ProviderMessageID.String != providerMessageID {
			continue
		}
		switch event {
		case domain.DeliveryEventDelivered:
			if !e.DeliveredAt.Valid {
				e.DeliveredAt = sql.NullTime{Time: at, Valid: true}
			}
		case domain.DeliveryEventOpened:
			e.Opened = true
		case domain.DeliveryEventClicked:
			e.Clicked = true
		case domain.DeliveryEventBounced:
			e.Bounced = true
		case domain.DeliveryEventComplained:
			e.Complained = true
		}
		return e, nil
	}
	return nil, nil
}

type memUsage struct{ s *memStore }

func (r memUsage) Record(_ context.Context, u *domain.AIUsage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u.ID = uuid.New()
	u.CreatedAt = r.s.tick()
	r.s.usage = append(r.s.usage, u)
	return nil
}
