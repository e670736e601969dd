package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/collections_service/mailheader"
	"github.com/recoverly/golang_services/internal/platform/cache"
)

const (
	resolvedByReplyHeader = "reply_header"
	resolvedBySender      = "sender_existing"
	resolvedByNewThread   = "sender_created"
	defaultThreadLockTTL  = 10 * time.Second
)

// Resolution is the outcome of matching an inbound email to a conversation.
type Resolution struct {
	Thread  *domain.EmailThread
	DebtID  uuid.UUID
	ReplyTo string // id of the matched earlier email; "" on the sender path
	Created bool
	Path    string
}

// ThreadResolver maps an inbound email to a thread, first via its reply headers and then via
// the sender's debts.
type ThreadResolver struct {
	emails  domain.EmailRepository
	threads domain.ThreadRepository
	debts   domain.DebtRepository
	locker  cache.Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

func NewThreadResolver(
	emails domain.EmailRepository,
	threads domain.ThreadRepository,
	debts domain.DebtRepository,
	locker cache.Locker,
	lockTTL time.Duration,
	logger *slog.Logger,
) *ThreadResolver {
	if locker == nil {
		locker = cache.NoopLocker{}
	}
	if lockTTL <= 0 {
		lockTTL = defaultThreadLockTTL
	}
	return &ThreadResolver{
		emails:  emails,
		threads: threads,
		debts:   debts,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger.With("component", "thread_resolver"),
	}
}

// replyToID returns the In-Reply-To id, falling back to the last References entry.
func replyToID(n *domain.InboundNotification) string {
	if id, ok := mailheader.ParseMessageID(n.Header("In-Reply-To")); ok {
		return id
	}
	if refs := mailheader.ParseReferences(n.Header("References")); len(refs) > 0 {
		return refs[len(refs)-1]
	}
	return ""
}

// Resolve never writes when it returns domain.ErrNoDebtorFound.
func (r *ThreadResolver) Resolve(ctx context.Context, n *domain.InboundNotification, sender string) (*Resolution, error) {
	replyTo := replyToID(n)

	if replyTo != "" {
		res, err := r.resolveByReply(ctx, replyTo)
		if err != nil {
			return nil, err
		}
		if res != nil {
			threadResolutionsCounter.WithLabelValues(resolvedByReplyHeader).Inc()
			return res, nil
		}
		r.logger.InfoContext(ctx, "Reply header did not match a known email, falling back to sender", "reply_to", replyTo)
	}

	debts, err := r.debts.ListByDebtorEmail(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("looking up debts for sender: %w", err)
	}
	if len(debts) == 0 {
		r.logger.WarnContext(ctx, "No debtor found for inbound sender", "sender", sender)
		return nil, fmt.Errorf("%w: %s", domain.ErrNoDebtorFound, sender)
	}
	debt := debts[0]

	thread, created, err := r.getOrCreateThread(ctx, debt.DebtorID, n.Subject)
	if err != nil {
		return nil, err
	}

	path := resolvedBySender
	if created {
		path = resolvedByNewThread
		r.logger.InfoContext(ctx, "Created thread for inbound sender", "thread_id", thread.ID, "debtor_id", debt.DebtorID)
	}
	threadResolutionsCounter.WithLabelValues(path).Inc()

	return &Resolution{
		Thread:  thread,
		DebtID:  debt.ID,
		Created: created,
		Path:    path,
	}, nil
}

func (r *ThreadResolver) resolveByReply(ctx context.Context, replyTo string) (*Resolution, error) {
	prev, err := r.emails.GetByMessageID(ctx, replyTo)
	if err != nil {
		return nil, fmt.Errorf("looking up replied-to email: %w", err)
	}
	if prev == nil || !prev.ThreadID.Valid || !prev.DebtID.Valid {
		return nil, nil
	}
	thread, err := r.threads.GetByID(ctx, prev.ThreadID.UUID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", prev.ThreadID.UUID, err)
	}
	if thread == nil {
		return nil, nil
	}
	return &Resolution{
		Thread:  thread,
		DebtID:  prev.DebtID.UUID,
		ReplyTo: replyTo,
		Path:    resolvedByReplyHeader,
	}, nil
}

// getOrCreateThread holds a short distributed lock around the upsert so concurrent deliveries
// for the same debtor and subject agree on one thread.
func (r *ThreadResolver) getOrCreateThread(ctx context.Context, debtorID uuid.UUID, subject string) (*domain.EmailThread, bool, error) {
	unlock, err := r.locker.Lock(ctx, fmt.Sprintf("thread:%s:%s", debtorID, subject), r.lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring thread lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "Failed to release thread lock", "error", err, "debtor_id", debtorID)
		}
	}()

	thread, created, err := r.threads.GetOrCreate(ctx, debtorID, subject)
	if err != nil {
		return nil, false, fmt.Errorf("get-or-create thread: %w", err)
	}
	return thread, created, nil
}
