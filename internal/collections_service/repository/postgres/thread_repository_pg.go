package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/database"
)

type PgThreadRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgThreadRepository(db database.Querier, logger *slog.Logger) *PgThreadRepository {
	return &PgThreadRepository{db: db, logger: logger.With("component", "thread_repository_pg")}
}

var _ domain.ThreadRepository = (*PgThreadRepository)(nil)

func (r *PgThreadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailThread, error) {
	query := `SELECT id, debtor_id, subject, created_at, updated_at FROM email_threads WHERE id = $1`
	var t domain.EmailThread
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.DebtorID, &t.Subject, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting thread by id", "error", err, "thread_id", id)
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	return &t, nil
}

// GetOrCreate relies on the unique (debtor_id, COALESCE(subject, '')) index so concurrent
// callers converge on one row. xmax = 0 only for a freshly inserted tuple.
func (r *PgThreadRepository) GetOrCreate(ctx context.Context, debtorID uuid.UUID, subject string) (*domain.EmailThread, bool, error) {
	query := `
		INSERT INTO email_threads (id, debtor_id, subject, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (debtor_id, (COALESCE(subject, ''))) DO UPDATE SET updated_at = email_threads.updated_at
		RETURNING id, debtor_id, subject, created_at, updated_at, (xmax = 0) AS inserted`

	nullableSubject := sql.NullString{String: subject, Valid: subject != ""}
	r.logger.DebugContext(ctx, "Get-or-create thread", "debtor_id", debtorID, "subject", subject)

	var t domain.EmailThread
	var inserted bool
	err := r.db.QueryRow(ctx, query, uuid.New(), debtorID, nullableSubject, time.Now().UTC()).
		Scan(&t.ID, &t.DebtorID, &t.Subject, &t.CreatedAt, &t.UpdatedAt, &inserted)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, false, fmt.Errorf("creating thread for debtor %s: %w", debtorID, domain.ErrReferentialIntegrity)
		}
		r.logger.ErrorContext(ctx, "Error in get-or-create thread", "error", err, "debtor_id", debtorID)
		return nil, false, fmt.Errorf("get-or-create thread: %w", err)
	}
	return &t, inserted, nil
}
