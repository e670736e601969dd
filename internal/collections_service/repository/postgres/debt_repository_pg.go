package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/database"
)

const debtColumns = `d.id, d.debtor_id, d.original_creditor, d.total_owed_cents, d.amount_paid_cents,
	d.currency, d.status, d.debt_date, d.created_at, d.updated_at`

type PgDebtRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgDebtRepository(db database.Querier, logger *slog.Logger) *PgDebtRepository {
	return &PgDebtRepository{db: db, logger: logger.With("component", "debt_repository_pg")}
}

var _ domain.DebtRepository = (*PgDebtRepository)(nil)

func scanDebt(row pgx.Row) (*domain.Debt, error) {
	var d domain.Debt
	err := row.Scan(&d.ID, &d.DebtorID, &d.OriginalCreditor, &d.TotalOwedCents, &d.AmountPaidCents,
		&d.Currency, &d.Status, &d.DebtDate, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgDebtRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Debt, error) {
	return r.getByID(ctx, r.db, id, false)
}

// GetByIDForUpdate row-locks the debt inside the caller's transaction.
func (r *PgDebtRepository) GetByIDForUpdate(ctx context.Context, q database.Querier, id uuid.UUID) (*domain.Debt, error) {
	return r.getByID(ctx, q, id, true)
}

func (r *PgDebtRepository) getByID(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*domain.Debt, error) {
	query := `SELECT ` + debtColumns + ` FROM debts d WHERE d.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	d, err := scanDebt(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting debt by id", "error", err, "debt_id", id)
		return nil, fmt.Errorf("getting debt %s: %w", id, err)
	}
	return d, nil
}

// ListByDebtorEmail orders by creation time then id so "the first debt" is stable.
func (r *PgDebtRepository) ListByDebtorEmail(ctx context.Context, email string) ([]*domain.Debt, error) {
	query := `SELECT ` + debtColumns + `
		FROM debts d
		JOIN debtors dr ON dr.id = d.debtor_id
		WHERE lower(dr.email) = lower($1)
		ORDER BY d.created_at ASC, d.id ASC`
	rows, err := r.db.Query(ctx, query, email)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing debts by debtor email", "error", err)
		return nil, fmt.Errorf("listing debts by debtor email: %w", err)
	}
	defer rows.Close()

	var debts []*domain.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning debt: %w", err)
		}
		debts = append(debts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating debts: %w", err)
	}
	return debts, nil
}

// UpdatePaidAmount sets the collected total and status inside the caller's transaction.
func (r *PgDebtRepository) UpdatePaidAmount(ctx context.Context, q database.Querier, id uuid.UUID, amountPaidCents int64, status domain.DebtStatus) error {
	query := `UPDATE debts SET amount_paid_cents = $2, status = $3, updated_at = $4 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, amountPaidCents, status, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating debt paid amount", "error", err, "debt_id", id)
		return fmt.Errorf("updating debt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating debt %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
