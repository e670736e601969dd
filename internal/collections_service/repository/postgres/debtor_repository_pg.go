package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/database"
)

const debtorColumns = `id, email, first_name, last_name, phone, email_consent, phone_consent, created_at, updated_at`

type PgDebtorRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgDebtorRepository(db database.Querier, logger *slog.Logger) *PgDebtorRepository {
	return &PgDebtorRepository{db: db, logger: logger.With("component", "debtor_repository_pg")}
}

var _ domain.DebtorRepository = (*PgDebtorRepository)(nil)

func scanDebtor(row pgx.Row) (*domain.Debtor, error) {
	var d domain.Debtor
	err := row.Scan(&d.ID, &d.Email, &d.FirstName, &d.LastName, &d.Phone,
		&d.EmailConsent, &d.PhoneConsent, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgDebtorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Debtor, error) {
	query := `SELECT ` + debtorColumns + ` FROM debtors WHERE id = $1`
	d, err := scanDebtor(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting debtor by id", "error", err, "debtor_id", id)
		return nil, fmt.Errorf("getting debtor %s: %w", id, err)
	}
	return d, nil
}

func (r *PgDebtorRepository) GetByEmail(ctx context.Context, email string) (*domain.Debtor, error) {
	query := `SELECT ` + debtorColumns + ` FROM debtors WHERE lower(email) = lower($1)`
	d, err := scanDebtor(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting debtor by email", "error", err)
		return nil, fmt.Errorf("getting debtor by email: %w", err)
	}
	return d, nil
}
