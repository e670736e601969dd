package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/recoverly/golang_services/internal/billing_service/domain"
	"github.com/recoverly/golang_services/internal/platform/database"
)

const pgForeignKeyViolation = "23503"

type PgPaymentRepository struct {
	logger *slog.Logger
}

func NewPgPaymentRepository(logger *slog.Logger) *PgPaymentRepository {
	return &PgPaymentRepository{logger: logger.With("component", "payment_repository_pg")}
}

// Create inserts p inside the caller's transaction. It reports false, without error, when a
// payment with the same gateway reference was already recorded.
func (r *PgPaymentRepository) Create(ctx context.Context, q database.Querier, p *domain.Payment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO payments (id, debt_id, gateway_reference, amount_cents, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gateway_reference) DO NOTHING
	`
	tag, err := q.Exec(ctx, query, p.ID, p.DebtID, p.GatewayReference, p.AmountCents, p.Currency, p.Status, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return false, fmt.Errorf("recording payment %s: %w", p.GatewayReference, domain.ErrDebtNotFound)
		}
		r.logger.ErrorContext(ctx, "Error creating payment", "error", err, "gateway_reference", p.GatewayReference)
		return false, fmt.Errorf("recording payment %s: %w", p.GatewayReference, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "Payment already recorded", "gateway_reference", p.GatewayReference)
		return false, nil
	}
	return true, nil
}
