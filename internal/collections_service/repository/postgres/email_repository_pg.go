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

const emailColumns = `id, message_id, header_message_id, thread_id, debt_id, direction, from_address, to_address,
	subject, text_body, html_body, reply_to, ai_generated, provider_message_id,
	opened, clicked, bounced, complained, delivered_at, created_at`

// PgEmailRepository is the conversation store. Emails are only ever inserted, except for the
// delivery tracking columns.
type PgEmailRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgEmailRepository(db database.Querier, logger *slog.Logger) *PgEmailRepository {
	return &PgEmailRepository{db: db, logger: logger.With("component", "email_repository_pg")}
}

var _ domain.EmailRepository = (*PgEmailRepository)(nil)

func scanEmail(row pgx.Row) (*domain.Email, error) {
	var e domain.Email
	err := row.Scan(
		&e.ID, &e.MessageID, &e.HeaderMessageID, &e.ThreadID, &e.DebtID, &e.Direction,
		&e.FromAddress, &e.ToAddress, &e.Subject, &e.TextBody, &e.HTMLBody, &e.ReplyTo,
		&e.AIGenerated, &e.ProviderMessageID, &e.Opened, &e.Clicked, &e.Bounced, &e.Complained,
		&e.DeliveredAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts email. A missing MessageID is filled with a generated one; ID and CreatedAt
// are assigned when zero.
func (r *PgEmailRepository) Create(ctx context.Context, e *domain.Email) error {
	if !e.DebtID.Valid || !e.ThreadID.Valid {
		return domain.ErrMissingReference
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO emails (` + emailColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	r.logger.DebugContext(ctx, "Inserting email", "message_id", e.MessageID, "thread_id", e.ThreadID.UUID, "direction", e.Direction)
	_, err := r.db.Exec(ctx, query,
		e.ID, e.MessageID, e.HeaderMessageID, e.ThreadID, e.DebtID, e.Direction,
		e.FromAddress, e.ToAddress, e.Subject, e.TextBody, e.HTMLBody, e.ReplyTo,
		e.AIGenerated, e.ProviderMessageID, e.Opened, e.Clicked, e.Bounced, e.Complained,
		e.DeliveredAt, e.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			r.logger.WarnContext(ctx, "Duplicate message id", "message_id", e.MessageID)
			return fmt.Errorf("%w: %s", domain.ErrDuplicateMessageID, e.MessageID)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: %v", domain.ErrReferentialIntegrity, err)
		}
		r.logger.ErrorContext(ctx, "Error inserting email", "error", err, "message_id", e.MessageID)
		return fmt.Errorf("inserting email: %w", err)
	}
	return nil
}

func (r *PgEmailRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Email, error) {
	return r.getOne(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
}

func (r *PgEmailRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.Email, error) {
	return r.getOne(ctx, `SELECT `+emailColumns+` FROM emails WHERE message_id = $1`, messageID)
}

func (r *PgEmailRepository) GetLatestInThread(ctx context.Context, threadID uuid.UUID) (*domain.Email, error) {
	return r.getOne(ctx, `SELECT `+emailColumns+` FROM emails WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, threadID)
}

func (r *PgEmailRepository) getOne(ctx context.Context, query string, arg any) (*domain.Email, error) {
	e, err := scanEmail(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error querying email", "error", err)
		return nil, fmt.Errorf("querying email: %w", err)
	}
	return e, nil
}

func (r *PgEmailRepository) ListByThread(ctx context.Context, threadID uuid.UUID) ([]*domain.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE thread_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing thread emails", "error", err, "thread_id", threadID)
		return nil, fmt.Errorf("listing emails for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var emails []*domain.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating emails: %w", err)
	}
	return emails, nil
}

func (r *PgEmailRepository) BuildReferencesChain(ctx context.Context, threadID uuid.UUID) ([]string, error) {
	query := `SELECT message_id FROM emails WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error building references chain", "error", err, "thread_id", threadID)
		return nil, fmt.Errorf("building references for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var chain []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		chain = append(chain, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message ids: %w", err)
	}
	return chain, nil
}

func (r *PgEmailRepository) ApplyDeliveryEvent(ctx context.Context, providerMessageID string, event domain.DeliveryEvent, at time.Time) (*domain.Email, error) {
	var set string
	args := []any{providerMessageID}
	switch event {
	case domain.DeliveryEventDelivered:
		set = "delivered_at = COALESCE(delivered_at, $2)"
		args = append(args, at)
	case domain.DeliveryEventOpened:
		set = "opened = TRUE"
	case domain.DeliveryEventClicked:
		set = "clicked = TRUE"
	case domain.DeliveryEventBounced:
		set = "bounced = TRUE"
	case domain.DeliveryEventComplained:
		set = "complained = TRUE"
	default:
		return nil, fmt.Errorf("unsupported delivery event %q", event)
	}

	query := `UPDATE emails SET ` + set + ` WHERE provider_message_id = $1 RETURNING ` + emailColumns
	e, err := scanEmail(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error applying delivery event", "error", err, "event", event)
		return nil, fmt.Errorf("applying %s: %w", event, err)
	}
	return e, nil
}
