package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/platform/database"
)

type PgAIUsageRepository struct {
	db     database.Querier
	logger *slog.Logger
}

func NewPgAIUsageRepository(db database.Querier, logger *slog.Logger) *PgAIUsageRepository {
	return &PgAIUsageRepository{db: db, logger: logger.With("component", "ai_usage_repository_pg")}
}

var _ domain.AIUsageRepository = (*PgAIUsageRepository)(nil)

func (r *PgAIUsageRepository) Record(ctx context.Context, u *domain.AIUsage) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Metadata == nil {
		u.Metadata = domain.Document{}
	}
	query := `
		INSERT INTO ai_usage (id, thread_id, debt_id, model, prompt_tokens, completion_tokens, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, query, u.ID, u.ThreadID, u.DebtID, u.Model, u.PromptTokens, u.CompletionTokens, u.Metadata, u.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording AI usage", "error", err, "model", u.Model)
		return fmt.Errorf("recording ai usage: %w", err)
	}
	return nil
}
