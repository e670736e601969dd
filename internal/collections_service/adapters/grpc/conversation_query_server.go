package grpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
	"github.com/recoverly/golang_services/internal/collections_service/mailheader"
)

// ConversationQueryGRPCServer exposes read-only views of email threads.
type ConversationQueryGRPCServer struct {
	threads    domain.ThreadRepository
	emails     domain.EmailRepository
	mailDomain string
	logger     *slog.Logger
}

func NewConversationQueryGRPCServer(threads domain.ThreadRepository, emails domain.EmailRepository, mailDomain string, logger *slog.Logger) *ConversationQueryGRPCServer {
	return &ConversationQueryGRPCServer{
		threads:    threads,
		emails:     emails,
		mailDomain: mailDomain,
		logger:     logger.With("component", "conversation_query_grpc_server"),
	}
}

func (s *ConversationQueryGRPCServer) GetThread(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	threadID, err := threadIDFrom(req)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "GetThread RPC called", "thread_id", threadID)

	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load thread", "error", err, "thread_id", threadID)
		return nil, status.Errorf(codes.Internal, "failed to retrieve thread")
	}
	if thread == nil {
		return nil, status.Errorf(codes.NotFound, "thread not found")
	}

	emails, err := s.emails.ListByThread(ctx, threadID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list thread emails", "error", err, "thread_id", threadID)
		return nil, status.Errorf(codes.Internal, "failed to retrieve thread emails")
	}

	list := make([]any, 0, len(emails))
	for _, e := range emails {
		list = append(list, emailToMap(e))
	}
	out, err := structpb.NewStruct(map[string]any{
		"thread": map[string]any{
			"id":         thread.ID.String(),
			"debtor_id":  thread.DebtorID.String(),
			"subject":    thread.Subject.String,
			"created_at": formatTime(thread.CreatedAt),
			"updated_at": formatTime(thread.UpdatedAt),
		},
		"emails": list,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

func (s *ConversationQueryGRPCServer) GetReferencesChain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	threadID, err := threadIDFrom(req)
	if err != nil {
		return nil, err
	}

	ids, err := s.emails.BuildReferencesChain(ctx, threadID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build references chain", "error", err, "thread_id", threadID)
		return nil, status.Errorf(codes.Internal, "failed to build references chain")
	}
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	out, err := structpb.NewStruct(map[string]any{
		"message_ids": list,
		"references":  mailheader.FormatReferences(ids, s.mailDomain),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

func threadIDFrom(req *structpb.Struct) (uuid.UUID, error) {
	raw := req.GetFields()["thread_id"].GetStringValue()
	if raw == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "thread_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "thread_id is not a valid uuid")
	}
	return id, nil
}

func emailToMap(e *domain.Email) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"message_id":   e.MessageID,
		"direction":    string(e.Direction),
		"from":         e.FromAddress,
		"to":           e.ToAddress,
		"subject":      e.Subject,
		"text_body":    e.TextBody,
		"ai_generated": e.AIGenerated,
		"opened":       e.Opened,
		"clicked":      e.Clicked,
		"bounced":      e.Bounced,
		"complained":   e.Complained,
		"created_at":   formatTime(e.CreatedAt),
	}
	if e.ReplyTo.Valid {
		m["reply_to"] = e.ReplyTo.String
	}
	if e.DeliveredAt.Valid {
		m["delivered_at"] = formatTime(e.DeliveredAt.Time)
	}
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
