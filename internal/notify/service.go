package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Service delivers user-facing notifications. Delivery is strictly best
// effort: failures are logged and swallowed so a notification write can
// never fail a security operation.
type Service struct {
	repo   Repository
	client *asynq.Client
	logger *slog.Logger
}

// NewService constructs the Service. The asynq client is optional; without
// it every notice is inserted directly.
func NewService(repo Repository, client *asynq.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, client: client, logger: logger}
}

// SecurityNotice queues a security notification for the user. Falls back
// to a direct insert when the queue is unavailable.
func (s *Service) SecurityNotice(ctx context.Context, userID, title, message string) {
	if s.client != nil {
		task, err := NewSecurityNoticeTask(SecurityNoticePayload{UserID: userID, Title: title, Message: message})
		if err == nil {
			if _, err := s.client.EnqueueContext(ctx, task); err == nil {
				return
			}
		}
	}
	if err := s.repo.Insert(ctx, Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Type:    TypeSecurity,
	}); err != nil {
		s.logger.Warn("security notice dropped",
			slog.Any("error", err),
			slog.String("user", userID),
			slog.String("title", title))
	}
}

// ListForUser proxies repository reads for the HTTP handler.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, limit)
}
