package notify

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskTypeSecurityNotice is the asynq task type for security notifications.
const TaskTypeSecurityNotice = "notify:security"

// SecurityNoticePayload carries a notification through the task queue.
type SecurityNoticePayload struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NewSecurityNoticeTask constructs an asynq task for the payload.
func NewSecurityNoticeTask(payload SecurityNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSecurityNotice, data), nil
}

// HandleSecurityNoticeTask returns the worker-side handler that performs
// the notification insert.
func HandleSecurityNoticeTask(repo Repository) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SecurityNoticePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return repo.Insert(ctx, Notification{
			UserID:  payload.UserID,
			Title:   payload.Title,
			Message: payload.Message,
			Type:    TypeSecurity,
		})
	}
}
