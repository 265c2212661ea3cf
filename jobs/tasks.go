package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opsdeck/opsdeck/internal/credreset"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeResetSweep purges long-expired consumed reset tokens.
	TaskTypeResetSweep = "resets:sweep"
)

// resetSweepRetention keeps consumed tokens around long enough for audit
// review before deletion.
const resetSweepRetention = 30 * 24 * time.Hour

// NewResetSweepTask constructs the sweep task.
func NewResetSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeResetSweep, nil)
}

// HandleResetSweepTask returns the handler that performs the sweep.
func HandleResetSweepTask(service *credreset.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		removed, err := service.SweepExpired(ctx, resetSweepRetention)
		if err != nil {
			return err
		}
		if logger != nil && removed > 0 {
			logger.Info("swept consumed reset tokens", slog.Int64("removed", removed))
		}
		return nil
	}
}
