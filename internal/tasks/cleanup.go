package tasks

import (
	"context"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/validation"

	"github.com/sirupsen/logrus"
)

type CleanupType string

const (
	CleanupOldTasks CleanupType = "old_tasks"
	CleanupOldLogs  CleanupType = "old_logs"
	CleanupAll      CleanupType = "all"
)

// CleanupPayload is the payload of a cleanup job. DaysOld 0 uses the
// configured retention of each kind.
type CleanupPayload struct {
	CleanupType CleanupType `json:"cleanup_type"`
	DaysOld     int         `json:"days_old,omitempty"`
}

type cleanupExecutor struct {
	deps   Deps
	config Config
	now    func() time.Time
}

func (e *cleanupExecutor) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	var p CleanupPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.CleanupType == "" {
		p.CleanupType = CleanupAll
	}
	if p.DaysOld != 0 {
		if err := validation.ValidateRetentionDays(p.DaysOld); err != nil {
			return nil, err
		}
	}

	result := map[string]interface{}{"cleanup_type": string(p.CleanupType)}

	switch p.CleanupType {
	case CleanupOldTasks:
		if err := e.tasks(ctx, p.DaysOld, result); err != nil {
			return nil, err
		}
	case CleanupOldLogs:
		if err := e.logs(ctx, p.DaysOld, result); err != nil {
			return nil, err
		}
	case CleanupAll:
		if err := e.tasks(ctx, p.DaysOld, result); err != nil {
			return nil, err
		}
		if err := e.logs(ctx, p.DaysOld, result); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.NewValidationError("cleanup_type", string(p.CleanupType),
			"must be old_tasks, old_logs or all")
	}

	e.deps.Logger.WithFields(logrus.Fields(result)).Info("Cleanup finished")
	return result, nil
}

func (e *cleanupExecutor) tasks(ctx context.Context, days int, result map[string]interface{}) error {
	if days == 0 {
		days = e.config.TaskRetentionDays
	}
	n, err := e.deps.Store.DeleteTerminalJobsBefore(ctx, e.daysAgo(days))
	if err != nil {
		return err
	}
	result["deleted_jobs"] = n
	result["task_days"] = days
	return nil
}

// logs removes message logs older than days and resolved, non-critical error
// logs older than twice that.
func (e *cleanupExecutor) logs(ctx context.Context, days int, result map[string]interface{}) error {
	if days == 0 {
		days = e.config.LogRetentionDays
	}
	messages, err := e.deps.Store.DeleteMessageLogsBefore(ctx, e.daysAgo(days))
	if err != nil {
		return err
	}
	errs, err := e.deps.Store.DeleteResolvedErrorLogsBefore(ctx, e.daysAgo(2*days))
	if err != nil {
		return err
	}
	result["deleted_message_logs"] = messages
	result["deleted_error_logs"] = errs
	result["log_days"] = days
	return nil
}

func (e *cleanupExecutor) daysAgo(days int) time.Time {
	return e.now().Add(-time.Duration(days) * 24 * time.Hour)
}
