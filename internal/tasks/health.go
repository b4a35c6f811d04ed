package tasks

import (
	"context"

	"telxfwd/internal/models"

	"github.com/sirupsen/logrus"
)

// healthExecutor runs an on-demand sweep and repairs degraded platforms.
type healthExecutor struct {
	deps Deps
}

func (e *healthExecutor) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	sweep := e.deps.Sessions.Sweep(ctx)

	report, err := e.deps.Sessions.Health(ctx)
	if err != nil {
		return nil, err
	}

	repaired := 0
	if len(report.Degraded()) > 0 {
		repaired, err = e.deps.Sessions.Repair(ctx)
		if err != nil {
			return nil, err
		}
		if repaired > 0 {
			if report, err = e.deps.Sessions.Health(ctx); err != nil {
				return nil, err
			}
		}
	}

	e.deps.Logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"checked":  sweep.Checked,
		"dropped":  sweep.Dropped,
		"repaired": repaired,
		"overall":  report.Overall,
	}).Info("Session health check finished")

	return map[string]interface{}{
		"health":       report,
		"repairs_made": repaired,
		"checked":      sweep.Checked,
		"reconnected":  sweep.Reconnected,
		"dropped":      sweep.Dropped,
	}, nil
}
