package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"telxfwd/internal/constants"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/queue"
	"telxfwd/internal/tasks"

	"github.com/sirupsen/logrus"
)

const (
	stuckFailureMessage = "Task failed (stuck detection)"
	stuckCancelMessage  = "Task cancelled (stuck detection)"
)

// MonitorStore is the ledger access the queue monitor needs.
type MonitorStore interface {
	ListStuckJobs(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Job, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (bool, error)
	FailJob(ctx context.Context, id, errText string) (bool, error)
	CancelJob(ctx context.Context, id, reason string) (bool, error)
}

type MonitorConfig struct {
	Interval        time.Duration
	StuckThreshold  time.Duration
	CleanupInterval time.Duration
	TimeLimits      map[models.TaskType]time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = constants.DefaultMonitorIntervalSec * time.Second
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = constants.DefaultStuckThresholdMin * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = constants.DefaultCleanupIntervalHours * time.Hour
	}
	c.TimeLimits = queue.TimeLimits(c.TimeLimits)
	return c
}

// MonitorReport summarizes one monitor tick.
type MonitorReport struct {
	Depths      queue.Depths
	Workers     int
	Promoted    int
	Resubmitted int
	Stuck       int
	Resolved    map[string]int
	CleanupJob  string
}

// QueueMonitor periodically samples the queue and reconciles ledger rows
// stuck in processing with what the broker knows about them.
type QueueMonitor struct {
	queue   *queue.Queue
	broker  *queue.Broker
	store   MonitorStore
	config  MonitorConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
	now     func() time.Time

	lastCleanup time.Time
}

func NewQueueMonitor(q *queue.Queue, store MonitorStore, config MonitorConfig, m *metrics.Metrics, logger *logrus.Logger) *QueueMonitor {
	return &QueueMonitor{
		queue:       q,
		broker:      q.Broker(),
		store:       store,
		config:      config.withDefaults(),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Run ticks until ctx ends. A failed or panicking tick is logged and the
// next tick runs as usual.
func (m *QueueMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.config.Interval.String()).Info("Queue monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Queue monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.safeTick(ctx)
		}
	}
}

func (m *QueueMonitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", fmt.Sprint(r)).Error("Queue monitor tick panicked")
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, constants.DefaultMonitorTickTimeoutSec*time.Second)
	defer cancel()

	if _, err := m.Tick(tickCtx); err != nil {
		m.logger.WithError(err).Warn("Queue monitor tick incomplete")
	}
}

// Tick runs one monitoring pass. Each step runs even when an earlier one
// failed; the first error is returned.
func (m *QueueMonitor) Tick(ctx context.Context) (MonitorReport, error) {
	now := m.now()
	report := MonitorReport{Resolved: make(map[string]int)}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	depths, err := m.broker.Depths(ctx)
	keep(err)
	if err == nil {
		report.Depths = depths
		for band, n := range depths.Bands {
			m.metrics.SetQueueDepth(int(band), n)
		}
		m.metrics.SetScheduled(depths.Scheduled)
	}

	workers, err := m.broker.Workers(ctx, 2*m.config.Interval)
	keep(err)
	if err == nil {
		report.Workers = workers
		m.metrics.SetActiveWorkers(workers)
	}

	report.Promoted, err = m.broker.PromoteDue(ctx, now)
	keep(err)

	report.Resubmitted, err = m.queue.Resubmit(ctx, m.config.StuckThreshold, constants.DefaultStuckScanLimit)
	keep(err)

	keep(m.reconcileStuck(ctx, now, &report))

	if now.Sub(m.lastCleanup) >= m.config.CleanupInterval {
		id, err := m.queue.Enqueue(ctx, queue.EnqueueRequest{
			UserID:   models.SystemUserID,
			TaskType: models.TaskCleanup,
			Payload:  tasks.CleanupPayload{CleanupType: tasks.CleanupAll},
		})
		keep(err)
		if err == nil {
			m.lastCleanup = now
			report.CleanupJob = id
		}
	}

	m.logger.WithFields(logrus.Fields{
		"workers":     report.Workers,
		"scheduled":   report.Depths.Scheduled,
		"promoted":    report.Promoted,
		"resubmitted": report.Resubmitted,
		"stuck":       report.Stuck,
	}).Debug("Queue monitor tick")

	return report, firstErr
}

func (m *QueueMonitor) reconcileStuck(ctx context.Context, now time.Time, report *MonitorReport) error {
	jobs, err := m.store.ListStuckJobs(ctx, now.Add(-m.config.StuckThreshold), constants.DefaultStuckScanLimit)
	if err != nil {
		return err
	}
	report.Stuck = len(jobs)

	for _, job := range jobs {
		resolution, err := m.resolve(ctx, job, now)
		if err != nil {
			return err
		}
		if resolution == "" {
			continue
		}
		report.Resolved[resolution]++
		m.metrics.StuckJobResolved(resolution)
		m.logger.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"task_type":  job.TaskType,
			"resolution": resolution,
		}).Warn("Resolved stuck job")
	}
	return nil
}

// resolve settles one stuck job from its broker state and returns the ledger
// status it ended in, or "" when the job was left alone.
func (m *QueueMonitor) resolve(ctx context.Context, job *models.Job, now time.Time) (string, error) {
	state, err := m.broker.State(ctx, job.ID)
	if err != nil {
		return "", err
	}

	var current queue.ResultState
	if state != nil {
		current = state.State
	}

	switch current {
	case queue.StateSuccess:
		ok, err := m.store.CompleteJob(ctx, job.ID, state.Result)
		return settled(ok, err, models.JobCompleted)

	case queue.StateRevoked:
		ok, err := m.store.CancelJob(ctx, job.ID, stuckCancelMessage)
		return settled(ok, err, models.JobCancelled)

	case queue.StateStarted:
		if job.StartedAt != nil {
			deadline := job.StartedAt.Add(m.config.TimeLimits[job.TaskType] + m.config.StuckThreshold)
			if now.Before(deadline) {
				return "", nil
			}
		}
	}

	msg := stuckFailureMessage
	if state != nil && state.State == queue.StateFailure && state.Error != "" {
		msg = state.Error
	}
	ok, err := m.store.FailJob(ctx, job.ID, msg)
	return settled(ok, err, models.JobFailed)
}

func settled(ok bool, err error, status models.JobStatus) (string, error) {
	if err != nil || !ok {
		return "", err
	}
	return string(status), nil
}
