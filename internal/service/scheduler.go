package service

import (
	"context"
	"time"

	"telxfwd/internal/constants"
	"telxfwd/internal/models"
	"telxfwd/internal/queue"
	"telxfwd/internal/tasks"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Enqueuer submits jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

type ScheduleConfig struct {
	HealthCheck string
	TaskCleanup string
	LogCleanup  string
}

func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.HealthCheck == "" {
		c.HealthCheck = constants.DefaultHealthCheckCron
	}
	if c.TaskCleanup == "" {
		c.TaskCleanup = constants.DefaultTaskCleanupCron
	}
	if c.LogCleanup == "" {
		c.LogCleanup = constants.DefaultLogCleanupCron
	}
	return c
}

// Scheduler is the periodic beat: it enqueues system jobs on cron schedules.
type Scheduler struct {
	queue   Enqueuer
	cron    *cron.Cron
	timeout time.Duration
	logger  *logrus.Logger
}

type beatEntry struct {
	name     string
	spec     string
	taskType models.TaskType
	payload  interface{}
}

func NewScheduler(q Enqueuer, config ScheduleConfig, logger *logrus.Logger) (*Scheduler, error) {
	config = config.withDefaults()
	s := &Scheduler{
		queue:   q,
		timeout: constants.DefaultMonitorTickTimeoutSec * time.Second,
		logger:  logger,
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))

	entries := []beatEntry{
		{"session-health-check", config.HealthCheck, models.TaskSessionHealthCheck, struct{}{}},
		{"cleanup-old-tasks", config.TaskCleanup, models.TaskCleanup, tasks.CleanupPayload{CleanupType: tasks.CleanupOldTasks}},
		{"cleanup-old-logs", config.LogCleanup, models.TaskCleanup, tasks.CleanupPayload{CleanupType: tasks.CleanupOldLogs}},
	}
	for _, entry := range entries {
		entry := entry
		if _, err := s.cron.AddFunc(entry.spec, func() { s.fire(entry) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run starts the beat and blocks until ctx ends, then waits for running
// entries to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.WithField("entries", len(s.cron.Entries())).Info("Scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) fire(entry beatEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	id, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		UserID:   models.SystemUserID,
		TaskType: entry.taskType,
		Payload:  entry.payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("entry", entry.name).Error("Failed to enqueue scheduled job")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"entry":  entry.name,
		"job_id": id,
	}).Info("Enqueued scheduled job")
}

// cronLogger adapts logrus to cron's logger.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
