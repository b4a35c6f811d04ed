package queue

import (
	"context"
	"encoding/json"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const cancelReason = "Task cancelled by user"

// Store is the ledger side of the queue.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	InsertJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) (bool, error)
	FailJob(ctx context.Context, id, errText string) (bool, error)
	RequeueJob(ctx context.Context, id, errText string, runAt time.Time) (bool, error)
	DeferJob(ctx context.Context, id string, runAt time.Time) (bool, error)
	CancelJob(ctx context.Context, id, reason string) (bool, error)
	RetryJob(ctx context.Context, id string) (bool, error)
	ListOrphanedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Job, error)
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error)
	InsertErrorLog(ctx context.Context, entry *models.ErrorLog) error
}

// EnqueueRequest describes one job to submit. Priority 0 means the owner's
// tier default; MaxRetries nil means the configured default.
type EnqueueRequest struct {
	UserID     int64
	TaskType   models.TaskType
	Payload    interface{}
	Priority   int
	Delay      time.Duration
	MaxRetries *int
}

// Stats is the combined broker and ledger view returned by Stats.
type Stats struct {
	Bands     map[string]int64           `json:"bands"`
	Scheduled int64                      `json:"scheduled"`
	Jobs      map[models.JobStatus]int64 `json:"jobs"`
}

// Queue submits jobs to the broker and keeps the ledger in step with it.
type Queue struct {
	store      Store
	broker     *Broker
	maxRetries int
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

func New(store Store, broker *Broker, defaultMaxRetries int, m *metrics.Metrics, logger *logrus.Logger) *Queue {
	if defaultMaxRetries < 0 {
		defaultMaxRetries = constants.DefaultMaxRetries
	}
	return &Queue{
		store:      store,
		broker:     broker,
		maxRetries: defaultMaxRetries,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func (q *Queue) Broker() *Broker {
	return q.broker
}

// Enqueue validates the request, writes the pending ledger row and hands the
// job to the broker. When the broker is unreachable the row stays pending and
// the id is returned together with the error.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if !req.TaskType.IsValid() {
		return "", appErrors.NewValidationError("task_type", string(req.TaskType), "unknown task type")
	}
	maxRetries := q.maxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return "", appErrors.NewValidationError("max_retries", "", "max_retries must not be negative")
		}
		maxRetries = *req.MaxRetries
	}
	if req.Delay < 0 {
		req.Delay = 0
	}

	band, err := q.resolveBand(ctx, req.UserID, req.Priority)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", appErrors.NewValidationError("payload", "", "payload is not serializable")
	}
	if req.Payload == nil {
		payload = json.RawMessage("{}")
	}

	now := q.now().UTC()
	job := &models.Job{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		TaskType:   req.TaskType,
		Status:     models.JobPending,
		Priority:   int(band),
		QueueName:  q.broker.StreamName(band),
		Payload:    payload,
		MaxRetries: maxRetries,
		CreatedAt:  now,
	}
	if req.Delay > 0 {
		runAt := now.Add(req.Delay)
		job.ScheduledAt = &runAt
	}

	if err := q.store.InsertJob(ctx, job); err != nil {
		return "", err
	}

	if job.ScheduledAt != nil {
		err = q.broker.Schedule(ctx, band, job.ID, *job.ScheduledAt)
	} else {
		err = q.broker.Publish(ctx, band, job.ID)
	}
	if err != nil {
		q.logger.WithError(err).WithField("job_id", job.ID).Warn("Job persisted but not submitted to the broker")
		return job.ID, err
	}

	q.metrics.JobEnqueued(string(job.TaskType), int(band))
	q.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"task_type": job.TaskType,
		"band":      band.String(),
		"user_id":   job.UserID,
		"delay":     req.Delay,
	}).Debug("Job enqueued")
	return job.ID, nil
}

func (q *Queue) resolveBand(ctx context.Context, userID int64, requested int) (Band, error) {
	if userID == models.SystemUserID {
		return BandHigh, nil
	}
	user, err := q.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	tier := plan.EffectiveTier(user, q.now())
	if requested == 0 {
		return BandFor(plan.QueuePriorityFor(tier)), nil
	}
	allowed, priority := plan.ValidatePriority(tier, requested)
	if !allowed {
		q.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"requested": requested,
			"granted":   priority,
		}).Debug("Capped requested job priority")
	}
	return BandFor(priority), nil
}

// Status returns the ledger view of a job.
func (q *Queue) Status(ctx context.Context, id string) (models.JobView, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	return job.View(), nil
}

// Cancel revokes a pending or processing job. A job already running may
// still finish; its completion is then ignored by the ledger.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}

	if err := q.broker.Revoke(ctx, id); err != nil {
		return false, err
	}
	cancelled, err := q.store.CancelJob(ctx, id, cancelReason)
	if err != nil {
		return false, err
	}
	if cancelled {
		q.logger.WithField("job_id", id).Info("Job cancelled")
	}
	return cancelled, nil
}

// Retry resubmits a failed job to its band while its retry budget lasts.
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobFailed || !job.CanRetry() {
		return false, nil
	}

	ok, err := q.store.RetryJob(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	band := BandFor(job.Priority)
	if err := q.broker.ClearRevoked(ctx, id); err != nil {
		return false, err
	}
	if err := q.broker.Publish(ctx, band, id); err != nil {
		return false, err
	}

	q.metrics.JobRetried(string(job.TaskType), "manual")
	q.logger.WithFields(logrus.Fields{
		"job_id":      id,
		"retry_count": job.RetryCount + 1,
	}).Info("Job resubmitted")
	return true, nil
}

// Resubmit republishes pending jobs older than olderThan that have neither a
// stream entry nor a schedule entry: enqueues whose publish failed, retries
// whose schedule failed and deliveries dropped before they were claimed.
// Duplicates are harmless since claiming is conditional.
func (q *Queue) Resubmit(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	jobs, err := q.store.ListOrphanedJobs(ctx, q.now().Add(-olderThan), limit)
	if err != nil || len(jobs) == 0 {
		return 0, err
	}

	queued, err := q.broker.QueuedJobs(ctx)
	if err != nil {
		return 0, err
	}

	resubmitted := 0
	for _, job := range jobs {
		if queued[job.ID] {
			continue
		}
		if err := q.broker.Publish(ctx, BandFor(job.Priority), job.ID); err != nil {
			return resubmitted, err
		}
		resubmitted++
	}
	if resubmitted > 0 {
		q.logger.WithField("count", resubmitted).Info("Resubmitted orphaned jobs")
	}
	return resubmitted, nil
}

// Stats reports broker depths together with ledger counts per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	depths, err := q.broker.Depths(ctx)
	if err != nil {
		return Stats{}, err
	}
	counts, err := q.store.CountJobsByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Bands:     make(map[string]int64, len(depths.Bands)),
		Scheduled: depths.Scheduled,
		Jobs:      counts,
	}
	for band, n := range depths.Bands {
		stats.Bands[band.String()] = n
	}
	return stats, nil
}

// Cleanup deletes terminal ledger rows finished more than olderThan ago.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return q.store.DeleteTerminalJobsBefore(ctx, q.now().Add(-olderThan))
}
