package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/retry"
	"telxfwd/internal/tracing"

	"github.com/sirupsen/logrus"
)

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRetry    = "retry"
	outcomeSkipped  = "skipped"
	outcomeDeferred = "deferred"

	readErrorPause = time.Second
)

// Handler executes one job. Returned errors decide the retry path: transient
// and unexpected errors are retried, validation and permanent ones are not.
type Handler interface {
	Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error)
}

type HandlerFunc func(ctx context.Context, job *models.Job) (map[string]interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	return f(ctx, job)
}

// Handlers maps each task type to its executor.
type Handlers map[models.TaskType]Handler

type WorkerConfig struct {
	Consumer   string
	TimeLimits map[models.TaskType]time.Duration
}

// Worker runs jobs one at a time from the broker.
type Worker struct {
	queue     *Queue
	handlers  Handlers
	consumer  string
	limits    map[models.TaskType]time.Duration
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	errLogger *appErrors.Logger
	now       func() time.Time
}

// TimeLimits returns the hard limit of every task type, with positive
// overrides replacing the defaults.
func TimeLimits(overrides map[models.TaskType]time.Duration) map[models.TaskType]time.Duration {
	limits := map[models.TaskType]time.Duration{
		models.TaskForwardMessage:     constants.DefaultForwardTimeLimitSec * time.Second,
		models.TaskSendMessage:        constants.DefaultSendTimeLimitSec * time.Second,
		models.TaskBulkForward:        constants.DefaultBulkTimeLimitSec * time.Second,
		models.TaskSessionHealthCheck: constants.DefaultHealthTimeLimitSec * time.Second,
		models.TaskCleanup:            constants.DefaultCleanupTimeLimitSec * time.Second,
	}
	for taskType, limit := range overrides {
		if limit > 0 {
			limits[taskType] = limit
		}
	}
	return limits
}

func NewWorker(q *Queue, handlers Handlers, config WorkerConfig, m *metrics.Metrics, logger *logrus.Logger) *Worker {
	return &Worker{
		queue:     q,
		handlers:  handlers,
		consumer:  config.Consumer,
		limits:    TimeLimits(config.TimeLimits),
		metrics:   m,
		logger:    logger,
		errLogger: appErrors.WrapLogger(logger),
		now:       time.Now,
	}
}

// TimeLimit returns the hard limit applied to a task type.
func (w *Worker) TimeLimit(taskType models.TaskType) time.Duration {
	return w.limits[taskType]
}

// Run processes jobs until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	ctx = tracing.WithConsumer(ctx, w.consumer)
	w.logger.WithField("consumer", w.consumer).Info("Worker started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.errLogger.LogRetryableError(err, "Worker failed to read from the broker", tracing.LogFields(ctx))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readErrorPause):
			}
		}
	}
}

// ProcessNext promotes due scheduled jobs, then reads and runs at most one
// job. It reports whether a delivery was handled.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	broker := w.queue.broker
	if _, err := broker.PromoteDue(ctx, w.now()); err != nil {
		return false, err
	}

	d, err := broker.Read(ctx, w.consumer)
	if err != nil || d == nil {
		return false, err
	}

	w.handle(ctx, d)
	if err := broker.Ack(context.WithoutCancel(ctx), d); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to ack job", logrus.Fields{"job_id": d.JobID})
	}
	return true, nil
}

func (w *Worker) handle(ctx context.Context, d *Delivery) {
	logger := w.logger.WithFields(logrus.Fields{
		"job_id":    d.JobID,
		"band":      d.Band.String(),
		"consumer":  w.consumer,
		"reclaimed": d.Reclaimed,
	})

	revoked, err := w.queue.broker.IsRevoked(ctx, d.JobID)
	if err != nil {
		logger.WithError(err).Warn("Could not check revoke flag")
	}
	if revoked {
		logger.Info("Skipping revoked job")
		return
	}

	job, err := w.queue.store.GetJob(ctx, d.JobID)
	if err != nil {
		logger.WithError(err).Warn("Dropping delivery without a ledger row")
		return
	}

	claimed, err := w.queue.store.ClaimJob(ctx, job.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to claim job")
		return
	}
	if !claimed {
		logger.WithField("status", job.Status).Debug("Job already claimed or finished")
		w.metrics.JobFinished(string(job.TaskType), outcomeSkipped, 0)
		return
	}

	w.run(ctx, job)
}

func (w *Worker) run(ctx context.Context, job *models.Job) {
	broker := w.queue.broker
	started := w.now()

	ctx, span := tracing.StartJobSpan(ctx, job)
	fields := tracing.LogFields(ctx)
	fields["task_type"] = job.TaskType
	fields["retry_count"] = job.RetryCount

	if err := broker.setState(ctx, job.ID, StateStarted, nil, "", w.consumer); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to mark job started", fields)
	}

	result, err := w.execute(ctx, job)
	tracing.EndSpan(span, err)
	elapsed := w.now().Sub(started)

	// bookkeeping must land even when the worker is shutting down
	ctx = context.WithoutCancel(ctx)

	if err == nil {
		w.complete(ctx, job, result, elapsed, fields)
		return
	}

	if d, ok := AsDeferral(err); ok {
		w.deferJob(ctx, job, d, elapsed, fields)
		return
	}

	if retryable(err) && job.CanRetry() {
		if w.requeue(ctx, job, err, elapsed, fields) {
			return
		}
	}
	w.fail(ctx, job, err, elapsed, fields)
}

// execute runs the handler under the task type's hard time limit. A handler
// that ignores its context is abandoned once the limit passes.
func (w *Worker) execute(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	handler, ok := w.handlers[job.TaskType]
	if !ok {
		return nil, appErrors.NewPermanentError(appErrors.ErrCodeValidationFailed,
			fmt.Sprintf("no handler for task type %s", job.TaskType), nil)
	}

	limit := w.TimeLimit(job.TaskType)
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithFields(logrus.Fields{
					"job_id": job.ID,
					"panic":  r,
					"stack":  string(debug.Stack()),
				}).Error("Task handler panicked")
				done <- outcome{err: appErrors.NewPermanentError(appErrors.ErrCodeInternalError,
					fmt.Sprintf("internal error: %v", r), nil)}
			}
		}()
		result, err := handler.Execute(runCtx, job)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, timeLimitError(limit)
		}
		return out.result, out.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, appErrors.NewTransientError(appErrors.ErrCodeTimeout, "worker shutting down", ctx.Err())
		}
		return nil, timeLimitError(limit)
	}
}

func timeLimitError(limit time.Duration) error {
	return appErrors.NewPermanentError(appErrors.ErrCodeTimeLimit,
		fmt.Sprintf("task exceeded time limit of %ds", int(limit.Seconds())), nil)
}

// retryable reports whether the retry policy applies. Errors that are not
// AppErrors come from unexpected executor failures and are retried too.
func retryable(err error) bool {
	if _, ok := appErrors.As(err); !ok {
		return true
	}
	return appErrors.IsRetryable(err)
}

// errorText is what the ledger shows callers for a failed attempt.
func errorText(err error) string {
	appErr, ok := appErrors.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.Cause != nil {
		return appErr.Message + ": " + appErr.Cause.Error()
	}
	return appErr.Message
}

func (w *Worker) complete(ctx context.Context, job *models.Job, result map[string]interface{}, elapsed time.Duration, fields logrus.Fields) {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			w.fail(ctx, job, appErrors.NewInternalError("result is not serializable", err), elapsed, fields)
			return
		}
		raw = b
	}

	ok, err := w.queue.store.CompleteJob(ctx, job.ID, raw)
	if err != nil {
		w.errLogger.LogError(err, "Failed to record job completion", fields)
		return
	}
	if !ok {
		// the ledger and the broker both keep the cancellation
		w.logger.WithFields(fields).Info("Job finished after it was cancelled")
		w.metrics.JobFinished(string(job.TaskType), outcomeSkipped, elapsed)
		return
	}
	if err := w.queue.broker.SetState(ctx, job.ID, StateSuccess, raw, ""); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to store job result", fields)
	}

	w.metrics.JobFinished(string(job.TaskType), outcomeSuccess, elapsed)
	w.logger.WithFields(fields).WithField("elapsed", elapsed).Info("Job completed")
}

// requeue consumes one retry and schedules the next attempt. It returns false
// when the ledger refused, so the caller fails the job instead.
func (w *Worker) requeue(ctx context.Context, job *models.Job, cause error, elapsed time.Duration, fields logrus.Fields) bool {
	delay := retry.JobDelay(job.TaskType, job.RetryCount)
	if after := appErrors.GetRetryAfter(cause); after > delay {
		delay = after
	}
	runAt := w.now().Add(delay)

	ok, err := w.queue.store.RequeueJob(ctx, job.ID, errorText(cause), runAt)
	if err != nil {
		w.errLogger.LogError(err, "Failed to requeue job", fields)
		return false
	}
	if !ok {
		return false
	}

	if err := w.queue.broker.SetState(ctx, job.ID, StatePending, nil, ""); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to reset job state", fields)
	}
	if err := w.queue.broker.Schedule(ctx, BandFor(job.Priority), job.ID, runAt); err != nil {
		// Resubmit republishes the pending row once it is past due
		w.errLogger.LogRetryableError(err, "Failed to schedule job retry", fields)
	}

	w.metrics.JobRetried(string(job.TaskType), "error")
	w.metrics.JobFinished(string(job.TaskType), outcomeRetry, elapsed)
	w.errLogger.LogRetryableError(cause, "Job failed, retry scheduled", logrus.Fields{
		"job_id":      job.ID,
		"task_type":   job.TaskType,
		"retry_count": job.RetryCount + 1,
		"max_retries": job.MaxRetries,
		"delay":       delay,
	})
	return true
}

// deferJob parks the job until the handler's requested time. A job that was
// cancelled meanwhile stays cancelled.
func (w *Worker) deferJob(ctx context.Context, job *models.Job, d *Deferral, elapsed time.Duration, fields logrus.Fields) {
	ok, err := w.queue.store.DeferJob(ctx, job.ID, d.Until)
	if err != nil {
		w.fail(ctx, job, err, elapsed, fields)
		return
	}
	if !ok {
		w.logger.WithFields(fields).Info("Deferred job is no longer processing")
		return
	}

	if err := w.queue.broker.SetState(ctx, job.ID, StatePending, nil, ""); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to reset job state", fields)
	}
	if err := w.queue.broker.Schedule(ctx, BandFor(job.Priority), job.ID, d.Until); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to schedule deferred job", fields)
	}

	w.metrics.JobFinished(string(job.TaskType), outcomeDeferred, elapsed)
	w.logger.WithFields(fields).WithFields(logrus.Fields{
		"until":  d.Until,
		"reason": d.Reason,
	}).Debug("Job deferred")
}

func (w *Worker) fail(ctx context.Context, job *models.Job, cause error, elapsed time.Duration, fields logrus.Fields) {
	errText := errorText(cause)

	if err := w.queue.broker.SetState(ctx, job.ID, StateFailure, nil, errText); err != nil {
		w.errLogger.LogRetryableError(err, "Failed to store job failure", fields)
	}
	if _, err := w.queue.store.FailJob(ctx, job.ID, errText); err != nil {
		w.errLogger.LogError(err, "Failed to record job failure", fields)
	}

	severity := models.SeverityWarning
	if appErrors.IsCredentialError(cause) || appErrors.KindOf(cause) == appErrors.KindInternal {
		severity = models.SeverityCritical
	}
	entry := &models.ErrorLog{
		JobID:        job.ID,
		ErrorType:    "job_failed",
		ErrorMessage: errText,
		Severity:     severity,
	}
	if job.UserID != models.SystemUserID {
		userID := job.UserID
		entry.UserID = &userID
	}
	if err := w.queue.store.InsertErrorLog(ctx, entry); err != nil {
		w.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to write error log")
	}

	w.metrics.JobFinished(string(job.TaskType), outcomeFailure, elapsed)
	w.errLogger.LogError(cause, "Job failed", fields)
}
