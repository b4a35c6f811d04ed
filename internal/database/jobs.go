package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

// InsertJob writes a new ledger row. Callers insert before handing the job
// to the broker.
func (d *Database) InsertJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = d.now()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertJobQuery,
			job.ID, job.UserID, job.TaskType, job.Status, job.Priority, job.QueueName,
			string(payload), job.RetryCount, job.MaxRetries, nullTime(job.ScheduledAt),
			job.CreatedAt.UTC())
		return err
	}, "insert job")
	if err != nil {
		return appErrors.NewDatabaseError("insert job", err)
	}
	return nil
}

func (d *Database) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(d.db.QueryRowContext(ctx, SelectJobQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get job", err)
	}
	return job, nil
}

// ClaimJob moves a pending job to processing. It returns false when another
// worker already claimed it or the job left the pending state.
func (d *Database) ClaimJob(ctx context.Context, id string) (bool, error) {
	return d.transition(ctx, "claim job", ClaimJobQuery, d.now(), id)
}

func (d *Database) CompleteJob(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	var stored interface{}
	if len(result) > 0 {
		stored = string(result)
	}
	return d.transition(ctx, "complete job", CompleteJobQuery, stored, d.now(), id)
}

func (d *Database) FailJob(ctx context.Context, id, errText string) (bool, error) {
	return d.transition(ctx, "fail job", FailJobQuery, errText, d.now(), id)
}

// RequeueJob consumes one retry and puts a processing job back to pending.
// It returns false once the retry budget is spent.
func (d *Database) RequeueJob(ctx context.Context, id, errText string, runAt time.Time) (bool, error) {
	return d.transition(ctx, "requeue job", RequeueJobQuery, errText, runAt.UTC(), id)
}

// DeferJob parks a processing job until runAt without touching its retry
// count.
func (d *Database) DeferJob(ctx context.Context, id string, runAt time.Time) (bool, error) {
	return d.transition(ctx, "defer job", DeferJobQuery, runAt.UTC(), id)
}

func (d *Database) CancelJob(ctx context.Context, id, reason string) (bool, error) {
	return d.transition(ctx, "cancel job", CancelJobQuery, reason, d.now(), id)
}

// RetryJob resets a failed job to pending when budget remains.
func (d *Database) RetryJob(ctx context.Context, id string) (bool, error) {
	return d.transition(ctx, "retry job", RetryJobQuery, id)
}

// ListStuckJobs returns processing jobs that started before the cutoff.
func (d *Database) ListStuckJobs(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Job, error) {
	return d.queryJobs(ctx, SelectStuckJobsQuery, startedBefore.UTC(), limit)
}

// ListOrphanedJobs returns pending jobs created before the cutoff that are
// not waiting on a future schedule.
func (d *Database) ListOrphanedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Job, error) {
	now := d.now()
	return d.queryJobs(ctx, SelectOrphanedJobsQuery, createdBefore.UTC(), now, limit)
}

func (d *Database) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := d.db.QueryContext(ctx, CountJobsByStatusQuery)
	if err != nil {
		return nil, appErrors.NewDatabaseError("count jobs", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status models.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, appErrors.NewDatabaseError("count jobs", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("count jobs", err)
	}
	return counts, nil
}

// DeleteTerminalJobsBefore garbage-collects finished ledger rows.
func (d *Database) DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error) {
	return d.deleteBefore(ctx, "delete old jobs", DeleteTerminalJobsQuery, before)
}

func (d *Database) transition(ctx context.Context, name, query string, args ...interface{}) (bool, error) {
	changed, err := retryableDBOperation(ctx, func() (bool, error) {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return false, err
		}
		return rowsAffected(res)
	}, name)
	if err != nil {
		return false, appErrors.NewDatabaseError(name, err)
	}
	return changed, nil
}

func (d *Database) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, appErrors.NewDatabaseError("list jobs", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, appErrors.NewDatabaseError("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list jobs", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var payload string
	var result sql.NullString
	var scheduled, started, completed sql.NullTime

	if err := row.Scan(
		&job.ID, &job.UserID, &job.TaskType, &job.Status, &job.Priority, &job.QueueName,
		&payload, &result, &job.Error, &job.RetryCount, &job.MaxRetries,
		&scheduled, &job.CreatedAt, &started, &completed,
	); err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.ScheduledAt = timePtr(scheduled)
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)

	return &job, nil
}
