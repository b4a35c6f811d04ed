package models

import (
	"encoding/json"
	"time"
)

type TaskType string

const (
	TaskForwardMessage     TaskType = "forward_message"
	TaskSendMessage        TaskType = "send_message"
	TaskBulkForward        TaskType = "bulk_forward"
	TaskSessionHealthCheck TaskType = "session_health_check"
	TaskCleanup            TaskType = "cleanup"
)

// AllTaskTypes lists every task type a worker can execute.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskForwardMessage,
		TaskSendMessage,
		TaskBulkForward,
		TaskSessionHealthCheck,
		TaskCleanup,
	}
}

func (t TaskType) IsValid() bool {
	for _, known := range AllTaskTypes() {
		if t == known {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no worker will touch the job again on its own.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// jobTransitions lists the allowed ledger status changes. failed -> pending
// is the explicit retry path, processing -> pending the automatic one.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobCancelled, JobFailed},
	JobProcessing: {JobCompleted, JobFailed, JobCancelled, JobPending},
	JobFailed:     {JobPending},
}

// CanTransition reports whether a ledger row may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the durable ledger row for one unit of queued work.
type Job struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	TaskType    TaskType        `json:"task_type"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	QueueName   string          `json:"queue_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// CanRetry reports whether the retry budget still allows another attempt.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// JobView is what status polling returns to callers.
type JobView struct {
	ID          string          `json:"id"`
	TaskType    TaskType        `json:"task_type"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// View projects the ledger row for external callers.
func (j *Job) View() JobView {
	return JobView{
		ID:          j.ID,
		TaskType:    j.TaskType,
		Status:      j.Status,
		Priority:    j.Priority,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		Error:       j.Error,
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
