// Package tasks holds the executors run by queue workers. Executors return
// AppErrors and leave every retry decision to the queue.
package tasks

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"telxfwd/internal/constants"
	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/queue"
	"telxfwd/internal/session"

	"github.com/sirupsen/logrus"
)

// Store is the persistence the executors need.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetPair(ctx context.Context, id int64) (*models.ForwardingPair, error)
	GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error)
	InsertMessageLog(ctx context.Context, entry *models.MessageLog) error
	DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteMessageLogsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteResolvedErrorLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Dispatcher delivers messages through live sessions.
type Dispatcher interface {
	Send(ctx context.Context, accountID int64, target, content string) (string, error)
	Forward(ctx context.Context, accountID int64, source, dest, ref string) (string, error)
}

// Sessions is the health surface of the session registry.
type Sessions interface {
	Sweep(ctx context.Context) session.SweepReport
	Health(ctx context.Context) (session.HealthReport, error)
	Repair(ctx context.Context) (int, error)
}

type Config struct {
	BulkPacing        time.Duration
	TaskRetentionDays int
	LogRetentionDays  int
}

func (c Config) withDefaults() Config {
	if c.BulkPacing <= 0 {
		c.BulkPacing = time.Duration(constants.DefaultBulkPacingMs) * time.Millisecond
	}
	if c.TaskRetentionDays <= 0 {
		c.TaskRetentionDays = constants.DefaultTaskRetentionDays
	}
	if c.LogRetentionDays <= 0 {
		c.LogRetentionDays = constants.DefaultLogRetentionDays
	}
	return c
}

type Deps struct {
	Store      Store
	Dispatcher Dispatcher
	Sessions   Sessions
	Limiter    *plan.Limiter
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

// NewHandlers builds the executor set registered with every worker.
func NewHandlers(deps Deps, config Config) queue.Handlers {
	config = config.withDefaults()
	if deps.Limiter == nil {
		deps.Limiter = plan.NewLimiter()
	}

	forward := newForwarder(deps)
	return queue.Handlers{
		models.TaskForwardMessage:     forward,
		models.TaskSendMessage:        &sendExecutor{deps: deps},
		models.TaskBulkForward:        newBulkExecutor(deps, forward, config.BulkPacing),
		models.TaskSessionHealthCheck: &healthExecutor{deps: deps},
		models.TaskCleanup:            &cleanupExecutor{deps: deps, config: config, now: time.Now},
	}
}

// MessageID accepts both numeric and string ids in payloads.
type MessageID string

func (m *MessageID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = MessageID(n.String())
	return nil
}

// MessageData is one source message to mirror.
type MessageData struct {
	MessageID MessageID `json:"message_id"`
	Text      string    `json:"text"`
	Type      string    `json:"type,omitempty"`
	HasMedia  bool      `json:"has_media,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
}

func (m MessageData) messageType() string {
	if m.Type == "" {
		return "text"
	}
	return m.Type
}

// decodePayload unmarshals a job payload; a malformed payload never
// becomes valid, so it is a validation error.
func decodePayload(job *models.Job, into interface{}) error {
	if err := json.Unmarshal(job.Payload, into); err != nil {
		return appErrors.NewValidationError("payload", "", "malformed "+string(job.TaskType)+" payload").
			WithContext("job_id", job.ID)
	}
	return nil
}

// activeTier loads the owner and fails when their plan lapsed.
func activeTier(ctx context.Context, store Store, userID int64, now time.Time) (string, error) {
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.PlanActive(now) {
		return "", appErrors.NewKind(appErrors.KindValidation, appErrors.ErrCodePlanLimit,
			"user plan is expired or inactive").
			WithContext("user_id", userID)
	}
	return plan.EffectiveTier(user, now), nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
