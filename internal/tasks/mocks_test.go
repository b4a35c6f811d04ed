package tasks

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/session"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetPair(ctx context.Context, id int64) (*models.ForwardingPair, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*models.ForwardingPair), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*models.LinkedAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) InsertMessageLog(ctx context.Context, entry *models.MessageLog) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockStore) DeleteTerminalJobsBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeleteMessageLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) DeleteResolvedErrorLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Send(ctx context.Context, accountID int64, target, content string) (string, error) {
	args := m.Called(ctx, accountID, target, content)
	return args.String(0), args.Error(1)
}

func (m *mockDispatcher) Forward(ctx context.Context, accountID int64, source, dest, ref string) (string, error) {
	args := m.Called(ctx, accountID, source, dest, ref)
	return args.String(0), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Sweep(ctx context.Context) session.SweepReport {
	return m.Called(ctx).Get(0).(session.SweepReport)
}

func (m *mockSessions) Health(ctx context.Context) (session.HealthReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.HealthReport), args.Error(1)
}

func (m *mockSessions) Repair(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type taskFixture struct {
	store      *mockStore
	dispatcher *mockDispatcher
	sessions   *mockSessions
	deps       Deps
}

func newTaskFixture() *taskFixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &taskFixture{
		store:      &mockStore{},
		dispatcher: &mockDispatcher{},
		sessions:   &mockSessions{},
	}
	f.deps = Deps{
		Store:      f.store,
		Dispatcher: f.dispatcher,
		Sessions:   f.sessions,
		Limiter:    plan.NewLimiter(),
		Logger:     logger,
	}
	return f
}

func (f *taskFixture) assertExpectations(t *testing.T) {
	f.store.AssertExpectations(t)
	f.dispatcher.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
}

func newJob(t *testing.T, taskType models.TaskType, userID int64, payload interface{}) *models.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.Job{ID: "job-1", UserID: userID, TaskType: taskType, Payload: raw}
}

func activeUser(id int64, tier string) *models.User {
	return &models.User{ID: id, Plan: tier, Status: models.UserStatusActive}
}

func int64Ptr(n int64) *int64 { return &n }
