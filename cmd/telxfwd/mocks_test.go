package main

import (
	"context"

	"telxfwd/internal/models"
	"telxfwd/internal/queue"
	"telxfwd/internal/service"
	"telxfwd/internal/session"

	"github.com/stretchr/testify/mock"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Health(ctx context.Context) (session.HealthReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.HealthReport), args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Status(ctx context.Context, id string) (models.JobView, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.JobView), args.Error(1)
}

func (m *mockJobs) Stats(ctx context.Context) (queue.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Stats), args.Error(1)
}

type mockPlans struct {
	mock.Mock
}

func (m *mockPlans) PlanLimitsFor(ctx context.Context, userID int64) (service.PlanUsage, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(service.PlanUsage), args.Error(1)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
