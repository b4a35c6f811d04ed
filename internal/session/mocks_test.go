package session

import (
	"context"
	"time"

	"telxfwd/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockStore) GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LinkedAccount), args.Error(1)
}

func (m *mockStore) ListAccountsByStatus(ctx context.Context, status models.AccountStatus) ([]*models.LinkedAccount, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LinkedAccount), args.Error(1)
}

func (m *mockStore) CreateAccount(ctx context.Context, account *models.LinkedAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockStore) CountLinkedAccounts(ctx context.Context, userID int64, platform models.Platform) (int, error) {
	args := m.Called(ctx, userID, platform)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) UpdateAccountStatus(ctx context.Context, id int64, status models.AccountStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockStore) TouchAccount(ctx context.Context, id int64, seen time.Time) error {
	args := m.Called(ctx, id, seen)
	return args.Error(0)
}

func (m *mockStore) InsertErrorLog(ctx context.Context, entry *models.ErrorLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) ListPairsByAccount(ctx context.Context, accountID int64) ([]*models.ForwardingPair, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ForwardingPair), args.Error(1)
}

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Connect(ctx context.Context, account *models.LinkedAccount) (MessagingSession, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(MessagingSession), args.Error(1)
}

type mockSession struct {
	mock.Mock
	platform models.Platform
}

func (m *mockSession) Platform() models.Platform {
	return m.platform
}

func (m *mockSession) Send(ctx context.Context, target, content string) (string, error) {
	args := m.Called(ctx, target, content)
	return args.String(0), args.Error(1)
}

func (m *mockSession) Forward(ctx context.Context, source, dest, ref string) (string, error) {
	args := m.Called(ctx, source, dest, ref)
	return args.String(0), args.Error(1)
}

func (m *mockSession) IsAlive(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}
