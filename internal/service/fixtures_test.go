package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"telxfwd/internal/database"
	"telxfwd/internal/models"
	"telxfwd/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type serviceFixture struct {
	db     *database.Database
	mr     *miniredis.Miniredis
	broker *queue.Broker
	queue  *queue.Queue
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	t.Setenv("TELXFWD_ENABLE_ENCRYPTION", "")

	db, err := database.New(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := queue.NewBroker(client, queue.BrokerConfig{
		Prefix:       "svc",
		BlockTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, broker.Initialize(context.Background()))

	return &serviceFixture{
		db:     db,
		mr:     mr,
		broker: broker,
		queue:  queue.New(db, broker, 3, nil, quietLogger()),
	}
}

func (f *serviceFixture) seedUser(t *testing.T, id int64, tier string) {
	t.Helper()
	require.NoError(t, f.db.SaveUser(context.Background(), &models.User{ID: id, Plan: tier}))
}

func (f *serviceFixture) seedAccount(t *testing.T, userID int64, platform models.Platform) int64 {
	t.Helper()
	account := &models.LinkedAccount{
		UserID:     userID,
		Platform:   platform,
		Credential: "token-" + string(platform),
		Status:     models.AccountStatusActive,
	}
	require.NoError(t, f.db.CreateAccount(context.Background(), account))
	return account.ID
}

func int64Ptr(n int64) *int64 { return &n }
