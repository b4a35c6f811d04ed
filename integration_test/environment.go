package integration_test

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"telxfwd/internal/database"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/queue"
	"telxfwd/internal/service"
	"telxfwd/internal/session"
	"telxfwd/internal/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment wires the real store, broker, registry, executors and a
// worker around in-memory platforms.
type TestEnvironment struct {
	t         *testing.T
	name      string
	DB        *database.Database
	Redis     *miniredis.Miniredis
	Broker    *queue.Broker
	Queue     *queue.Queue
	Registry  *session.Registry
	Pairs     *service.PairService
	Worker    *queue.Worker
	Platforms map[models.Platform]*FakePlatform
	Logger    *logrus.Logger
}

func NewTestEnvironment(t *testing.T, name string) *TestEnvironment {
	t.Helper()
	t.Setenv("TELXFWD_ENABLE_ENCRYPTION", "")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &TestEnvironment{
		t:      t,
		name:   fmt.Sprintf("%s_%d", name, time.Now().UnixNano()),
		Logger: logger,
		Platforms: map[models.Platform]*FakePlatform{
			models.PlatformTelegram: NewFakePlatform(models.PlatformTelegram),
			models.PlatformDiscord:  NewFakePlatform(models.PlatformDiscord),
		},
	}

	env.setupDatabase()
	env.setupBroker()
	env.setupRuntime()
	return env
}

func (env *TestEnvironment) setupDatabase() {
	db, err := database.New(filepath.Join(env.t.TempDir(), env.name+".db"))
	require.NoError(env.t, err)
	env.t.Cleanup(func() { _ = db.Close() })
	env.DB = db
}

func (env *TestEnvironment) setupBroker() {
	env.Redis = miniredis.RunT(env.t)
	client := redis.NewClient(&redis.Options{Addr: env.Redis.Addr()})
	env.t.Cleanup(func() { _ = client.Close() })

	env.Broker = queue.NewBroker(client, queue.BrokerConfig{
		Prefix:       "it",
		BlockTimeout: 10 * time.Millisecond,
	})
	require.NoError(env.t, env.Broker.Initialize(context.Background()))
}

func (env *TestEnvironment) setupRuntime() {
	connectors := make(map[models.Platform]session.Connector, len(env.Platforms))
	for platform, fake := range env.Platforms {
		connectors[platform] = fake
	}

	env.Queue = queue.New(env.DB, env.Broker, 2, nil, env.Logger)
	env.Registry = session.NewRegistry(env.DB, connectors, session.Config{}, nil, env.Logger)
	env.t.Cleanup(env.Registry.Shutdown)
	env.Pairs = service.NewPairService(env.DB, env.Logger)

	handlers := tasks.NewHandlers(tasks.Deps{
		Store:      env.DB,
		Dispatcher: env.Registry,
		Sessions:   env.Registry,
		Limiter:    plan.NewLimiter(),
		Logger:     env.Logger,
	}, tasks.Config{BulkPacing: time.Millisecond})

	env.Worker = queue.NewWorker(env.Queue, handlers, queue.WorkerConfig{Consumer: env.name}, nil, env.Logger)
}

// SeedUser stores a user on the given plan tier.
func (env *TestEnvironment) SeedUser(id int64, tier string) {
	env.t.Helper()
	require.NoError(env.t, env.DB.SaveUser(context.Background(), &models.User{ID: id, Plan: tier}))
}

// LinkAccount links an account through the registry, handshake included.
func (env *TestEnvironment) LinkAccount(userID int64, platform models.Platform) int64 {
	env.t.Helper()
	account, err := env.Registry.AddAccount(context.Background(), &models.LinkedAccount{
		UserID:     userID,
		Platform:   platform,
		Credential: fmt.Sprintf("%s-credential-%d", platform, userID),
	})
	require.NoError(env.t, err)
	return account.ID
}

// CreatePair creates a pair through the plan-checked pair service.
func (env *TestEnvironment) CreatePair(userID int64, pair *models.ForwardingPair) *models.ForwardingPair {
	env.t.Helper()
	created, err := env.Pairs.CreatePair(context.Background(), userID, pair)
	require.NoError(env.t, err)
	return created
}

// Enqueue submits a job and fails the test on error.
func (env *TestEnvironment) Enqueue(req queue.EnqueueRequest) string {
	env.t.Helper()
	id, err := env.Queue.Enqueue(context.Background(), req)
	require.NoError(env.t, err)
	return id
}

// Drain runs the worker until no delivery is left and returns how many it handled.
func (env *TestEnvironment) Drain() int {
	env.t.Helper()
	handled := 0
	for i := 0; i < 100; i++ {
		ok, err := env.Worker.ProcessNext(context.Background())
		require.NoError(env.t, err)
		if !ok {
			return handled
		}
		handled++
	}
	env.t.Fatal("worker did not drain the queue")
	return handled
}

// PromoteRetries moves every scheduled job, retries included, onto its band.
func (env *TestEnvironment) PromoteRetries() int {
	env.t.Helper()
	n, err := env.Broker.PromoteDue(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(env.t, err)
	return n
}

// Job reads the ledger row of a job.
func (env *TestEnvironment) Job(id string) *models.Job {
	env.t.Helper()
	job, err := env.DB.GetJob(context.Background(), id)
	require.NoError(env.t, err)
	return job
}
