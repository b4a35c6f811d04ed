package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"telxfwd/internal/config"
	"telxfwd/internal/constants"
	"telxfwd/internal/database"
	"telxfwd/internal/metrics"
	"telxfwd/internal/models"
	"telxfwd/internal/plan"
	"telxfwd/internal/queue"
	"telxfwd/internal/retry"
	"telxfwd/internal/service"
	"telxfwd/internal/session"
	"telxfwd/internal/tasks"
	"telxfwd/internal/tracing"
	"telxfwd/pkg/discord"
	"telxfwd/pkg/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func run(ctx context.Context, opts options, r roles) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(opts.verbose, cfg.LogLevel)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
		"role":    r.String(),
	}).Info("Starting telxfwd")

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	broker := queue.NewBroker(redisClient, brokerConfig(cfg))
	err = backoff.Retry(ctx, func() error {
		initErr := broker.Initialize(ctx)
		if initErr != nil {
			logger.Warnf("Failed to initialize broker: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize broker after retries: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	q := queue.New(db, broker, cfg.Queue.DefaultMaxRetries, m, logger)

	registry := session.NewRegistry(db, map[models.Platform]session.Connector{
		models.PlatformTelegram: telegram.NewConnector(cfg.Sessions.TelegramAPIEndpoint, &http.Client{
			Timeout: constants.DefaultConnectTimeoutSec * time.Second,
		}, logger),
		models.PlatformDiscord: discord.NewConnector(logger),
	}, session.ConfigFrom(cfg.Sessions), m, logger)
	defer registry.Shutdown()

	connected, err := registry.Init(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}
	logger.WithField("sessions", connected).Info("Sessions restored")

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	supervisor := service.NewSupervisor(service.SupervisorConfig{}, m, logger)

	var server *Server
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)

	if r.supervisor {
		if err := startSupervisorLoops(loopCtx, supervisor, cfg, q, db, registry, m, logger); err != nil {
			return err
		}

		server = NewServer(StatusDeps{
			Sessions: registry,
			Jobs:     q,
			Plans:    service.NewPairService(db, logger),
			Checks: map[string]Pinger{
				"database": db,
				"broker":   broker,
			},
			Metrics: m,
		}, cfg.Server.Port, logger)

		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				serverErrCh <- fmt.Errorf("server error: %w", err)
			}
		}()
	}

	if r.workers {
		startWorkers(loopCtx, supervisor, cfg, q, db, registry, m, logger)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serverErrCh:
		logger.Error(runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to shutdown server gracefully: %v", err)
		}
	}

	cancelLoops()
	loopsDone := make(chan struct{})
	go func() {
		supervisor.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-shutdownCtx.Done():
		logger.Warn("Background loops did not stop before the shutdown deadline")
	}

	logger.Info("Shutdown completed")
	return runErr
}

func startSupervisorLoops(ctx context.Context, supervisor *service.Supervisor, cfg *models.Config, q *queue.Queue, db *database.Database, registry *session.Registry, m *metrics.Metrics, logger *logrus.Logger) error {
	scheduler, err := service.NewScheduler(q, service.ScheduleConfig{
		HealthCheck: cfg.Schedule.HealthCheckCron,
		TaskCleanup: cfg.Schedule.TaskCleanupCron,
		LogCleanup:  cfg.Schedule.LogCleanupCron,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build beat schedule: %w", err)
	}

	monitor := service.NewQueueMonitor(q, db, service.MonitorConfig{
		Interval:        time.Duration(cfg.Monitor.IntervalSec) * time.Second,
		StuckThreshold:  time.Duration(cfg.Monitor.StuckThresholdMin) * time.Minute,
		CleanupInterval: time.Duration(cfg.Monitor.CleanupIntervalHours) * time.Hour,
		TimeLimits:      timeLimits(cfg.Queue.TaskTimeLimitsSec),
	}, m, logger)

	supervisor.Go(ctx, "session_health", registry.RunHealthLoop)
	supervisor.Go(ctx, "queue_monitor", monitor.Run)
	supervisor.Go(ctx, "scheduler", scheduler.Run)
	return nil
}

func startWorkers(ctx context.Context, supervisor *service.Supervisor, cfg *models.Config, q *queue.Queue, db *database.Database, registry *session.Registry, m *metrics.Metrics, logger *logrus.Logger) {
	handlers := tasks.NewHandlers(tasks.Deps{
		Store:      db,
		Dispatcher: registry,
		Sessions:   registry,
		Limiter:    plan.NewLimiter(),
		Metrics:    m,
		Logger:     logger,
	}, tasks.Config{
		BulkPacing:        time.Duration(cfg.Bulk.PacingMs) * time.Millisecond,
		TaskRetentionDays: cfg.Retention.TaskDays,
		LogRetentionDays:  cfg.Retention.LogDays,
	})

	limits := timeLimits(cfg.Queue.TaskTimeLimitsSec)
	for i := 0; i < cfg.Worker.Count; i++ {
		consumer := consumerName(i)
		worker := queue.NewWorker(q, handlers, queue.WorkerConfig{
			Consumer:   consumer,
			TimeLimits: limits,
		}, m, logger)
		supervisor.Go(ctx, consumer, worker.Run)
	}
	logger.WithField("workers", cfg.Worker.Count).Info("Queue workers started")
}

func brokerConfig(cfg *models.Config) queue.BrokerConfig {
	return queue.BrokerConfig{
		Prefix:       cfg.Redis.Prefix,
		Group:        cfg.Queue.ConsumerGroup,
		BlockTimeout: time.Duration(cfg.Queue.BlockTimeoutMs) * time.Millisecond,
		ClaimMinIdle: time.Duration(cfg.Queue.ClaimMinIdleSec) * time.Second,
		ResultTTL:    time.Duration(cfg.Queue.ResultTTLHours) * time.Hour,
	}
}

// timeLimits converts the per-task seconds of the config. Unknown task types
// were already rejected by the config loader.
func timeLimits(seconds map[string]int) map[models.TaskType]time.Duration {
	limits := make(map[models.TaskType]time.Duration, len(seconds))
	for taskType, sec := range seconds {
		if sec > 0 {
			limits[models.TaskType(taskType)] = time.Duration(sec) * time.Second
		}
	}
	return limits
}

// consumerName is unique per worker loop across hosts and restarts.
func consumerName(index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), index)
}
