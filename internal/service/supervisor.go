package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"telxfwd/internal/constants"
	"telxfwd/internal/metrics"
	"telxfwd/internal/retry"

	"github.com/sirupsen/logrus"
)

// LoopFunc is a long-lived loop. It returns when ctx ends or on failure.
type LoopFunc func(ctx context.Context) error

type SupervisorConfig struct {
	RestartInitial time.Duration
	RestartMax     time.Duration
	// A loop that ran at least this long before failing restarts from the
	// initial delay again.
	StableAfter time.Duration
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.RestartInitial <= 0 {
		c.RestartInitial = constants.DefaultLoopRestartInitialMs * time.Millisecond
	}
	if c.RestartMax <= 0 {
		c.RestartMax = constants.DefaultLoopRestartMaxSec * time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = time.Minute
	}
	return c
}

// Supervisor keeps background loops alive: a loop that fails or panics is
// logged and restarted with backoff until the supervisor's context ends.
type Supervisor struct {
	config  SupervisorConfig
	backoff *retry.Backoff
	metrics *metrics.Metrics
	logger  *logrus.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	restarts map[string]int
}

func NewSupervisor(config SupervisorConfig, m *metrics.Metrics, logger *logrus.Logger) *Supervisor {
	config = config.withDefaults()
	return &Supervisor{
		config: config,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: config.RestartInitial,
			MaxDelay:     config.RestartMax,
			Multiplier:   2.0,
			MaxAttempts:  1,
		}),
		metrics:  m,
		logger:   logger,
		restarts: make(map[string]int),
	}
}

// Go starts fn under supervision. A loop that returns nil is considered
// finished and is not restarted.
func (s *Supervisor) Go(ctx context.Context, name string, fn LoopFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, name, fn)
	}()
}

// Wait blocks until every supervised loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Restarts returns how often the named loop was restarted.
func (s *Supervisor) Restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[name]
}

func (s *Supervisor) supervise(ctx context.Context, name string, fn LoopFunc) {
	log := s.logger.WithField("loop", name)
	log.Info("Loop started")

	attempt := 0
	for {
		started := time.Now()
		err := runLoop(ctx, fn)

		if ctx.Err() != nil {
			log.Info("Loop stopped")
			return
		}
		if err == nil {
			log.Info("Loop finished")
			return
		}

		if time.Since(started) >= s.config.StableAfter {
			attempt = 0
		}
		attempt++
		delay := s.backoff.GetNextDelay(attempt)

		s.mu.Lock()
		s.restarts[name]++
		s.mu.Unlock()
		s.metrics.LoopRestarted(name)

		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Error("Loop failed, restarting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Loop stopped")
			return
		case <-timer.C:
		}
	}
}

func runLoop(ctx context.Context, fn LoopFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
