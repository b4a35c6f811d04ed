package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor() *Supervisor {
	return NewSupervisor(SupervisorConfig{
		RestartInitial: time.Millisecond,
		RestartMax:     5 * time.Millisecond,
	}, nil, quietLogger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_RestartsFailedLoops(t *testing.T) {
	s := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s.Go(ctx, "flaky", func(ctx context.Context) error {
		if runs.Add(1) <= 2 {
			return errors.New("lost connection")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	waitFor(t, func() bool { return runs.Load() == 3 })
	assert.Equal(t, 2, s.Restarts("flaky"))

	cancel()
	s.Wait()
}

func TestSupervisor_RecoversPanics(t *testing.T) {
	s := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s.Go(ctx, "panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("nil map")
		}
		<-ctx.Done()
		return nil
	})

	waitFor(t, func() bool { return runs.Load() == 2 })
	assert.Equal(t, 1, s.Restarts("panicky"))

	cancel()
	s.Wait()
}

func TestSupervisor_FinishedLoopIsNotRestarted(t *testing.T) {
	s := newTestSupervisor()

	var runs atomic.Int32
	s.Go(context.Background(), "one-shot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Wait()

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, s.Restarts("one-shot"))
}

func TestSupervisor_StopsDuringBackoff(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{RestartInitial: time.Hour, RestartMax: time.Hour}, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	failed := make(chan struct{})
	s.Go(ctx, "broken", func(ctx context.Context) error {
		close(failed)
		return errors.New("broken")
	})
	<-failed
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop while backing off")
	}
}
