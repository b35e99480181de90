package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestCycleID(t *testing.T) {
	assert.Empty(t, CycleID(context.Background()))
	assert.Equal(t, "abc", CycleID(WithCycleID(context.Background(), "abc")))
}

func TestSchedulerRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	var cycleID atomic.Value
	s := NewScheduler("test", time.Hour, func(ctx context.Context) error {
		cycleID.Store(CycleID(ctx))
		runs.Add(1)
		return nil
	}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, cycleID.Load())

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
}

func TestSchedulerDropsTickWhileRunning(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := NewScheduler("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, 5*time.Millisecond)

	s.Tick()
	s.Tick()
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)

	s.Tick()
	assert.Equal(t, int32(2), runs.Load())
	s.Stop()
}

func TestSchedulerJobErrorDoesNotStop(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("direction failed")
	}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateIdle && runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Tick()
	assert.Equal(t, int32(2), runs.Load())
	s.Stop()
}

func TestSchedulerStopWaitsForCycle(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s := NewScheduler("test", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	<-started

	s.Stop()
	assert.True(t, finished.Load(), "Stop returns only after the running cycle ended")
	assert.Equal(t, StateStopped, s.State())

	s.Tick()
	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerRequiresJob(t *testing.T) {
	s := NewScheduler("test", time.Minute, nil, zerolog.Nop())
	assert.Error(t, s.Start(context.Background()))
}
