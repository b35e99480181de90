package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokenbridge/federator/federator/telemetry"
)

// State of a Scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job is one cycle of work. Its error is logged and never stops the scheduler.
type Job func(ctx context.Context) error

type cycleIDKey struct{}

// CycleID returns the id of the cycle running in ctx, if any.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}

// WithCycleID returns a copy of ctx carrying id.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// Scheduler runs a Job every interval on a single worker.
// A tick arriving while a cycle runs is dropped, not queued.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	cron     *cron.Cron
	logger   zerolog.Logger

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an idle scheduler.
func NewScheduler(name string, interval time.Duration, job Job, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "scheduler").Str("scheduler", name).Logger()
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger{l}))),
		logger:   l,
	}
}

// Start schedules the job and runs a first cycle right away. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return errors.New("scheduler is stopped")
	}
	if s.ctx != nil {
		return nil
	}
	if s.job == nil {
		return errors.New("scheduler has no job")
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.Tick); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", s.name, err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	go s.Tick()
	return nil
}

// Tick runs one cycle unless one is already running or the scheduler stopped.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.state != StateIdle || s.ctx == nil {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug().Str("state", state.String()).Msg("tick dropped")
		return
	}
	s.state = StateRunning
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateRunning {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	ctx = WithCycleID(ctx, cycleID)
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	ctx, span := telemetry.StartSpan(ctx, "federator.cycle."+s.name,
		trace.WithAttributes(attribute.String("cycle_id", cycleID)))
	started := time.Now()
	err := s.job(ctx)
	telemetry.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(started)).Msg("cycle failed")
		return
	}
	logger.Info().Dur("duration", time.Since(started)).Msg("cycle finished")
}

// Stop prevents new cycles, cancels the running one between events and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// cronLogger routes robfig/cron logs to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
