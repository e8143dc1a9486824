// Package scheduler fires persisted recurring prompts. Uses robfig/cron to
// drive a fixed tick and to parse task schedules; the task list itself lives
// in storage so it survives restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerFunc receives a due task's group and its marker-prefixed prompt.
// It must not block for long; the coordinator only enqueues.
type TriggerFunc func(groupID, prompt string)

// Storage persists tasks and their fire bookkeeping.
type Storage interface {
	SaveTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	LoadTasks(ctx context.Context) ([]*Task, error)
	MarkFired(ctx context.Context, id string, at time.Time) error
	SetLastError(ctx context.Context, id, msg string) error
}

// DefaultTickInterval is how often tasks are evaluated.
const DefaultTickInterval = 30 * time.Second

// Scheduler evaluates every enabled task once per tick.
type Scheduler struct {
	storage  Storage
	trigger  TriggerFunc
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// tickMu keeps ticks from overlapping when storage is slow.
	tickMu sync.Mutex

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Start must be called before it fires anything.
func New(storage Storage, trigger TriggerFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		storage:  storage,
		trigger:  trigger,
		interval: DefaultTickInterval,
		now:      time.Now,
		logger:   logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Tick(s.ctx)
	}); err != nil {
		s.cancel()
		return fmt.Errorf("register tick: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.logger.Info("scheduler stopped")
}

// Tick evaluates all tasks once and returns how many fired. Failures are
// logged and never escape: a broken task or a storage outage only skips
// this tick.
func (s *Scheduler) Tick(ctx context.Context) (fired int) {
	if !s.tickMu.TryLock() {
		s.logger.Debug("previous tick still running, skipping")
		return 0
	}
	defer s.tickMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked", "panic", fmt.Sprint(r))
		}
	}()

	tasks, err := s.storage.LoadTasks(ctx)
	if err != nil {
		s.logger.Error("failed to load tasks", "error", err)
		return 0
	}

	now := s.now()
	for _, task := range tasks {
		if ctx.Err() != nil {
			return fired
		}
		if !task.Enabled {
			continue
		}

		sched, err := ParseSchedule(task.Schedule)
		if err != nil {
			s.logger.Warn("skipping task with invalid schedule", "id", task.ID, "schedule", task.Schedule, "error", err)
			if task.LastError != err.Error() {
				if err := s.storage.SetLastError(ctx, task.ID, err.Error()); err != nil {
					s.logger.Error("failed to record task error", "id", task.ID, "error", err)
				}
			}
			continue
		}
		if !task.Due(sched, now) {
			continue
		}

		// Recorded before firing: a restart must not fire the same
		// occurrence again.
		if err := s.storage.MarkFired(ctx, task.ID, now); err != nil {
			s.logger.Error("failed to record task run, not firing", "id", task.ID, "error", err)
			continue
		}

		s.logger.Info("task fired", "id", task.ID, "group", task.GroupID, "schedule", task.Schedule)
		s.trigger(task.GroupID, WrapPrompt(task.Prompt))
		fired++
	}
	return fired
}
