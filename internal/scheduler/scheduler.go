// Package scheduler runs the bot's periodic background tasks on a cron runner
// and supervises their lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tg_lottery_bot/internal/logging"
)

// State is the lifecycle state of the scheduler.
type State string

const (
	StateNotRunning State = "not_running"
	StateRunning    State = "running"
	StateCancelled  State = "cancelled"
)

// Task is a unit of periodic work. Run is called once when the scheduler
// starts and then every Interval; an error is logged and the task waits for
// its next tick.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns the tracked set of running tasks. Iterations of one task
// never overlap and a panicking iteration is recovered.
type Scheduler struct {
	logger *logrus.Entry

	mu       sync.Mutex
	state    State
	cron     *cron.Cron
	cancel   context.CancelFunc
	tasks    map[string]cron.EntryID
	inflight sync.WaitGroup
}

// New constructs an idle Scheduler.
func New(logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Scheduler{
		logger: logger.WithField("component", "scheduler"),
		state:  StateNotRunning,
		tasks:  make(map[string]cron.EntryID),
	}
}

// Start registers tasks, runs each one immediately and then on its interval.
// Calling Start while already running is a no-op. Task contexts derive from
// ctx and are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context, tasks ...Task) error {
	if s == nil {
		return errors.New("scheduler is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	for _, task := range tasks {
		if err := validateTask(task); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		s.logger.WithField("event", "scheduler_already_running").Debug("scheduler already running")
		return nil
	}

	cronLogger := logging.NewCronLogger(s.logger)
	runner := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	taskCtx, cancel := context.WithCancel(ctx)
	tracked := make(map[string]cron.EntryID, len(tasks))
	for _, task := range tasks {
		if _, dup := tracked[task.Name]; dup {
			cancel()
			return fmt.Errorf("duplicate task %q", task.Name)
		}
		tracked[task.Name] = runner.Schedule(cron.Every(task.Interval), &taskJob{
			task:   task,
			ctx:    taskCtx,
			logger: logging.WithContext(s.logger, logging.Context{Job: task.Name}),
		})
	}

	runner.Start()

	// First passes go through the wrapped job so they share the overlap
	// guard and panic recovery with scheduled ticks.
	for _, id := range tracked {
		wrapped := runner.Entry(id).WrappedJob
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			wrapped.Run()
		}()
	}

	s.cron = runner
	s.cancel = cancel
	s.tasks = tracked
	s.state = StateRunning

	s.logger.WithFields(logrus.Fields{
		"event": "scheduler_started",
		"tasks": s.namesLocked(),
	}).Info("background tasks started")

	return nil
}

// Stop cancels every tracked task, stops the cron runner and waits for
// in-flight iterations to return, bounded by ctx. The tracked set is cleared
// even when waiting times out.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	cronDone := s.cron.Stop()
	s.tasks = make(map[string]cron.EntryID)
	s.state = StateCancelled
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.WithField("event", "scheduler_stopped").Info("background tasks stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithField("event", "scheduler_stop_timeout").Warn("background tasks did not stop in time")
		return fmt.Errorf("wait for background tasks: %w", ctx.Err())
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tasks lists the names in the tracked task set.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namesLocked()
}

func (s *Scheduler) namesLocked() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateTask(task Task) error {
	if task.Name == "" {
		return errors.New("task name is required")
	}
	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}
	// cron.Every rounds anything shorter up to one second.
	if task.Interval < time.Second {
		return fmt.Errorf("task %q interval must be at least 1s", task.Name)
	}
	return nil
}

type taskJob struct {
	task   Task
	ctx    context.Context
	logger *logrus.Entry
}

// Run implements cron.Job.
func (j *taskJob) Run() {
	if j.ctx.Err() != nil {
		return
	}

	started := time.Now()
	err := j.task.Run(j.ctx)
	fields := logrus.Fields{"duration_ms": time.Since(started).Milliseconds()}

	switch {
	case err == nil:
		j.logger.WithFields(fields).WithField("event", "task_completed").Debug("task iteration finished")
	case errors.Is(err, context.Canceled) && j.ctx.Err() != nil:
		j.logger.WithFields(fields).WithField("event", "task_cancelled").Info("task iteration cancelled")
	default:
		j.logger.WithFields(fields).WithField("event", "task_failed").WithError(err).Error("task iteration failed")
	}
}
