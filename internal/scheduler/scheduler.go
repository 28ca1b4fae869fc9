// Package scheduler runs tasks on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bizgenie/bizgenie/internal/logging"
)

// ErrBusy is returned by RunNow when the task is already executing.
var ErrBusy = errors.New("task already running")

// Scheduler manages interval tasks. A tick that fires while the previous
// run of the same task is still in flight is skipped, so runs never overlap
// and the cadence is kept.
type Scheduler struct {
	tasks   map[string]*Task
	running map[string]context.CancelFunc
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	timeout time.Duration
	log     *logging.Logger
}

// Config configures the scheduler
type Config struct {
	DefaultTimeout time.Duration // Per-run timeout for tasks that set none
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: time.Minute,
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config) *Scheduler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:   make(map[string]*Task),
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
		timeout: cfg.DefaultTimeout,
		log:     logging.Component("scheduler"),
	}
}

// Task represents a scheduled task
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Handler    TaskHandler   `json:"-"`
	Timeout    time.Duration `json:"timeout"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	SkipCount  int64         `json:"skip_count"`
	LastError  string        `json:"last_error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`

	inFlight atomic.Bool
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// IntervalTask creates a task that runs at a fixed interval
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Interval: interval,
		Handler:  handler,
	}
}

// Register adds a task to the scheduler
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.ID)
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task already registered: %s", task.ID)
	}

	if task.Timeout == 0 {
		task.Timeout = s.timeout
	}
	task.CreatedAt = time.Now()

	s.tasks[task.ID] = task

	if s.started {
		s.startTask(task)
	}

	return nil
}

// Unregister removes a task from the scheduler
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[taskID]; ok {
		cancel()
		delete(s.running, taskID)
	}

	delete(s.tasks, taskID)
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.started = true

	for _, task := range s.tasks {
		s.startTask(task)
	}

	return nil
}

// Stop cancels every task loop and in-flight run, then waits for them to
// return. The scheduler can be started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}

	s.cancel()
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	// runs update task stats under mu, so wait without holding it
	s.wg.Wait()
}

// startTask starts a single task's loop. Caller holds mu.
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, task)
		}
	}
}

// fire starts a run unless the previous one is still in flight.
func (s *Scheduler) fire(ctx context.Context, task *Task) {
	if !task.inFlight.CompareAndSwap(false, true) {
		s.mu.Lock()
		task.SkipCount++
		s.mu.Unlock()
		s.log.WithField("task", task.ID).Debug("previous run still in flight, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer task.inFlight.Store(false)
		_ = s.executeTask(ctx, task)
	}()
}

// executeTask executes a single task
func (s *Scheduler) executeTask(ctx context.Context, task *Task) error {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	err := task.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithField("task", task.ID).WithError(err).Debug("task run failed")
	}
	return err
}

// RunNow executes a task immediately on the caller's goroutine. It shares
// the in-flight guard with scheduled runs and returns ErrBusy when one is
// already executing.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if !task.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer task.inFlight.Store(false)

	return s.executeTask(ctx, task)
}

// GetTask returns a copy of a task's bookkeeping by ID
func (s *Scheduler) GetTask(taskID string) (TaskInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return task.info(), true
}

// TaskInfo is a point-in-time view of a task
type TaskInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	InFlight   bool          `json:"in_flight"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	SkipCount  int64         `json:"skip_count"`
	LastError  string        `json:"last_error,omitempty"`
}

func (t *Task) info() TaskInfo {
	return TaskInfo{
		ID:         t.ID,
		Name:       t.Name,
		Interval:   t.Interval,
		InFlight:   t.inFlight.Load(),
		LastRun:    t.LastRun,
		RunCount:   t.RunCount,
		ErrorCount: t.ErrorCount,
		SkipCount:  t.SkipCount,
		LastError:  t.LastError,
	}
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:      s.started,
		TotalTasks:   len(s.tasks),
		RunningTasks: len(s.running),
	}

	for _, task := range s.tasks {
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
		stats.Skipped += task.SkipCount
	}

	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool  `json:"started"`
	TotalTasks   int   `json:"total_tasks"`
	RunningTasks int   `json:"running_tasks"`
	TotalRuns    int64 `json:"total_runs"`
	TotalErrors  int64 `json:"total_errors"`
	Skipped      int64 `json:"skipped"`
}
