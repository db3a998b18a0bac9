package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/actionforge/internal/observability"
)

// ActionRunner invokes a named action with fixed params, matching
// executor.Executor.Execute's signature.
type ActionRunner interface {
	Execute(ctx context.Context, actionName string, params map[string]any) (any, error)
}

// Scheduler ticks scheduled action jobs and runs due ones through an
// ActionRunner, recording each attempt in an ExecutionStore.
type Scheduler struct {
	log            *observability.Logger
	executionStore ExecutionStore
	runner         ActionRunner
	now            func() time.Time
	tickInterval   time.Duration

	mu      sync.Mutex
	jobs    []*Job
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler's logger.
func WithLogger(log *observability.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithExecutionStore overrides the execution history store.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.executionStore = store
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the polling interval between due-job checks.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler builds a Scheduler bound to runner, which is normally an
// *executor.Executor.
func NewScheduler(runner ActionRunner, jobs []*Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:            observability.NewLogger(observability.LogConfig{}),
		executionStore: NewMemoryExecutionStore(),
		runner:         runner,
		now:            time.Now,
		tickInterval:   time.Second,
		jobs:           jobs,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	now := s.now()
	for _, job := range s.jobs {
		if !job.NextRun.IsZero() {
			continue
		}
		if next, err := job.Schedule.Next(now); err == nil {
			job.NextRun = next
		}
	}
	return s
}

// Start begins the scheduler's polling loop in a background goroutine.
// It is safe to call Stop to end the loop early.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop signals the polling loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if !job.NextRun.IsZero() && !job.NextRun.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.runJob(ctx, job)
		if next, err := job.Schedule.Next(s.now()); err == nil {
			s.mu.Lock()
			job.NextRun = next
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	runCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	exec := &JobExecution{
		ID:        uuid.NewString(),
		JobID:     job.Name,
		Status:    ExecutionRunning,
		StartedAt: s.now(),
	}
	if s.executionStore != nil {
		_ = s.executionStore.Create(runCtx, exec)
	}

	job.LastRun = exec.StartedAt
	result, err := s.runner.Execute(runCtx, job.Action, job.Params)

	exec.CompletedAt = s.now()
	exec.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		job.LastError = err.Error()
		s.log.Error(ctx, "scheduled action failed", "job", job.Name, "action", job.Action, "error", err)
	} else {
		exec.Status = ExecutionSucceeded
		exec.Output = fmt.Sprintf("%v", result)
		job.LastError = ""
		s.log.Info(ctx, "scheduled action completed", "job", job.Name, "action", job.Action)
	}
	if s.executionStore != nil {
		_ = s.executionStore.Update(runCtx, exec)
	}
}
