package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRunner struct {
	calls int32
	err   error
}

func (f *fakeRunner) Execute(ctx context.Context, actionName string, params map[string]any) (any, error) {
	atomic.AddInt32(&f.calls, 1)
	return "ok", f.err
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	sched, err := NewSchedule("* * * * * *", "UTC")
	if err != nil {
		t.Fatalf("NewSchedule returned error: %v", err)
	}
	runner := &fakeRunner{}
	job := &Job{Name: "test-job", Action: "noop", Schedule: sched, NextRun: time.Now().Add(-time.Second)}

	store := NewMemoryExecutionStore()
	s := NewScheduler(runner, []*Job{job}, WithExecutionStore(store), WithTickInterval(10*time.Millisecond))
	s.runDue(context.Background())

	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Fatalf("expected 1 run, got %d", runner.calls)
	}
	execs, err := store.List(context.Background(), "test-job", 10, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != ExecutionSucceeded {
		t.Fatalf("expected one succeeded execution, got %+v", execs)
	}
}

func TestScheduler_RecordsFailure(t *testing.T) {
	sched, err := NewSchedule("* * * * * *", "UTC")
	if err != nil {
		t.Fatalf("NewSchedule returned error: %v", err)
	}
	runner := &fakeRunner{err: errors.New("boom")}
	job := &Job{Name: "flaky-job", Action: "noop", Schedule: sched, NextRun: time.Now().Add(-time.Second)}

	store := NewMemoryExecutionStore()
	s := NewScheduler(runner, []*Job{job}, WithExecutionStore(store))
	s.runDue(context.Background())

	execs, err := store.List(context.Background(), "flaky-job", 10, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != ExecutionFailed {
		t.Fatalf("expected one failed execution, got %+v", execs)
	}
	if job.LastError == "" {
		t.Fatal("expected job.LastError to be set")
	}
}
