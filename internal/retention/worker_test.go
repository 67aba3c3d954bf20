package retention

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type stubRunner struct {
	calls atomic.Int64
	pages atomic.Int64
}

func (s *stubRunner) Run(_ context.Context, pageSize int) (Summary, error) {
	s.calls.Add(1)
	s.pages.Store(int64(pageSize))
	return Summary{}, nil
}

func TestWorker_RunOnceWhenNoInterval(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	worker := NewWorker(runner, WorkerConfig{
		Enabled:      true,
		StartupDelay: 0,
		Interval:     0,
		PageSize:     10,
	}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	if runner.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", runner.calls.Load())
	}
	if runner.pages.Load() != 10 {
		t.Fatalf("page size = %d, want 10", runner.pages.Load())
	}
}

func TestWorker_RunRepeatedlyWithInterval(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	worker := NewWorker(runner, WorkerConfig{
		Enabled:      true,
		StartupDelay: 0,
		Interval:     15 * time.Millisecond,
		PageSize:     10,
	}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	if runner.calls.Load() < 2 {
		t.Fatalf("calls = %d, want >= 2", runner.calls.Load())
	}
}

func TestWorker_DisabledNeverRuns(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	worker := NewWorker(runner, WorkerConfig{Enabled: false, PageSize: -1}, nil)
	worker.Run(context.Background())

	if runner.calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", runner.calls.Load())
	}
}

func TestTrigger_SingleRunAtATime(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{release: make(chan struct{})}
	trigger := NewTrigger(runner, 5, nil)

	if !trigger.TriggerRun(context.Background()) {
		t.Fatalf("first TriggerRun() = false, want true")
	}
	if trigger.TriggerRun(context.Background()) {
		t.Fatalf("second TriggerRun() = true while running")
	}
	if !trigger.Status().Running {
		t.Fatalf("Status().Running = false while running")
	}
	close(runner.release)
	trigger.Wait()

	st := trigger.Status()
	if st.Running || st.LastResult == nil || st.LastResult.Removed != 3 || st.FinishedAt == nil {
		t.Fatalf("Status() = %#v", st)
	}
}

func TestTrigger_StopCancelsRun(t *testing.T) {
	t.Parallel()

	runner := &cancelAwareRunner{started: make(chan struct{})}
	trigger := NewTrigger(runner, 5, nil)
	if !trigger.TriggerRun(context.Background()) {
		t.Fatalf("TriggerRun() = false, want true")
	}
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := trigger.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	st := trigger.Status()
	if st.Running || !strings.Contains(st.LastError, context.Canceled.Error()) {
		t.Fatalf("Status() = %#v, want canceled run", st)
	}
	if trigger.TriggerRun(context.Background()) {
		t.Fatalf("TriggerRun() after Stop = true")
	}
}

func TestTrigger_StopGivesUpAtDeadline(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{release: make(chan struct{})}
	trigger := NewTrigger(runner, 5, nil)
	trigger.TriggerRun(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := trigger.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want deadline exceeded", err)
	}
	close(runner.release)
	trigger.Wait()
}

type cancelAwareRunner struct {
	started chan struct{}
}

func (c *cancelAwareRunner) Run(ctx context.Context, _ int) (Summary, error) {
	close(c.started)
	<-ctx.Done()
	return Summary{}, ctx.Err()
}

type blockingRunner struct {
	release chan struct{}
}

func (b *blockingRunner) Run(context.Context, int) (Summary, error) {
	<-b.release
	return Summary{Removed: 3}, nil
}
