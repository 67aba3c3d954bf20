package retention

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Status reports the state of manually triggered runs.
type Status struct {
	Running    bool       `json:"running"`
	LastResult *Summary   `json:"lastResult,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Trigger starts retention runs on demand, one at a time. Runs are
// detached from the request that started them and end on Stop.
type Trigger struct {
	runner   workerRunner
	pageSize int
	logger   *log.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	running    bool
	stopped    bool
	lastResult *Summary
	lastError  error
	finishedAt *time.Time
	done       chan struct{}
}

func NewTrigger(runner workerRunner, pageSize int, logger *log.Logger) *Trigger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		runner:   runner,
		pageSize: pageSize,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// TriggerRun starts a run in the background. It returns false when a run is
// already in progress or the trigger was stopped.
func (t *Trigger) TriggerRun(_ context.Context) bool {
	t.mu.Lock()
	if t.running || t.stopped {
		t.mu.Unlock()
		return false
	}
	t.running = true
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		summary, err := t.runner.Run(t.ctx, t.pageSize)
		finished := time.Now().UTC()

		t.mu.Lock()
		t.running = false
		t.lastResult = &summary
		t.lastError = err
		t.finishedAt = &finished
		t.mu.Unlock()

		if err != nil {
			t.logger.Printf("manual retention failed: %v", err)
			return
		}
		t.logger.Printf(
			"manual retention finished: scanned=%d kept=%d removed=%d blobs=%d failed=%d",
			summary.Scanned, summary.Kept, summary.Removed, summary.BlobsRemoved, summary.Failed,
		)
	}()

	return true
}

// Wait blocks until the current run, if any, finished.
func (t *Trigger) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the current run and refuses new ones. It waits for the run
// to return until ctx ends.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	done := t.done
	t.mu.Unlock()
	t.cancel()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trigger) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	errStr := ""
	if t.lastError != nil {
		errStr = t.lastError.Error()
	}
	return Status{
		Running:    t.running,
		LastResult: t.lastResult,
		LastError:  errStr,
		FinishedAt: t.finishedAt,
	}
}
