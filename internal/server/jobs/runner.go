package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/filevault/internal/logging"
)

// ErrRunnerClosed fails jobs submitted after Shutdown.
var ErrRunnerClosed = errors.New("job runner is shut down")

// Runner executes jobs on at most N goroutines at a time. Submitting never
// blocks: a job waits for a slot in its own goroutine.
type Runner struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(concurrency int, logger logging.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("module", "jobs"),
	}
}

func (r *Runner) submit(job *Job, task Task) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		job.finish(ErrRunnerClosed)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		var err error
		defer func() { job.finish(err) }()

		if err = r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		err = runTask(r.ctx, task)
		if err != nil {
			r.logger.Error(r.ctx, "job failed", "direction", job.Direction, "file_id", job.FileID, "error", err)
		}
	}()
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting jobs and waits for the running ones. If ctx
// ends first, the remaining jobs are cancelled and waited for.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-finished
		return ctx.Err()
	}
}
