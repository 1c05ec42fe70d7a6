package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// queueCapacity bounds how many runs can wait for a worker. A submitter
// still spends its own timeout budget while queued.
const queueCapacity = 64

// ErrShuttingDown is returned for submissions after Shutdown has started.
var ErrShuttingDown = errors.New("executor is shutting down")

// job is one unit of work dispatched to the pool. A job abandoned by its
// submitter (timeout, canceled context) is skipped if it has not started.
type job struct {
	run       func()
	done      chan struct{}
	abandoned atomic.Bool
}

func newJob(run func()) *job {
	return &job{run: run, done: make(chan struct{})}
}

// workerPool runs jobs on a fixed set of goroutines.
type workerPool struct {
	logger *zap.Logger
	jobs   chan *job
	wg     sync.WaitGroup
	once   sync.Once

	// mu orders submissions against shutdown: submitters hold it shared
	// across the closed check and the send, shutdown holds it exclusively
	// while closing the channel. Without this a submit racing shutdown can
	// send on the closed channel and panic.
	mu     sync.RWMutex
	closed bool
}

func newWorkerPool(logger *zap.Logger, workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{
		logger: logger,
		jobs:   make(chan *job, queueCapacity),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Debug("worker pool started", zap.Int("workers", workers))
	return p
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		if j.abandoned.Load() {
			p.logger.Debug("skipping abandoned job", zap.Int("worker", id))
			close(j.done)
			continue
		}
		j.run()
		close(j.done)
	}
}

// submit enqueues a job, giving up when the context expires first.
func (p *workerPool) submit(ctx context.Context, j *job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrShuttingDown
	}
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown stops accepting work and waits for in-flight jobs to drain, up
// to the context deadline.
func (p *workerPool) shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
