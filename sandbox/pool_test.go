package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool(t *testing.T) {
	t.Run("RunsSubmittedJobs", func(t *testing.T) {
		p := newWorkerPool(zaptest.NewLogger(t), 2)
		defer func() { _ = p.shutdown(context.Background()) }()

		var ran atomic.Int32
		jobs := make([]*job, 10)
		for i := range jobs {
			jobs[i] = newJob(func() { ran.Add(1) })
			require.NoError(t, p.submit(context.Background(), jobs[i]))
		}
		for _, j := range jobs {
			<-j.done
		}
		assert.EqualValues(t, 10, ran.Load())
	})

	t.Run("AbandonedJobIsSkipped", func(t *testing.T) {
		p := newWorkerPool(zaptest.NewLogger(t), 1)
		defer func() { _ = p.shutdown(context.Background()) }()

		block := make(chan struct{})
		blocker := newJob(func() { <-block })
		require.NoError(t, p.submit(context.Background(), blocker))

		var ran atomic.Bool
		abandoned := newJob(func() { ran.Store(true) })
		require.NoError(t, p.submit(context.Background(), abandoned))
		abandoned.abandoned.Store(true)

		close(block)
		<-blocker.done
		<-abandoned.done
		assert.False(t, ran.Load())
	})

	t.Run("SubmitHonorsContext", func(t *testing.T) {
		p := newWorkerPool(zaptest.NewLogger(t), 1)
		defer func() { _ = p.shutdown(context.Background()) }()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// Fill the queue so the canceled submit cannot slot in immediately.
		block := make(chan struct{})
		defer close(block)
		started := make(chan struct{})
		require.NoError(t, p.submit(context.Background(), newJob(func() {
			close(started)
			<-block
		})))
		<-started
		for i := 0; i < queueCapacity; i++ {
			require.NoError(t, p.submit(context.Background(), newJob(func() {})))
		}

		err := p.submit(ctx, newJob(func() {}))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ShutdownDrainsAndRejects", func(t *testing.T) {
		p := newWorkerPool(zaptest.NewLogger(t), 2)

		var ran atomic.Int32
		for i := 0; i < 5; i++ {
			require.NoError(t, p.submit(context.Background(), newJob(func() { ran.Add(1) })))
		}
		require.NoError(t, p.shutdown(context.Background()))
		assert.EqualValues(t, 5, ran.Load())

		err := p.submit(context.Background(), newJob(func() {}))
		require.ErrorIs(t, err, ErrShuttingDown)
	})

	t.Run("SubmitRacingShutdown", func(t *testing.T) {
		// Submissions in flight while shutdown closes the queue must either
		// land or get ErrShuttingDown, never panic on the closed channel.
		for round := 0; round < 50; round++ {
			p := newWorkerPool(zaptest.NewLogger(t), 2)

			start := make(chan struct{})
			var wg sync.WaitGroup
			errs := make([]error, 8)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					errs[i] = p.submit(context.Background(), newJob(func() {}))
				}(i)
			}

			close(start)
			require.NoError(t, p.shutdown(context.Background()))
			wg.Wait()

			for _, err := range errs {
				if err != nil {
					require.ErrorIs(t, err, ErrShuttingDown)
				}
			}
		}
	})

	t.Run("ShutdownTimesOutOnStuckJob", func(t *testing.T) {
		p := newWorkerPool(zaptest.NewLogger(t), 1)

		block := make(chan struct{})
		require.NoError(t, p.submit(context.Background(), newJob(func() { <-block })))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := p.shutdown(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		close(block)
	})
}
