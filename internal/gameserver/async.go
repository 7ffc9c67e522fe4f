package gameserver

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// AsyncRunner executes persistence work off the tick goroutine on a bounded
// worker pool. The tick never blocks on the database: when the queue is
// full, work is dropped and logged rather than stalling the simulation.
type AsyncRunner struct {
	queue chan func(ctx context.Context)
	log   *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewAsyncRunner creates a runner with the given worker count and queue
// depth and starts its workers.
//
// Precondition: workers > 0 and depth > 0.
func NewAsyncRunner(workers, depth int, log *zap.Logger) *AsyncRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &AsyncRunner{
		queue:  make(chan func(ctx context.Context), depth),
		log:    log,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	return r
}

func (r *AsyncRunner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-r.queue:
			if !ok {
				return
			}
			r.run(ctx, fn)
		}
	}
}

func (r *AsyncRunner) run(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("async task panicked", zap.Any("panic", rec))
		}
	}()
	fn(ctx)
}

// Submit enqueues fn for execution. Non-blocking: returns false and logs
// when the queue is full.
func (r *AsyncRunner) Submit(fn func(ctx context.Context)) bool {
	select {
	case r.queue <- fn:
		return true
	default:
		r.log.Warn("async queue full, dropping task")
		return false
	}
}

// Close stops the workers after draining queued tasks. Idempotent.
func (r *AsyncRunner) Close() {
	r.once.Do(func() {
		close(r.queue)
		r.wg.Wait()
		r.cancel()
	})
}
