package hudbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool hands lifecycle events to observers on background workers so
// a slow observer never stalls Emit. When the buffer is full the event is
// dropped and counted.
type ObserverPool struct {
	jobs      chan observerJob
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

type observerJob struct {
	e         Event
	observers []Observer
}

// ObserverPoolStats reports queue telemetry.
type ObserverPoolStats struct {
	Dropped   uint64
	Processed uint64
}

// NewObserverPool starts workers goroutines (default 2) over a queue of
// bufferSize events (default 256).
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 2
	}
	if bufferSize < 1 {
		bufferSize = 256
	}
	pctx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		jobs:   make(chan observerJob, bufferSize),
		ctx:    pctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}
	return op
}

// Notify queues e for the given observers without blocking.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	select {
	case op.jobs <- observerJob{e: e, observers: observers}:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			for {
				select {
				case j := <-op.jobs:
					op.run(j)
				default:
					return
				}
			}
		case j := <-op.jobs:
			op.run(j)
		}
	}
}

func (op *ObserverPool) run(j observerJob) {
	for _, o := range j.observers {
		callObserver(o, j.e)
	}
	op.processed.Add(1)
}

// Close stops the workers after draining queued events. It returns
// ErrObserverPoolShutdownTimeout when draining takes longer than timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns queue counters.
func (op *ObserverPool) Stats() ObserverPoolStats {
	return ObserverPoolStats{
		Dropped:   op.dropped.Load(),
		Processed: op.processed.Load(),
	}
}
