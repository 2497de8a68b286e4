// Package dispatcher manages worker fan-out over the frame queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/worker"
)

// Dispatcher runs a fixed pool of workers over a shared queue.
type Dispatcher struct {
	queue   frame.Queue
	workers []*worker.Worker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Dispatcher.
func New(queue frame.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Size reports the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Start launches every worker and returns without blocking. It reports false
// if the pool was already started. Workers return once the queue is closed and
// drained, or when ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	d.started = true
	d.cancel = cancel

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	go func() {
		wg.Wait()
		cancel()
		close(d.done)
	}()
	return true
}

// Wait blocks until every worker has returned. It returns immediately if the pool never started.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

// Run starts all workers and blocks until every one of them returns.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.Start(ctx) {
		<-d.done
	}
}

// Drain closes the queue and waits for the workers to persist the remaining frames.
// If ctx ends first the workers are canceled and the abandoned frame count is reported in the error.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.queue.Close()

	d.mu.Lock()
	started, cancel := d.started, d.cancel
	d.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
	}

	abandoned := d.queue.Len()
	cancel()
	<-d.done
	return fmt.Errorf("drain interrupted with %d frames abandoned: %w", abandoned, ctx.Err())
}
