// Package memory provides the bounded in-memory frame queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/frame-ingest/internal/frame"
)

// DefaultCapacity is the number of resident frames held when no capacity is configured.
const DefaultCapacity = 10000

// ErrClosed is returned by Push after Close, and by Pop once a closed queue is drained.
var ErrClosed = frame.ErrQueueClosed

// Option customizes a Queue.
type Option func(*Queue)

// WithEvictHook registers fn to observe frames evicted by overflow. fn runs outside the queue lock.
func WithEvictHook(fn func(frame.Frame)) Option {
	return func(q *Queue) {
		q.onEvict = fn
	}
}

// Queue is a bounded FIFO that sheds its oldest frame instead of blocking producers.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []frame.Frame
	head    int
	size    int
	closed  bool
	dropped uint64
	onEvict func(frame.Frame)
}

// NewQueue constructs a queue holding at most capacity frames.
func NewQueue(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{buf: make([]frame.Frame, capacity)}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends f, evicting the oldest frame when the queue is full. It never blocks.
func (q *Queue) Push(f frame.Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	var (
		evicted    frame.Frame
		didEvict   bool
		bufferSize = len(q.buf)
	)
	if q.size == bufferSize {
		evicted = q.buf[q.head]
		q.buf[q.head] = frame.Frame{}
		q.head = (q.head + 1) % bufferSize
		q.size--
		q.dropped++
		didEvict = true
	}
	q.buf[(q.head+q.size)%bufferSize] = f
	q.size++
	q.cond.Signal()
	q.mu.Unlock()

	if didEvict && q.onEvict != nil {
		q.onEvict(evicted)
	}
	return nil
}

// Pop removes the oldest frame, blocking until one is available.
// It returns ErrClosed once the queue is closed and empty, or the context error if ctx ends first.
func (q *Queue) Pop(ctx context.Context) (frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return frame.Frame{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.cond.Wait()
	}
	if q.size == 0 {
		return frame.Frame{}, ErrClosed
	}
	f := q.buf[q.head]
	q.buf[q.head] = frame.Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return f, nil
}

// Len reports the number of resident frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Dropped reports how many frames overflow has evicted.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting frames and wakes all blocked consumers. Resident frames remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
