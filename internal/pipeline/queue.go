package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/jonathan/apply-orchestrator/internal/types"
)

// DefaultQueueCapacity is the number of tasks that may wait for a worker.
const DefaultQueueCapacity = 64

// Queue errors
var (
	ErrQueueFull   = errors.New("submission queue is full")
	ErrQueueClosed = errors.New("submission queue is closed")
)

// Queue accepts tasks from request handlers and feeds them to a Pool.
type Queue struct {
	pool  *Pool
	tasks chan *types.ApplicationTask

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	err    error
}

// NewQueue creates a queue in front of pool holding up to capacity waiting tasks.
func NewQueue(pool *Pool, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		pool:  pool,
		tasks: make(chan *types.ApplicationTask, capacity),
		done:  make(chan struct{}),
	}
}

// Start processes submitted tasks in the background until Close is called or ctx is done.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		q.err = q.pool.Process(ctx, q.tasks)
	}()
}

// Submit enqueues a task without blocking.
func (q *Queue) Submit(task *types.ApplicationTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Close stops accepting tasks, waits for queued and running tasks to finish
// and returns the pool's error. Start must have been called.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	<-q.done
	return q.err
}
