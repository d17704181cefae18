package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when every buffer slot is taken
	ErrQueueFull = errors.New("extraction queue full")
	// ErrQueueClosed is returned by Submit after Stop
	ErrQueueClosed = errors.New("extraction queue closed")
)

// Job asks for one bill to be extracted
type Job struct {
	BillID string
}

// JobHandler runs a job. It owns all error handling; the queue only logs panics.
type JobHandler func(ctx context.Context, job Job)

// Queue runs extraction jobs on a fixed pool of workers, decoupled from the
// request that submitted them.
type Queue struct {
	jobs    chan Job
	handler JobHandler
	workers int

	mu      sync.Mutex
	closed  bool
	started bool
	pending sync.WaitGroup
	group   *errgroup.Group
}

// NewQueue creates a queue with the given worker count and buffer size
func NewQueue(workers, size int, handler JobHandler) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &Queue{
		jobs:    make(chan Job, size),
		handler: handler,
		workers: workers,
	}
}

// Start launches the workers. ctx is handed to every job.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	q.group = &errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for job := range q.jobs {
				q.run(ctx, job)
			}
			return nil
		})
	}
	slog.Debug("Extraction workers started", "workers", q.workers, "buffer", cap(q.jobs))
}

// Submit enqueues a job without blocking
func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job:
		return nil
	default:
		q.pending.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every submitted job has finished
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Stop refuses new jobs, lets the workers drain the buffer and waits for them
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	group := q.group
	q.mu.Unlock()

	if group == nil {
		// never started: nothing will run the buffered jobs
		for job := range q.jobs {
			slog.Warn("Dropping unstarted extraction job", "bill_id", job.BillID)
			q.pending.Done()
		}
		return nil
	}
	return group.Wait()
}

func (q *Queue) run(ctx context.Context, job Job) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Extraction job panicked", "bill_id", job.BillID, "panic", fmt.Sprint(r))
		}
	}()
	q.handler(ctx, job)
}
