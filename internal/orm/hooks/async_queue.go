package hooks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AsyncTask represents a task to be executed asynchronously
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue manages asynchronous task execution with a worker pool
type AsyncQueue struct {
	tasks       chan AsyncTask
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	shutdown    bool
	mu          sync.Mutex
	logger      *zap.Logger
}

// NewAsyncQueue creates a new async task queue with the specified worker count and buffer size
func NewAsyncQueue(workerCount, bufferSize int, logger *zap.Logger) *AsyncQueue {
	if workerCount <= 0 {
		workerCount = 4
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncQueue{
		tasks:       make(chan AsyncTask, bufferSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start starts the worker pool
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.started = true
}

// worker is a worker goroutine that processes tasks
func (q *AsyncQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}

			q.execute(id, task)
		}
	}
}

func (q *AsyncQueue) execute(worker int, task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async task panicked",
				zap.Int("worker", worker),
				zap.String("task", task.Name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed",
			zap.Int("worker", worker),
			zap.String("task", task.Name),
			zap.Error(err),
		)
	}
}

// Enqueue adds a task to the queue. It never blocks: a full buffer is an error.
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return fmt.Errorf("queue not started")
	}
	if q.shutdown {
		return fmt.Errorf("queue shutdown")
	}

	// the lock keeps Shutdown from closing the channel under us
	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return fmt.Errorf("queue closed")
	default:
		return fmt.Errorf("queue full")
	}
}

// Shutdown gracefully shuts down the queue
// It stops accepting new tasks and waits for existing tasks to complete
func (q *AsyncQueue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	q.mu.Unlock()

	close(q.tasks)
	q.wg.Wait()
}

// Stop immediately stops the queue without waiting for tasks to complete
func (q *AsyncQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
