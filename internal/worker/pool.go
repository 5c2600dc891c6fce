package worker

import (
	"context"
	"sync"
	"time"
)

// Task represents a unit of background work. Process returns an error to
// request a retry.
type Task interface {
	Process() error
}

// Pool manages a fixed set of worker goroutines draining a bounded task
// queue. Tasks that keep failing past the retry bound land in a dead-letter
// list for inspection.
type Pool struct {
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	workers      int
	tasks        chan Task
	maxRetries   int
	retryDelay   time.Duration
	deadLetter   []Task
	deadLetterMu sync.Mutex
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	Workers     int
	QueueLength int
	DeadLetters int
}

// NewPool creates a Pool with the given number of workers, queue capacity
// and per-task retry bound. Non-positive arguments fall back to defaults.
func NewPool(workers, queueSize, maxRetries int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:        ctx,
		cancel:     cancel,
		workers:    workers,
		tasks:      make(chan Task, queueSize),
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop signals all workers to exit and waits for them to finish. The task
// channel is never closed, so producers racing shutdown cannot panic.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit adds a task to the queue, returns false if the queue is full or
// the pool has been stopped.
func (p *Pool) Submit(task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.processWithRetry(task)
		}
	}
}

// processWithRetry processes a task, retrying up to maxRetries with a fixed
// delay, then moves it to the dead-letter list.
func (p *Pool) processWithRetry(task Task) {
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
		}
		if err := task.Process(); err == nil {
			return
		}
	}

	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, task)
	p.deadLetterMu.Unlock()
}

// DeadLetterCount returns the number of tasks in the dead letter queue
func (p *Pool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Stats returns current statistics about the worker pool
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		QueueLength: len(p.tasks),
		DeadLetters: p.DeadLetterCount(),
	}
}
