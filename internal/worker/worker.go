package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

const (
	queueSize   = 1000
	taskTimeout = 10 * time.Second
)

type WorkerPool struct {
	taskQueue chan namedTask
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isClosing atomic.Bool
	failed    atomic.Int64
}

type namedTask struct {
	name string
	run  Task
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	wp := &WorkerPool{
		taskQueue: make(chan namedTask, queueSize),
	}

	for i := 0; i < size; i++ {
		wp.wg.Add(1)
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		if err := task.run(ctx); err != nil {
			wp.failed.Add(1)
			log.Error().Err(err).Str("task", task.name).Msg("worker task failed")
		}
		cancel()
	}
}

// Submit queues t without blocking. It reports false when the pool is
// shutting down or the queue is full; the task is dropped in both cases.
func (wp *WorkerPool) Submit(name string, t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.isClosing.Load() {
		log.Warn().Str("task", name).Msg("task submitted during shutdown, dropping")
		return false
	}
	select {
	case wp.taskQueue <- namedTask{name: name, run: t}:
		return true
	default:
		log.Warn().Str("task", name).Msg("task queue full, dropping task")
		return false
	}
}

// Failed reports how many tasks returned an error.
func (wp *WorkerPool) Failed() int64 {
	return wp.failed.Load()
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.isClosing.Swap(true) {
		wp.mu.Unlock()
		return
	}
	close(wp.taskQueue)
	wp.mu.Unlock()
	wp.wg.Wait()
}
