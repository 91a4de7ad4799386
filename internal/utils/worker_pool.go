package utils

import (
	"sync"
)

// Job is one unit of work, typically a single metric collector run.
type Job struct {
	Task func()
}

// WorkerPool fans tasks out over a fixed number of goroutines. Host metric
// collection for the status report runs through one pool per report.
type WorkerPool struct {
	workers   int
	jobQueue  chan Job
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
// Fewer than one worker is treated as one.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan Job, workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for job := range wp.jobQueue {
		job.Task()
	}
}

// Submit queues a task. It blocks while every worker is busy and the queue is full.
func (wp *WorkerPool) Submit(task func()) {
	wp.jobQueue <- Job{Task: task}
}

// Shutdown waits for queued tasks to finish. Submit must not be called afterwards.
func (wp *WorkerPool) Shutdown() {
	close(wp.jobQueue)
	wp.waitGroup.Wait()
}

// RunAll runs tasks on a pool of at most workers goroutines and returns once
// every task has finished.
func RunAll(workers int, tasks ...func()) {
	if len(tasks) == 0 {
		return
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	pool := NewWorkerPool(workers)
	for _, task := range tasks {
		pool.Submit(task)
	}
	pool.Shutdown()
}
