package utils

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsAllTasksBeforeShutdownReturns(t *testing.T) {
	pool := NewWorkerPool(3)

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		pool.Submit(func() { done.Add(1) })
	}
	pool.Shutdown()

	assert.Equal(t, int32(20), done.Load())
}

func TestWorkerPool_ZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)

	ran := false
	pool.Submit(func() { ran = true })
	pool.Shutdown()

	assert.True(t, ran)
}

func TestRunAll(t *testing.T) {
	var done atomic.Int32
	tasks := make([]func(), 5)
	for i := range tasks {
		tasks[i] = func() { done.Add(1) }
	}

	RunAll(16, tasks...)
	RunAll(4)

	assert.Equal(t, int32(5), done.Load())
}
