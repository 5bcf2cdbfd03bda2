package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	wp := NewWorkerPool(4)
	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		ok := wp.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		assert.True(t, ok)
	}
	wp.Shutdown()
	assert.Equal(t, int64(100), ran.Load())
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	wp := NewWorkerPool(1)
	wp.Submit("fail", func(ctx context.Context) error { return errors.New("boom") })
	wp.Submit("ok", func(ctx context.Context) error { return nil })
	wp.Shutdown()
	assert.Equal(t, int64(1), wp.Failed())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(2)
	wp.Shutdown()
	wp.Shutdown()
	assert.False(t, wp.Submit("late", func(ctx context.Context) error { return nil }))
}

func TestWorkerPool_TasksGetDeadline(t *testing.T) {
	wp := NewWorkerPool(1)
	var hasDeadline atomic.Bool
	wp.Submit("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hasDeadline.Store(ok)
		return nil
	})
	wp.Shutdown()
	assert.True(t, hasDeadline.Load())
}
