// services/task_serializer.go
package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Future is the pending result of a task submitted to a TaskSerializer.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.val, f.err = val, err
	close(f.done)
	return f
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finished or ctx is done. A cancelled wait does
// not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TaskSerializer runs submitted work one task at a time, in submission order,
// on a single goroutine.
type TaskSerializer struct {
	logger *zap.Logger
	queue  chan func()
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewTaskSerializer(logger *zap.Logger, queueSize int) *TaskSerializer {
	s := &TaskSerializer{
		logger: logger.Named("serializer"),
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *TaskSerializer) run() {
	defer close(s.done)
	for task := range s.queue {
		task()
	}
}

// Submit queues fn behind every task submitted before it. Panics inside fn are
// returned as errors.
func Submit[T any](s *TaskSerializer, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
				s.logger.Error("[SERIALIZER] task panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
			close(f.done)
		}()
		f.val, f.err = fn()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		var zero T
		return resolvedFuture(zero, ErrSerializerClosed)
	}
	s.queue <- task
	return f
}

// Shutdown stops intake, then waits for queued and in-flight tasks to finish.
func (s *TaskSerializer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
