// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrExecutorClosed is returned when work is submitted after Shutdown.
var ErrExecutorClosed = errors.New("serial executor closed")

// SerialExecutor runs tasks one at a time, in submission order, on a
// single goroutine. A task must not call Do on its own executor.
type SerialExecutor struct {
	tasks  chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewSerialExecutor starts an executor with a bounded queue.
func NewSerialExecutor(queue int, logger *zap.Logger) *SerialExecutor {
	if queue <= 0 {
		queue = 64
	}
	e := &SerialExecutor{
		tasks:  make(chan func(), queue),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go e.loop()
	return e
}

func (e *SerialExecutor) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.tasks:
			e.run(fn)
		case <-e.quit:
			return
		}
	}
}

func (e *SerialExecutor) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("serial task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Post enqueues fn without waiting. Returns false after Shutdown.
func (e *SerialExecutor) Post(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case <-e.quit:
		return false
	case e.tasks <- fn:
		return true
	}
}

// Do runs fn on the executor and waits for it to finish.
func (e *SerialExecutor) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrExecutorClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		// Queued but dropped by Shutdown, or finished just before exit
		select {
		case <-finished:
			return nil
		default:
			return ErrExecutorClosed
		}
	}
}

// Shutdown stops the loop after the running task. Queued tasks are dropped.
// Safe to call more than once.
func (e *SerialExecutor) Shutdown() {
	e.once.Do(func() { close(e.quit) })
	<-e.done
}
