package host

import (
	"context"
	"errors"
	"sync"
)

var ErrExecutorClosed = errors.New("executor closed")

// Executor runs a step on the authoritative context and waits for it.
type Executor interface {
	Do(ctx context.Context, fn func() error) error
}

type task struct {
	fn     func() error
	result chan error
}

// SerialExecutor runs submitted steps one at a time on a single goroutine.
type SerialExecutor struct {
	tasks     chan task
	done      chan struct{}
	closeOnce sync.Once
}

func NewSerialExecutor(buffer int) *SerialExecutor {
	if buffer < 0 {
		buffer = 0
	}
	return &SerialExecutor{
		tasks: make(chan task, buffer),
		done:  make(chan struct{}),
	}
}

// Run drains steps until ctx is done or Close is called.
func (e *SerialExecutor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case t := <-e.tasks:
			t.result <- runStep(t.fn)
		}
	}
}

func runStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("step panicked")
		}
	}()
	return fn()
}

func (e *SerialExecutor) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, result: make(chan error, 1)}
	select {
	case e.tasks <- t:
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.result:
		return err
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *SerialExecutor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// Inline runs steps on the caller's goroutine.
type Inline struct{}

func (Inline) Do(_ context.Context, fn func() error) error { return runStep(fn) }
