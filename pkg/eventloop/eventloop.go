// Package eventloop provides the single background execution context that all
// transport operations run on. Foreground callers submit operations from any
// goroutine and block until completion; the operations themselves execute on
// goroutines owned by the loop, with contexts derived from the loop's context,
// so closing the loop cancels everything still in flight.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Operation is a unit of work scheduled onto the loop.
type Operation func(ctx context.Context) (any, error)

// ErrTimeout is returned by RunAndWait when the caller's wait expires. The
// operation's context is cancelled at that point, so a well-behaved operation
// stops shortly after, but the caller must not assume it never completed.
var ErrTimeout = errors.New("eventloop: operation timed out")

// ErrClosed is returned when submitting to a loop that has been closed.
var ErrClosed = errors.New("eventloop: loop is closed")

type result struct {
	value any
	err   error
}

type task struct {
	op     Operation
	ctx    context.Context
	cancel context.CancelFunc
	done   chan result
}

// Loop is a long-lived task runner. Create one with New and stop it with
// Close. A binding owns exactly one Loop; every connection and request for
// that binding is affined to it.
type Loop struct {
	tasks  chan *task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// New starts the loop's runner goroutine and returns the loop.
func New() *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		tasks:  make(chan *task),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go l.run()

	return l
}

// run consumes submitted tasks until the loop is closed. Each task executes on
// its own loop-owned goroutine so slow operations do not starve unrelated
// callers; all in-flight work is waited for before the runner exits.
func (l *Loop) run() {
	defer close(l.done)

	var wg sync.WaitGroup
	for {
		select {
		case <-l.ctx.Done():
			wg.Wait()
			return
		case t := <-l.tasks:
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.done <- execute(t)
			}()
		}
	}
}

// execute runs one task, converting panics into errors so a misbehaving
// operation cannot take down the loop.
func execute(t *task) (res result) {
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("eventloop: operation panicked: %v", r)}
		}
	}()

	v, err := t.op(t.ctx)

	return result{value: v, err: err}
}

// RunAndWait schedules op onto the loop and blocks the calling goroutine until
// it completes or timeout expires. A timeout <= 0 means no limit. On expiry the
// operation's context is cancelled and ErrTimeout is returned; errors returned
// by op are propagated unchanged. Safe to call concurrently from any number of
// goroutines.
func (l *Loop) RunAndWait(op Operation, timeout time.Duration) (any, error) {
	opCtx, opCancel := context.WithCancel(l.ctx)
	t := &task{
		op:     op,
		ctx:    opCtx,
		cancel: opCancel,
		done:   make(chan result, 1),
	}

	select {
	case l.tasks <- t:
	case <-l.ctx.Done():
		opCancel()
		return nil, ErrClosed
	}

	if timeout <= 0 {
		r := <-t.done
		return r.value, r.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-timer.C:
		opCancel()
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// Close stops the loop and waits for the runner goroutine to exit, bounded by
// timeout. Pending and in-flight operations are cancelled through the loop
// context. Idempotent.
func (l *Loop) Close(timeout time.Duration) error {
	l.closeOnce.Do(l.cancel)

	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("eventloop: close: runner did not exit within %s", timeout)
	}
}
