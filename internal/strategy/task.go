package strategy

import (
	"context"
	"sync"
	"time"
)

// Task is a background job whose completion can be observed.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task error. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tasks spawns background jobs detached from the request that started them.
// Close cancels jobs still running and waits for them.
type Tasks struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTasks creates a task group. Each job gets at most timeout (0 = no limit).
func NewTasks(ctx context.Context, timeout time.Duration) *Tasks {
	ctx, cancel := context.WithCancel(ctx)
	return &Tasks{ctx: ctx, cancel: cancel, timeout: timeout}
}

// Go runs fn in the background and returns its Task.
func (ts *Tasks) Go(fn func(ctx context.Context) error) *Task {
	t := newTask()
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		ctx, cancel := ts.ctx, context.CancelFunc(func() {})
		if ts.timeout > 0 {
			ctx, cancel = context.WithTimeout(ts.ctx, ts.timeout)
		}
		defer cancel()
		t.finish(fn(ctx))
	}()
	return t
}

// Close cancels running jobs and waits for them to return.
func (ts *Tasks) Close() {
	ts.cancel()
	ts.wg.Wait()
}
