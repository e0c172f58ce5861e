// Package loop implements the single logical event loop a debug session runs on.
//
// Every mutation of breakpoints, the process registry and the stop dispatcher is
// executed as a task on one Loop, so none of them need locking. Other goroutines
// (transport readers, the interactive shell) hand work over with Post or Call.
package loop

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Loop is a FIFO task queue drained by exactly one goroutine at a time.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}

	running *atomic.Bool
	stopped *atomic.Bool
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		running: atomic.NewBool(false),
		stopped: atomic.NewBool(false),
	}
}

// Post appends fn to the queue. It never runs fn synchronously, even when called
// from the loop goroutine, so callers see one calling convention for completions.
func (l *Loop) Post(fn func()) {
	if fn == nil || l.stopped.Load() {
		return
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call posts fn and blocks until it has run. Must not be called from a task
// running on this loop, that would deadlock.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	if l.stopped.Load() {
		return
	}
	<-done
}

// RunUntilIdle runs queued tasks on the calling goroutine until the queue is
// empty, including tasks posted by the tasks it runs. It returns the number of
// tasks executed.
func (l *Loop) RunUntilIdle() int {
	n := 0
	for {
		fn := l.next()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

// Run drains the queue until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CAS(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	for {
		l.RunUntilIdle()
		if l.stopped.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop makes Run return after the current task and drops further posts.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return fn
}
