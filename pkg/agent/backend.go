package agent

import (
	"sync"
)

// Backend is the agent side of the protocol: something that actually plants
// breakpoints and controls threads. Calls are synchronous and made from one
// goroutine at a time.
type Backend interface {
	AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest) AddOrChangeBreakpointReply
	RemoveBreakpoint(req RemoveBreakpointRequest) RemoveBreakpointReply
	Resume(req ResumeRequest) ResumeReply
	ReadRegisters(req ReadRegistersRequest) ReadRegistersReply
	ReadMemory(req ReadMemoryRequest) ReadMemoryReply
}

// NotifyFunc receives notifications pushed by a Backend.
type NotifyFunc func(n Notification)

// Local adapts a Backend to Remote in process. Requests are executed in order
// on a dedicated goroutine and completions are called from it.
type Local struct {
	backend Backend

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewLocal starts the worker goroutine. Close stops it.
func NewLocal(b Backend) *Local {
	l := &Local{
		backend: b,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Local) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

// enqueue schedules req, or fails it with ErrDisconnected once closed.
func (l *Local) enqueue(req func(), fail func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fail()
		return
	}
	l.queue = append(l.queue, req)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close fails further requests and waits for queued ones to finish.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
	return nil
}

func (l *Local) AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, cb func(error, AddOrChangeBreakpointReply)) {
	l.enqueue(
		func() { cb(nil, l.backend.AddOrChangeBreakpoint(req)) },
		func() { cb(ErrDisconnected, AddOrChangeBreakpointReply{}) },
	)
}

func (l *Local) RemoveBreakpoint(req RemoveBreakpointRequest, cb func(error, RemoveBreakpointReply)) {
	l.enqueue(
		func() { cb(nil, l.backend.RemoveBreakpoint(req)) },
		func() { cb(ErrDisconnected, RemoveBreakpointReply{}) },
	)
}

func (l *Local) Resume(req ResumeRequest, cb func(error, ResumeReply)) {
	l.enqueue(
		func() { cb(nil, l.backend.Resume(req)) },
		func() { cb(ErrDisconnected, ResumeReply{}) },
	)
}

func (l *Local) ReadRegisters(req ReadRegistersRequest, cb func(error, ReadRegistersReply)) {
	l.enqueue(
		func() { cb(nil, l.backend.ReadRegisters(req)) },
		func() { cb(ErrDisconnected, ReadRegistersReply{}) },
	)
}

func (l *Local) ReadMemory(req ReadMemoryRequest, cb func(error, ReadMemoryReply)) {
	l.enqueue(
		func() { cb(nil, l.backend.ReadMemory(req)) },
		func() { cb(ErrDisconnected, ReadMemoryReply{}) },
	)
}
