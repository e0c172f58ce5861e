// Package debugger is the synchronous face of a debug session. The interactive
// shell calls it from its own goroutine, every call hops onto the session loop
// and waits for the result.
package debugger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/session"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

var (
	// ErrTimeout is returned when the loop did not answer in time.
	ErrTimeout = errors.New("debugger: timed out waiting for the session")
	// ErrNoBreakpoint is returned for an unknown breakpoint id.
	ErrNoBreakpoint = errors.New("no such breakpoint")
	// ErrNotStopped is returned by commands that need a stopped thread.
	ErrNotStopped = errors.New("no stopped thread selected")
	// ErrNoProcess is returned when nothing is being debugged.
	ErrNoProcess = errors.New("no process")
)

const eventBacklog = 64

// Symbols describes addresses for display. *symbol.Resolver implements it.
type Symbols interface {
	Describe(p *target.Process, pc uint64) string
	FileLine(p *target.Process, pc uint64) (string, int, bool)
}

// Config wires a Debugger to its session.
type Config struct {
	Session *session.Session
	// Symbols is optional, addresses are shown raw without it.
	Symbols Symbols
	// StopMode applies to user breakpoints.
	StopMode breakpoint.StopMode
	// Timeout bounds every call. Zero waits forever.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Debugger drives one session on behalf of a front end.
type Debugger struct {
	target.NopSystemObserver

	s        *session.Session
	symbols  Symbols
	stopMode breakpoint.StopMode
	timeout  time.Duration
	logger   *slog.Logger

	events chan Event

	// loop owned
	current struct {
		process uint64
		thread  uint64
	}
}

// New creates a Debugger and subscribes it to the session. Call it before the
// session loop starts running.
func New(cfg Config) *Debugger {
	if cfg.Logger == nil {
		cfg.Logger = rlog.Discard()
	}
	d := &Debugger{
		s:        cfg.Session,
		symbols:  cfg.Symbols,
		stopMode: cfg.StopMode,
		timeout:  cfg.Timeout,
		logger:   rlog.WithComponent(cfg.Logger, "debugger"),
		events:   make(chan Event, eventBacklog),
	}
	d.s.AddStopObserver(d)
	d.s.AddBreakpointObserver(d)
	d.s.System().AddObserver(d)
	return d
}

// Events delivers stops, exits and background breakpoint failures.
func (d *Debugger) Events() <-chan Event {
	return d.events
}

const (
	resultPending uint32 = iota
	resultDelivered
	resultAbandoned
)

// await runs fn on the loop and waits until it calls done. done reports
// whether the result reached the caller, it is false once the caller timed out.
func await[T any](d *Debugger, fn func(done func(T, error) bool)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	state := atomic.NewUint32(resultPending)
	d.s.Post(func() {
		fn(func(v T, err error) bool {
			if !state.CAS(resultPending, resultDelivered) {
				return false
			}
			ch <- result{v, err}
			return true
		})
	})

	var timeout <-chan time.Time
	if d.timeout > 0 {
		t := time.NewTimer(d.timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timeout:
		if state.CAS(resultPending, resultAbandoned) {
			var zero T
			return zero, ErrTimeout
		}
		// delivered just now
		r := <-ch
		return r.v, r.err
	}
}

// call runs a synchronous fn on the loop.
func call[T any](d *Debugger, fn func() (T, error)) (T, error) {
	return await(d, func(done func(T, error) bool) {
		done(fn())
	})
}

func (d *Debugger) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event dropped", "kind", ev.Kind.String())
	}
}

// OnThreadStopped implements session.StopObserver.
func (d *Debugger) OnThreadStopped(thread *target.Thread, exception agent.ExceptionType, hits []*breakpoint.Breakpoint) {
	ev := Event{Kind: EventStop, Exception: exception}
	for _, bp := range hits {
		ev.Hits = append(ev.Hits, snapshot(bp))
	}
	if thread != nil {
		p := thread.Process()
		d.current.process, d.current.thread = p.Koid(), thread.Koid()
		ev.Process, ev.Thread = p.Koid(), thread.Koid()
		ev.IP = thread.InstructionPointer()
		ev.Location = d.describe(p, ev.IP)
	}
	d.emit(ev)
}

// OnBreakpointUpdateFailure implements session.BreakpointObserver.
func (d *Debugger) OnBreakpointUpdateFailure(bp *breakpoint.Breakpoint, err error) {
	d.emit(Event{Kind: EventBreakpointFailure, Hits: []BreakpointInfo{snapshot(bp)}, Err: err})
}

// WillDestroyProcess implements target.SystemObserver.
func (d *Debugger) WillDestroyProcess(p *target.Process, exitCode int) {
	if d.current.process == p.Koid() {
		d.current.process, d.current.thread = 0, 0
	}
	d.emit(Event{Kind: EventExit, Process: p.Koid(), ExitCode: exitCode})
}

func (d *Debugger) describe(p *target.Process, pc uint64) string {
	if d.symbols == nil {
		return fmt.Sprintf("%#x", pc)
	}
	return d.symbols.Describe(p, pc)
}

// currentThread returns the selected stopped thread. Runs on the loop.
func (d *Debugger) currentThread() (*target.Thread, error) {
	p := d.s.System().ProcessByKoid(d.current.process)
	if p == nil {
		return nil, ErrNotStopped
	}
	th := p.ThreadByKoid(d.current.thread)
	if th == nil || th.State() != target.ThreadStopped {
		return nil, ErrNotStopped
	}
	return th, nil
}

// currentProcess returns the selected process, or the only one. Runs on the loop.
func (d *Debugger) currentProcess() (*target.Process, error) {
	if p := d.s.System().ProcessByKoid(d.current.process); p != nil {
		return p, nil
	}
	procs := d.s.Processes()
	if len(procs) == 0 {
		return nil, ErrNoProcess
	}
	return procs[0], nil
}
