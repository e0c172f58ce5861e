// Package control implements thread control operations built on internal
// breakpoints: run a thread or process until it reaches a location, optionally
// only once the stack has unwound past a frame.
package control

import (
	"errors"
	"fmt"

	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/session"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

var (
	// ErrTargetGone is reported when the bound thread or process exited before
	// the operation got going.
	ErrTargetGone = errors.New("thread or process exited")
	// ErrNoLocation is reported when the location resolved to no address.
	ErrNoLocation = errors.New("location did not resolve to any address")
)

// State of an Until operation.
type State int

const (
	StateCreated State = iota
	StateAwaitingInstall
	StateRunning
	StateHit
	StateTargetGone
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingInstall:
		return "awaiting-install"
	case StateRunning:
		return "running"
	case StateHit:
		return "hit"
	case StateTargetGone:
		return "target-gone"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Until runs a thread or a whole process until it reaches a location. It owns
// an internal breakpoint and retires itself once the location is hit or the
// bound thread or process goes away. The session holds it until then.
type Until struct {
	target.NopProcessObserver

	session *session.Session
	process *target.Process
	thread  *target.Thread // nil when bound to the process

	frameFiltered bool
	minSP         uint64

	bp    *breakpoint.Breakpoint
	slot  uint32
	state State

	retireScheduled bool
	reached         bool
	cb              func(error)
}

// UntilProcess resumes p and stops when any of its threads reaches loc.
func UntilProcess(s *session.Session, p *target.Process, loc breakpoint.InputLocation, cb func(error)) *Until {
	u := &Until{session: s, process: p}
	u.start(loc, cb)
	return u
}

// UntilThread resumes th and stops it when it reaches loc.
func UntilThread(s *session.Session, th *target.Thread, loc breakpoint.InputLocation, cb func(error)) *Until {
	u := &Until{session: s, process: th.Process(), thread: th}
	u.start(loc, cb)
	return u
}

// UntilThreadFrame is UntilThread that only accepts hits once the stack
// pointer is above minSP, i.e. the frame that captured minSP has returned.
func UntilThreadFrame(s *session.Session, th *target.Thread, loc breakpoint.InputLocation, minSP uint64, cb func(error)) *Until {
	u := &Until{session: s, process: th.Process(), thread: th, frameFiltered: true, minSP: minSP}
	u.start(loc, cb)
	return u
}

// State returns the current state.
func (u *Until) State() State {
	return u.state
}

// Breakpoint returns the internal breakpoint, nil once retired.
func (u *Until) Breakpoint() *breakpoint.Breakpoint {
	if u.state == StateRetired {
		return nil
	}
	return u.bp
}

func (u *Until) String() string {
	if u.thread != nil {
		return fmt.Sprintf("until on %s", u.thread)
	}
	return fmt.Sprintf("until on %s", u.process)
}

func (u *Until) start(loc breakpoint.InputLocation, cb func(error)) {
	u.cb = cb
	u.slot = u.session.AddOperation(u)

	if u.process == nil || u.process.Destroyed() || (u.thread != nil && u.thread.Destroyed()) {
		u.state = StateTargetGone
		u.report(ErrTargetGone)
		u.retire()
		return
	}
	u.process.AddObserver(u)

	settings := breakpoint.DefaultSettings()
	settings.Target = u.process.Target()
	if u.thread != nil {
		settings.Scope = breakpoint.ScopeThread
		settings.Thread = u.thread
		settings.StopMode = breakpoint.StopThread
	} else {
		settings.Scope = breakpoint.ScopeTarget
		settings.StopMode = breakpoint.StopProcess
	}
	settings.Location = loc
	settings.Enabled = true
	// a frame check may reject hits, so the breakpoint has to survive them
	settings.OneShot = !u.frameFiltered

	u.bp = u.session.CreateInternalBreakpoint(u)
	u.state = StateAwaitingInstall
	u.bp.SetSettings(settings, u.installed)
}

func (u *Until) installed(err error) {
	if u.state != StateAwaitingInstall {
		// the hit can beat the install reply, the thread did get there
		if u.reached {
			u.report(nil)
		} else {
			u.report(ErrTargetGone)
		}
		return
	}
	if err == nil && len(u.bp.Locations()) == 0 {
		err = fmt.Errorf("%w: %s", ErrNoLocation, u.bp.Settings().Location)
	}
	if err != nil {
		u.report(err)
		u.retire()
		return
	}

	u.state = StateRunning
	switch {
	case u.thread != nil:
		if !u.thread.Destroyed() {
			u.session.ResumeThread(u.thread, nil)
		}
	case !u.process.Destroyed():
		u.session.Resume(u.process, nil)
	}
	u.report(nil)
}

// report calls the caller's callback, once.
func (u *Until) report(err error) {
	if u.cb == nil {
		return
	}
	cb := u.cb
	u.cb = nil

	// never call back synchronously from a constructor
	u.session.Post(func() { cb(err) })
}

// HitAction implements breakpoint.Controller.
func (u *Until) HitAction(bp *breakpoint.Breakpoint, thread *target.Thread) breakpoint.Action {
	if u.retireScheduled {
		return breakpoint.ActionContinue
	}
	if u.thread != nil && thread != nil && thread != u.thread {
		return breakpoint.ActionContinue
	}
	if u.frameFiltered {
		// no stack pointer to check against without the thread
		if thread == nil {
			return breakpoint.ActionContinue
		}
		// still inside the frame, or deeper in a recursive call
		if thread.StackPointer() <= u.minSP {
			return breakpoint.ActionContinue
		}
	}

	u.session.Logger().Debug("until reached", rlog.BreakpointKey, bp.ID())
	u.state = StateHit
	u.reached = true
	u.retire()
	return breakpoint.ActionStop
}

func (u *Until) WillDestroyThread(th *target.Thread) {
	if th == u.thread {
		u.targetGone()
	}
}

func (u *Until) WillDestroyProcess(p *target.Process, exitCode int) {
	u.targetGone()
}

func (u *Until) targetGone() {
	if u.retireScheduled {
		return
	}
	u.state = StateTargetGone
	u.retire()
}

// retire schedules the release of this operation's slot. Calling it again is
// a no-op.
func (u *Until) retire() {
	if u.retireScheduled {
		return
	}
	u.retireScheduled = true

	s, slot := u.session, u.slot
	s.Post(func() { s.ReleaseOperation(slot) })
}

// Dispose implements session.Operation.
func (u *Until) Dispose() {
	u.state = StateRetired
	if u.process != nil {
		u.process.RemoveObserver(u)
	}
	if u.bp != nil {
		u.session.DeleteBreakpoint(u.bp)
	}
}
