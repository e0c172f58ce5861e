//go:build linux && amd64

package ptrace

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

var errThreadGone = errors.New("thread exited")

// poll reaps every pending wait status without blocking.
func (a *Agent) poll() {
	a.flushDeferred()
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(-1, &ws, unix.WALL|unix.WNOHANG, nil)
		if err != nil || wpid <= 0 {
			return
		}
		a.handle(waitEvent{tid: wpid, status: ws})
	}
}

func (a *Agent) flushDeferred() {
	for len(a.deferred) > 0 {
		ev := a.deferred[0]
		a.deferred = a.deferred[1:]
		a.handle(ev)
	}
}

func (a *Agent) handle(ev waitEvent) {
	ws := ev.status
	p, ok := a.owner[ev.tid]
	if !ok {
		if ws.Stopped() {
			a.early[ev.tid] = true
		}
		return
	}
	t := p.threads[ev.tid]
	t.deferred = false

	if ws.Exited() || ws.Signaled() {
		a.exited(p, t, ws)
		return
	}
	if !ws.Stopped() {
		return
	}
	t.stopped = true

	sig := ws.StopSignal()
	switch {
	case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_CLONE:
		a.cloned(p, t)
	case sig == unix.SIGSTOP && (t.fresh || t.expectStop):
		t.fresh, t.expectStop = false, false
		if err := a.resumeThread(p, t); err != nil {
			a.logger.Debug("resume after swallowed stop failed", rlog.ThreadKey, t.tid, "error", err)
		}
	case sig == unix.SIGTRAP:
		a.trapped(p, t)
	default:
		t.signal = int(sig)
		a.report(p, t, agent.ExceptionSignal)
	}
}

func (a *Agent) exited(p *process, t *thread, ws unix.WaitStatus) {
	delete(p.threads, t.tid)
	delete(a.owner, t.tid)
	if t.tid != p.pid {
		a.cfg.Notify(agent.NotifyThreadExiting{ProcessKoid: uint64(p.pid), ThreadKoid: uint64(t.tid)})
		return
	}

	code := ws.ExitStatus()
	if ws.Signaled() {
		code = 128 + int(ws.Signal())
	}
	for _, other := range p.sortedThreads() {
		a.cfg.Notify(agent.NotifyThreadExiting{ProcessKoid: uint64(p.pid), ThreadKoid: uint64(other.tid)})
	}
	a.dropProcess(p)
	a.cfg.Notify(agent.NotifyThreadExiting{ProcessKoid: uint64(p.pid), ThreadKoid: uint64(t.tid)})
	a.cfg.Notify(agent.NotifyProcessExiting{Koid: uint64(p.pid), ReturnCode: code})

	a.logger.Info("process exited", rlog.ProcessKey, p.pid, "status", describe(ws))
}

// cloned registers the thread t just created and lets both run.
//
// PTRACE_O_TRACECLONE: the new thread is traced automatically and starts
// with a SIGSTOP, which may be reaped before or after the parent's event.
func (a *Agent) cloned(p *process, t *thread) {
	msg, err := unix.PtraceGetEventMsg(t.tid)
	if err != nil {
		a.logger.Warn("could not get clone event message", rlog.ThreadKey, t.tid, "error", err)
	} else {
		nt := a.addThread(p, int(msg))
		if a.early[nt.tid] {
			delete(a.early, nt.tid)
			nt.stopped = true
			if err := a.resumeThread(p, nt); err != nil {
				a.logger.Debug("resume new thread failed", rlog.ThreadKey, nt.tid, "error", err)
			}
		} else {
			nt.fresh = true
		}
		a.cfg.Notify(agent.NotifyThreadStarting{ProcessKoid: uint64(p.pid), ThreadKoid: uint64(nt.tid)})
	}

	if err := a.resumeThread(p, t); err != nil {
		a.logger.Debug("resume after clone failed", rlog.ThreadKey, t.tid, "error", err)
	}
}

// trapped handles a SIGTRAP that is not a ptrace event, normally an INT3.
func (a *Agent) trapped(p *process, t *thread) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.tid, &regs); err != nil {
		a.logger.Warn("get regs error", rlog.ThreadKey, t.tid, "error", err)
		return
	}

	addr := regs.Rip - 1
	st, ok := a.sites[siteKey{pid: p.pid, addr: addr}]
	if !ok {
		a.report(p, t, agent.ExceptionUnknown)
		return
	}

	// rewind over the INT3 so the original instruction runs on resume
	regs.Rip = addr
	if err := unix.PtraceSetRegs(t.tid, &regs); err != nil {
		a.logger.Warn("set regs error", rlog.ThreadKey, t.tid, "error", err)
		return
	}

	var (
		hits     []agent.BreakpointStats
		oneShots []uint32
		mode     = agent.StopNone
	)
	for _, id := range st.userIDs() {
		if filter := st.users[id]; filter != 0 && filter != uint64(t.tid) {
			continue
		}
		bp := a.bps[id]
		bp.hits++
		stats := agent.BreakpointStats{ID: id, HitCount: bp.hits}
		if bp.settings.OneShot {
			stats.ShouldDelete = true
			oneShots = append(oneShots, id)
		}
		if bp.settings.StopMode > mode {
			mode = bp.settings.StopMode
		}
		hits = append(hits, stats)
	}

	if len(hits) == 0 {
		// every breakpoint here is bound to another thread
		if err := a.resumeThread(p, t); err != nil {
			a.logger.Debug("step over foreign breakpoint failed", rlog.ThreadKey, t.tid, "error", err)
		}
		return
	}
	for _, id := range oneShots {
		a.removeBreakpoint(id)
	}

	switch mode {
	case agent.StopProcess:
		a.stopProcess(p)
	case agent.StopAll:
		for _, q := range a.sortedProcs() {
			a.stopProcess(q)
		}
	}

	a.refreshModules(p, false)
	a.cfg.Notify(agent.NotifyException{
		ProcessKoid:    uint64(p.pid),
		ThreadKoid:     uint64(t.tid),
		Type:           agent.ExceptionSoftwareBreakpoint,
		IP:             addr,
		SP:             regs.Rsp,
		HitBreakpoints: hits,
	})

	if mode == agent.StopNone {
		if err := a.resumeThread(p, t); err != nil {
			a.logger.Debug("resume non-stopping breakpoint failed", rlog.ThreadKey, t.tid, "error", err)
		}
	}
}

// report tells the client t stopped for a reason other than a breakpoint.
func (a *Agent) report(p *process, t *thread, typ agent.ExceptionType) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.tid, &regs); err != nil {
		a.logger.Debug("get regs error", rlog.ThreadKey, t.tid, "error", err)
	}
	a.refreshModules(p, false)
	a.cfg.Notify(agent.NotifyException{
		ProcessKoid: uint64(p.pid),
		ThreadKoid:  uint64(t.tid),
		Type:        typ,
		IP:          regs.Rip,
		SP:          regs.Rsp,
	})
}

// stopProcess interrupts every running thread of p.
func (a *Agent) stopProcess(p *process) {
	for _, t := range p.sortedThreads() {
		if !t.stopped {
			a.interrupt(p, t)
		}
	}
}

// interrupt stops a running thread with SIGSTOP and reaps the stop. clean is
// false if the thread stopped for another reason first; that event is queued
// and the SIGSTOP stays pending.
func (a *Agent) interrupt(p *process, t *thread) (stopped, clean bool) {
	if err := unix.Tgkill(p.pid, t.tid, unix.SIGSTOP); err != nil {
		return false, false
	}
	t.expectStop = true

	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.tid, &ws, unix.WALL, nil); err != nil {
		return false, false
	}
	if ws.Stopped() && ws.StopSignal() == unix.SIGSTOP {
		t.expectStop = false
		t.stopped = true
		return true, true
	}

	a.deferred = append(a.deferred, waitEvent{tid: t.tid, status: ws})
	t.deferred = true
	if ws.Stopped() {
		t.stopped = true
		return true, false
	}
	return false, false
}

// resumeThread continues a stopped thread, stepping over a breakpoint at its
// pc first and delivering any pending signal.
func (a *Agent) resumeThread(p *process, t *thread) error {
	if !t.stopped || t.deferred {
		return nil
	}
	if err := a.stepOver(p, t); err != nil {
		if errors.Is(err, errThreadGone) {
			return nil
		}
		return err
	}

	sig := t.signal
	if err := unix.PtraceCont(t.tid, sig); err != nil {
		return fmt.Errorf("thread %d ptrace cont: %w", t.tid, err)
	}
	t.signal = 0
	t.stopped = false
	return nil
}

func (a *Agent) stepOver(p *process, t *thread) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.tid, &regs); err != nil {
		return fmt.Errorf("get regs error: %w", err)
	}
	st, ok := a.sites[siteKey{pid: p.pid, addr: regs.Rip}]
	if !ok {
		return nil
	}

	addr := uintptr(st.key.addr)
	if _, err := unix.PtracePokeData(t.tid, addr, []byte{st.orig}); err != nil {
		return fmt.Errorf("restore %#x: %w", addr, err)
	}
	if err := unix.PtraceSingleStep(t.tid); err != nil {
		return fmt.Errorf("single step: %w", err)
	}

	var ws unix.WaitStatus
	_, err := unix.Wait4(t.tid, &ws, unix.WALL, nil)
	switch {
	case err != nil:
		return fmt.Errorf("wait single step: %w", err)
	case !ws.Stopped():
		a.deferred = append(a.deferred, waitEvent{tid: t.tid, status: ws})
		t.deferred = true
		// some other stopped thread can still put the INT3 back
		if other := p.anyStopped(); other != nil {
			_, _ = unix.PtracePokeData(other.tid, addr, []byte{int3})
		}
		return errThreadGone
	case ws.StopSignal() != unix.SIGTRAP:
		t.signal = int(ws.StopSignal())
	}

	if _, err := unix.PtracePokeData(t.tid, addr, []byte{int3}); err != nil {
		return fmt.Errorf("replant %#x: %w", addr, err)
	}
	return nil
}

func describe(status unix.WaitStatus) string {
	switch {
	case status.Continued():
		return "continued"
	case status.Exited():
		return "exited: " + strconv.Itoa(status.ExitStatus())
	case status.Signaled():
		return "signaled: " + status.Signal().String()
	case status.Stopped():
		return "stopped: " + status.StopSignal().String()
	case status.CoreDump():
		return "coredump"
	default:
		return strconv.Itoa(int(status))
	}
}
