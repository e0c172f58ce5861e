//go:build linux && amd64

package ptrace

import (
	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

const maxReadMemory = 64 << 10

var _ agent.Backend = (*Agent)(nil)

func closedStatus(err error) agent.Status {
	return agent.Errorf(agent.StatusBadState, "%v", err)
}

func (a *Agent) AddOrChangeBreakpoint(req agent.AddOrChangeBreakpointRequest) (reply agent.AddOrChangeBreakpointReply) {
	if err := a.exec(func() { reply = a.addOrChange(req.Breakpoint) }); err != nil {
		reply.Status = closedStatus(err)
	}
	return reply
}

func (a *Agent) RemoveBreakpoint(req agent.RemoveBreakpointRequest) (reply agent.RemoveBreakpointReply) {
	if err := a.exec(func() { a.removeBreakpoint(req.ID) }); err != nil {
		reply.Status = closedStatus(err)
	}
	return reply
}

// Resume continues the stopped threads the request names. Threads that are
// already running or gone are skipped.
func (a *Agent) Resume(req agent.ResumeRequest) (reply agent.ResumeReply) {
	if err := a.exec(func() { reply = a.resume(req) }); err != nil {
		reply.Status = closedStatus(err)
	}
	return reply
}

func (a *Agent) resume(req agent.ResumeRequest) agent.ResumeReply {
	var procs []*process
	if req.ProcessKoid == 0 {
		procs = a.sortedProcs()
	} else {
		p, ok := a.procs[int(req.ProcessKoid)]
		if !ok {
			return agent.ResumeReply{Status: agent.Errorf(agent.StatusNotFound, "process %d not traced", req.ProcessKoid)}
		}
		procs = []*process{p}
	}

	var failed error
	for _, p := range procs {
		threads := p.sortedThreads()
		if len(req.ThreadKoids) > 0 {
			threads = threads[:0]
			for _, koid := range req.ThreadKoids {
				if t, ok := p.threads[int(koid)]; ok {
					threads = append(threads, t)
				}
			}
		}
		for _, t := range threads {
			if err := a.resumeThread(p, t); err != nil && failed == nil {
				failed = err
			}
		}
	}
	if failed != nil {
		return agent.ResumeReply{Status: agent.Errorf(agent.StatusIOError, "%v", failed)}
	}
	return agent.ResumeReply{}
}

func (a *Agent) ReadRegisters(req agent.ReadRegistersRequest) (reply agent.ReadRegistersReply) {
	err := a.exec(func() {
		p, ok := a.procs[int(req.ProcessKoid)]
		if !ok {
			reply.Status = agent.Errorf(agent.StatusNotFound, "process %d not traced", req.ProcessKoid)
			return
		}
		t, ok := p.threads[int(req.ThreadKoid)]
		if !ok {
			reply.Status = agent.Errorf(agent.StatusNotFound, "thread %d not in process %d", req.ThreadKoid, req.ProcessKoid)
			return
		}
		if !t.stopped {
			reply.Status = agent.Errorf(agent.StatusBadState, "thread %d is running", t.tid)
			return
		}

		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(t.tid, &regs); err != nil {
			reply.Status = agent.Errorf(agent.StatusIOError, "get regs error: %v", err)
			return
		}
		reply.Registers = agent.Registers{IP: regs.Rip, SP: regs.Rsp, BP: regs.Rbp}
	})
	if err != nil {
		reply.Status = closedStatus(err)
	}
	return reply
}

// ReadMemory reads at most 64KiB. Planted breakpoints read as the original
// instruction bytes.
func (a *Agent) ReadMemory(req agent.ReadMemoryRequest) (reply agent.ReadMemoryReply) {
	if req.Size > maxReadMemory {
		req.Size = maxReadMemory
	}
	err := a.exec(func() {
		p, ok := a.procs[int(req.ProcessKoid)]
		if !ok {
			reply.Status = agent.Errorf(agent.StatusNotFound, "process %d not traced", req.ProcessKoid)
			return
		}

		buf := make([]byte, req.Size)
		err := a.withMemory(p, func(tid int) error {
			n, err := unix.PtracePeekData(tid, uintptr(req.Address), buf)
			buf = buf[:n]
			return err
		})
		if err != nil && len(buf) == 0 {
			reply.Status = agent.Errorf(agent.StatusIOError, "peek text %#x: %v", req.Address, err)
			return
		}
		a.maskSites(p.pid, req.Address, buf)
		reply.Data = buf
	})
	if err != nil {
		reply.Status = closedStatus(err)
	}
	return reply
}
