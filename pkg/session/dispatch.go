package session

import (
	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

// HandleNotification applies an agent notification to the registry, or
// dispatches it when a thread stopped.
func (s *Session) HandleNotification(n agent.Notification) {
	switch n := n.(type) {
	case agent.NotifyProcessStarting:
		if p := s.system.ProcessByKoid(n.Koid); p != nil {
			return
		}
		s.system.TargetForNewProcess().ProcessStarted(n.Koid, n.Name)

	case agent.NotifyProcessExiting:
		p := s.system.ProcessByKoid(n.Koid)
		if p == nil {
			return
		}
		p.Target().ProcessExited(n.ReturnCode)

	case agent.NotifyThreadStarting:
		if p := s.system.ProcessByKoid(n.ProcessKoid); p != nil {
			p.ThreadStarting(n.ThreadKoid, n.Name)
		}

	case agent.NotifyThreadExiting:
		if p := s.system.ProcessByKoid(n.ProcessKoid); p != nil {
			p.ThreadExiting(n.ThreadKoid)
		}

	case agent.NotifyModules:
		p := s.system.ProcessByKoid(n.ProcessKoid)
		if p == nil {
			return
		}
		mods := make([]target.Module, 0, len(n.Modules))
		for _, m := range n.Modules {
			mods = append(mods, target.Module{Name: m.Name, Path: m.Path, Base: m.Base, Size: m.Size})
		}
		p.SetModules(mods)

	case agent.NotifyException:
		s.OnStopNotification(n)

	default:
		s.logger.Warn("unhandled agent notification", "type", n)
	}
}

// OnStopNotification decides what happens to a stopped thread: every hit
// breakpoint votes an action, the most intrusive one wins.
func (s *Session) OnStopNotification(n agent.NotifyException) {
	var thread *target.Thread
	if p := s.system.ProcessByKoid(n.ProcessKoid); p != nil {
		thread = p.ThreadByKoid(n.ThreadKoid)
	}
	if thread != nil {
		thread.SetStopped(n.IP, n.SP)
	}

	var hits, consumed []*breakpoint.Breakpoint
	for _, st := range n.HitBreakpoints {
		bp := s.breakpoints[st.ID]
		if bp == nil {
			// e.g. a one-shot breakpoint deleted locally before its hit arrived
			unknownHits.Inc()
			continue
		}
		bp.RecordHit(st.HitCount)
		recordHit(bp.IsInternal())
		hits = append(hits, bp)

		if st.ShouldDelete {
			bp.MarkUninstalled()
			consumed = append(consumed, bp)
		}
	}

	if len(n.HitBreakpoints) > 0 && len(hits) == 0 {
		// every hit is stale: consumed one-shots, breakpoints deleted locally
		s.logger.Debug("stale breakpoint hit",
			rlog.ProcessKey, n.ProcessKoid,
			rlog.ThreadKey, n.ThreadKoid,
			"hits", len(n.HitBreakpoints))
		stopEvents.WithLabelValues("stale").Inc()
		s.resumeStale(n, thread)
		return
	}

	action := breakpoint.ActionStop
	if len(hits) > 0 {
		action = breakpoint.ActionContinue
		for _, bp := range hits {
			action = breakpoint.HighestPrecedence(action, bp.HitAction(thread))
		}
	}

	s.logger.Debug("thread stopped",
		rlog.ProcessKey, n.ProcessKoid,
		rlog.ThreadKey, n.ThreadKoid,
		"exception", n.Type.String(),
		"hits", len(hits),
		"action", action.String())
	stopEvents.WithLabelValues(action.String()).Inc()

	switch action {
	case breakpoint.ActionContinue:
		s.resumeAfterHits(n, thread, hits)
	case breakpoint.ActionSilentStop:
	case breakpoint.ActionStop:
		var visible []*breakpoint.Breakpoint
		for _, bp := range hits {
			if !bp.IsInternal() {
				visible = append(visible, bp)
			}
		}
		for _, o := range s.stopObservers {
			o.OnThreadStopped(thread, n.Type, visible)
		}
	}

	for _, bp := range consumed {
		s.DeleteBreakpoint(bp)
	}
}

// resumeAfterHits resumes exactly what the hit breakpoints stopped: the widest
// stop mode among them decides the scope.
func (s *Session) resumeAfterHits(n agent.NotifyException, thread *target.Thread, hits []*breakpoint.Breakpoint) {
	mode := breakpoint.StopNone
	for _, bp := range hits {
		if m := bp.Settings().StopMode; m > mode {
			mode = m
		}
	}

	var req agent.ResumeRequest
	switch mode {
	case breakpoint.StopNone:
		// nothing was stopped
		return
	case breakpoint.StopThread:
		req = agent.ResumeRequest{ProcessKoid: n.ProcessKoid, ThreadKoids: []uint64{n.ThreadKoid}}
		if thread != nil {
			thread.SetRunning()
		}
	case breakpoint.StopProcess:
		req = agent.ResumeRequest{ProcessKoid: n.ProcessKoid}
		if p := s.system.ProcessByKoid(n.ProcessKoid); p != nil {
			markRunning(p)
		}
	default:
		req = agent.ResumeRequest{}
		for _, p := range s.system.Processes() {
			markRunning(p)
		}
	}
	s.sendResume(req, mode)
}

// resumeStale lets the reporting thread go after a hit nobody owns.
func (s *Session) resumeStale(n agent.NotifyException, thread *target.Thread) {
	if thread != nil {
		thread.SetRunning()
	}
	s.sendResume(agent.ResumeRequest{ProcessKoid: n.ProcessKoid, ThreadKoids: []uint64{n.ThreadKoid}}, breakpoint.StopThread)
}

func (s *Session) sendResume(req agent.ResumeRequest, mode breakpoint.StopMode) {
	resumes.WithLabelValues(mode.String()).Inc()
	s.remote.Resume(req, func(err error, reply agent.ResumeReply) {
		if err == nil {
			err = reply.Status.Err()
		}
		if err != nil {
			s.logger.Warn("resume failed", rlog.ProcessKey, req.ProcessKoid, "err", err)
		}
	})
}

func markRunning(p *target.Process) {
	for _, th := range p.Threads() {
		th.SetRunning()
	}
}

// Resume resumes every thread of p, or every process when p is nil. cb is
// optional and runs on the loop.
func (s *Session) Resume(p *target.Process, cb func(error)) {
	req := agent.ResumeRequest{}
	if p != nil {
		req.ProcessKoid = p.Koid()
		markRunning(p)
	} else {
		for _, p := range s.system.Processes() {
			markRunning(p)
		}
	}
	s.remote.Resume(req, func(err error, reply agent.ResumeReply) {
		if err == nil {
			err = reply.Status.Err()
		}
		if cb != nil {
			cb(err)
		}
	})
}

// ResumeThread resumes one thread. cb is optional and runs on the loop.
func (s *Session) ResumeThread(th *target.Thread, cb func(error)) {
	th.SetRunning()
	req := agent.ResumeRequest{ProcessKoid: th.Process().Koid(), ThreadKoids: []uint64{th.Koid()}}
	s.remote.Resume(req, func(err error, reply agent.ResumeReply) {
		if err == nil {
			err = reply.Status.Err()
		}
		if cb != nil {
			cb(err)
		}
	})
}
