package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/agent/agenttest"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

type staticResolver map[string][]uint64

func (r staticResolver) AddressesForFunction(p *target.Process, name string) []uint64 {
	return r[name]
}

func (r staticResolver) AddressesForLine(*target.Process, string, int) []uint64 {
	return nil
}

func (r staticResolver) CanonicalizeFileMatches(*target.Process, string) []string {
	return nil
}

type stopEvent struct {
	thread    *target.Thread
	exception agent.ExceptionType
	hits      []*breakpoint.Breakpoint
}

type harness struct {
	loop    *loop.Loop
	agent   *agenttest.Remote
	system  *target.System
	session *Session

	stops    []stopEvent
	failures []error
}

func (h *harness) OnThreadStopped(th *target.Thread, exc agent.ExceptionType, hits []*breakpoint.Breakpoint) {
	h.stops = append(h.stops, stopEvent{thread: th, exception: exc, hits: hits})
}

func (h *harness) OnBreakpointUpdateFailure(bp *breakpoint.Breakpoint, err error) {
	h.failures = append(h.failures, err)
}

func newHarness() *harness {
	h := &harness{
		loop:   loop.New(),
		agent:  agenttest.NewRemote(),
		system: target.NewSystem(),
	}
	h.session = New(Config{
		Loop:     h.loop,
		System:   h.system,
		Remote:   h.agent,
		Resolver: staticResolver{"main.main": {0x1000}, "main.other": {0x2000}},
	})
	h.session.AddStopObserver(h)
	h.session.AddBreakpointObserver(h)
	return h
}

// switchable returns whatever action it is told to.
type switchable struct {
	action breakpoint.Action
	seen   []*target.Thread
}

func (c *switchable) HitAction(bp *breakpoint.Breakpoint, th *target.Thread) breakpoint.Action {
	c.seen = append(c.seen, th)
	return c.action
}

func (h *harness) install(t *testing.T, bp *breakpoint.Breakpoint, symbol string, mode breakpoint.StopMode) {
	t.Helper()

	s := bp.Settings()
	s.Location = breakpoint.SymbolLocation(symbol)
	s.StopMode = mode
	s.Enabled = true

	var err error
	done := false
	bp.SetSettings(s, func(e error) { err, done = e, true })
	h.loop.RunUntilIdle()
	require.True(t, done)
	require.NoError(t, err)
}

func (h *harness) stop(ids ...uint32) {
	n := agent.NotifyException{ProcessKoid: 100, ThreadKoid: 101, Type: agent.ExceptionSoftwareBreakpoint, IP: 0x1000}
	for _, id := range ids {
		n.HitBreakpoints = append(n.HitBreakpoints, agent.BreakpointStats{ID: id, HitCount: 1})
	}
	h.session.OnStopNotification(n)
	h.loop.RunUntilIdle()
}

func (h *harness) startProcess() *target.Thread {
	p := h.system.TargetForNewProcess().ProcessStarted(100, "demo")
	return p.ThreadStarting(101, "main")
}

func TestInternalContinueHitsResumeOnce(t *testing.T) {
	h := newHarness()
	th := h.startProcess()

	c1 := &switchable{action: breakpoint.ActionContinue}
	c2 := &switchable{action: breakpoint.ActionContinue}
	bp1 := h.session.CreateInternalBreakpoint(c1)
	bp2 := h.session.CreateInternalBreakpoint(c2)
	h.install(t, bp1, "main.main", breakpoint.StopThread)
	h.install(t, bp2, "main.main", breakpoint.StopThread)

	h.stop(bp1.ID(), bp2.ID())

	require.Len(t, h.agent.Resumes(), 1)
	assert.Equal(t, agent.ResumeRequest{ProcessKoid: 100, ThreadKoids: []uint64{101}}, h.agent.Resumes()[0].Req)
	assert.Empty(t, h.stops)
	assert.Equal(t, []*target.Thread{th}, c1.seen)
	assert.Equal(t, target.ThreadRunning, th.State())

	// one of them now wants to stop
	h.agent.Reset()
	c2.action = breakpoint.ActionStop
	h.stop(bp1.ID(), bp2.ID())

	assert.Empty(t, h.agent.Resumes())
	require.Len(t, h.stops, 1)
	assert.Empty(t, h.stops[0].hits)
	assert.Equal(t, th, h.stops[0].thread)
	assert.Equal(t, target.ThreadStopped, th.State())
	assert.Equal(t, uint64(0x1000), th.InstructionPointer())

	// a user breakpoint at the same address is the only one reported
	h.stops = nil
	user := h.session.CreateBreakpoint()
	h.install(t, user, "main.main", breakpoint.StopAll)
	h.stop(bp1.ID(), bp2.ID(), user.ID())

	assert.Empty(t, h.agent.Resumes())
	require.Len(t, h.stops, 1)
	assert.Equal(t, []*breakpoint.Breakpoint{user}, h.stops[0].hits)
	assert.Equal(t, agent.ExceptionSoftwareBreakpoint, h.stops[0].exception)
}

func TestSilentStopDoesNothing(t *testing.T) {
	h := newHarness()
	h.startProcess()

	bp := h.session.CreateInternalBreakpoint(&switchable{action: breakpoint.ActionSilentStop})
	h.install(t, bp, "main.main", breakpoint.StopAll)
	h.stop(bp.ID())

	assert.Empty(t, h.agent.Resumes())
	assert.Empty(t, h.stops)
}

func TestResumeScopeFollowsWidestStopMode(t *testing.T) {
	tests := []struct {
		name  string
		modes []breakpoint.StopMode
		want  []agent.ResumeRequest
	}{
		{"none", []breakpoint.StopMode{breakpoint.StopNone}, nil},
		{"thread", []breakpoint.StopMode{breakpoint.StopThread}, []agent.ResumeRequest{{ProcessKoid: 100, ThreadKoids: []uint64{101}}}},
		{"process", []breakpoint.StopMode{breakpoint.StopThread, breakpoint.StopProcess}, []agent.ResumeRequest{{ProcessKoid: 100}}},
		{"all", []breakpoint.StopMode{breakpoint.StopAll, breakpoint.StopNone}, []agent.ResumeRequest{{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.startProcess()

			var ids []uint32
			for _, m := range tt.modes {
				bp := h.session.CreateInternalBreakpoint(&switchable{action: breakpoint.ActionContinue})
				h.install(t, bp, "main.main", m)
				ids = append(ids, bp.ID())
			}
			h.stop(ids...)

			var got []agent.ResumeRequest
			for _, r := range h.agent.Resumes() {
				got = append(got, r.Req)
			}
			assert.Equal(t, tt.want, got)
			assert.Empty(t, h.stops)
		})
	}
}

func TestShouldDeleteRemovesBreakpoint(t *testing.T) {
	h := newHarness()
	h.startProcess()

	bp := h.session.CreateBreakpoint()
	s := bp.Settings()
	s.OneShot = true
	bp.SetSettings(s, nil)
	h.install(t, bp, "main.main", breakpoint.StopAll)
	ref := bp.Ref()
	id := bp.ID()

	h.session.OnStopNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     101,
		HitBreakpoints: []agent.BreakpointStats{{ID: id, HitCount: 1, ShouldDelete: true}},
	})
	h.loop.RunUntilIdle()

	require.Len(t, h.stops, 1)
	assert.Equal(t, []*breakpoint.Breakpoint{bp}, h.stops[0].hits)
	assert.Nil(t, h.session.BreakpointByID(id))
	assert.Nil(t, ref.Get())
	assert.Equal(t, uint32(1), bp.HitCount())
	// the agent already dropped it
	assert.Empty(t, h.agent.Removes())
}

func TestShouldDeleteWithContinue(t *testing.T) {
	h := newHarness()
	h.startProcess()

	bp := h.session.CreateInternalBreakpoint(&switchable{action: breakpoint.ActionContinue})
	h.install(t, bp, "main.main", breakpoint.StopThread)
	ref := bp.Ref()

	h.session.OnStopNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     101,
		HitBreakpoints: []agent.BreakpointStats{{ID: bp.ID(), ShouldDelete: true}},
	})
	h.loop.RunUntilIdle()

	assert.Len(t, h.agent.Resumes(), 1)
	assert.Nil(t, ref.Get())
	assert.Nil(t, h.session.BreakpointByID(bp.ID()))
}

func TestUnknownHitsResumeThread(t *testing.T) {
	h := newHarness()
	th := h.startProcess()

	h.stop(42, 43)
	assert.Empty(t, h.stops)
	require.Len(t, h.agent.Resumes(), 1)
	req := h.agent.Resumes()[0].Req
	assert.Equal(t, uint64(100), req.ProcessKoid)
	assert.Equal(t, []uint64{101}, req.ThreadKoids)
	assert.Equal(t, target.ThreadRunning, th.State())
}

func TestDeleteDuringInstall(t *testing.T) {
	h := newHarness()
	h.startProcess()
	h.agent.Manual = true

	bp := h.session.CreateBreakpoint()
	s := bp.Settings()
	s.Location = breakpoint.SymbolLocation("main.main")
	s.Enabled = true
	bp.SetSettings(s, nil)
	h.loop.RunUntilIdle()
	require.Len(t, h.agent.Adds(), 1)
	id := bp.ID()

	h.session.DeleteBreakpoint(bp)
	require.Len(t, h.agent.Removes(), 1)
	assert.Equal(t, id, h.agent.Removes()[0].Req.ID)

	// the agent planted it before seeing the remove
	h.agent.LastAdd().Reply(nil, agent.AddOrChangeBreakpointReply{})
	h.loop.RunUntilIdle()
	h.stop(id)

	assert.Empty(t, h.stops)
	require.Len(t, h.agent.Resumes(), 1)
	assert.Equal(t, []uint64{101}, h.agent.Resumes()[0].Req.ThreadKoids)
}

func TestUnknownHitsAreSkipped(t *testing.T) {
	h := newHarness()
	h.startProcess()

	bp := h.session.CreateInternalBreakpoint(&switchable{action: breakpoint.ActionContinue})
	h.install(t, bp, "main.main", breakpoint.StopThread)
	h.stop(42, bp.ID())

	assert.Empty(t, h.stops)
	assert.Len(t, h.agent.Resumes(), 1)
}

func TestStopWithoutHitsNotifies(t *testing.T) {
	h := newHarness()
	h.startProcess()

	h.session.OnStopNotification(agent.NotifyException{ProcessKoid: 100, ThreadKoid: 101, Type: agent.ExceptionSignal})
	h.loop.RunUntilIdle()

	require.Len(t, h.stops, 1)
	assert.Equal(t, agent.ExceptionSignal, h.stops[0].exception)
	assert.Empty(t, h.agent.Resumes())
}

func TestDeleteBreakpoint(t *testing.T) {
	h := newHarness()
	h.startProcess()

	installed := h.session.CreateBreakpoint()
	h.install(t, installed, "main.main", breakpoint.StopAll)
	h.session.DeleteBreakpoint(installed)
	h.session.DeleteBreakpoint(installed)
	h.loop.RunUntilIdle()
	assert.Len(t, h.agent.Removes(), 1)
	assert.Nil(t, installed.Ref().Get())

	h.agent.Reset()
	h.agent.AddStatus = agent.Errorf(agent.StatusInvalidArgs, "rejected")
	failed := h.session.CreateBreakpoint()
	s := failed.Settings()
	s.Location = breakpoint.SymbolLocation("main.main")
	s.Enabled = true
	var err error
	failed.SetSettings(s, func(e error) { err = e })
	h.loop.RunUntilIdle()
	require.ErrorIs(t, err, breakpoint.ErrBreakpointSet)

	h.session.DeleteBreakpoint(failed)
	h.loop.RunUntilIdle()
	assert.Empty(t, h.agent.Removes())
	assert.Empty(t, h.session.Breakpoints())
}

func TestMismatchedScopeIsRejected(t *testing.T) {
	h := newHarness()
	th := h.startProcess()

	bp := h.session.CreateBreakpoint()
	h.install(t, bp, "main.main", breakpoint.StopAll)
	before := bp.Settings()

	s := before
	s.Scope = breakpoint.ScopeThread
	s.Thread = th
	var err error
	bp.SetSettings(s, func(e error) { err = e })
	h.loop.RunUntilIdle()

	assert.ErrorIs(t, err, breakpoint.ErrInvalidSettings)
	assert.Equal(t, before, bp.Settings())
}

func TestBreakpointsListsUserBreakpoints(t *testing.T) {
	h := newHarness()

	a := h.session.CreateBreakpoint()
	h.session.CreateInternalBreakpoint(&switchable{})
	b := h.session.CreateBreakpoint()

	assert.Equal(t, []*breakpoint.Breakpoint{a, b}, h.session.Breakpoints())
	assert.Less(t, a.ID(), b.ID())
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", h.session.ID().String())
}

func TestUpdateFailureReachesObservers(t *testing.T) {
	h := newHarness()
	th := h.startProcess()

	bp := h.session.CreateBreakpoint()
	h.install(t, bp, "main.main", breakpoint.StopAll)

	h.agent.AddErr = agent.ErrDisconnected
	th.Process().ModuleLoaded(target.Module{Name: "libc.so", Base: 0x9000, Size: 0x1000})
	h.loop.RunUntilIdle()

	require.Len(t, h.failures, 1)
	assert.ErrorIs(t, h.failures[0], agent.ErrDisconnected)
}

func TestTargetDestroyIsForwarded(t *testing.T) {
	h := newHarness()
	th := h.startProcess()
	tgt := th.Process().Target()

	bp := h.session.CreateBreakpoint()
	s := bp.Settings()
	s.Scope, s.Target = breakpoint.ScopeTarget, tgt
	bp.SetSettings(s, nil)
	h.install(t, bp, "main.main", breakpoint.StopAll)

	h.system.DestroyTarget(tgt)
	h.loop.RunUntilIdle()

	assert.Equal(t, breakpoint.ScopeSystem, bp.Settings().Scope)
	assert.False(t, bp.Settings().Enabled)
	assert.False(t, bp.IsInstalled())
}

func TestHandleNotification(t *testing.T) {
	h := newHarness()

	bp := h.session.CreateBreakpoint()
	h.install(t, bp, "main.main", breakpoint.StopAll)
	assert.Empty(t, h.agent.Adds())

	h.session.HandleNotification(agent.NotifyProcessStarting{Koid: 100, Name: "demo"})
	h.session.HandleNotification(agent.NotifyProcessStarting{Koid: 100, Name: "demo"})
	h.session.HandleNotification(agent.NotifyThreadStarting{ProcessKoid: 100, ThreadKoid: 101, Name: "main"})
	h.session.HandleNotification(agent.NotifyModules{ProcessKoid: 100, Modules: []agent.Module{
		{Name: "demo", Base: 0x400000, Size: 0x1000},
	}})
	h.loop.RunUntilIdle()

	p := h.system.ProcessByKoid(100)
	require.NotNil(t, p)
	require.Len(t, h.system.Targets(), 1)
	require.NotNil(t, p.ThreadByKoid(101))
	assert.Equal(t, []target.Module{{Name: "demo", Base: 0x400000, Size: 0x1000}}, p.Modules())
	require.NotEmpty(t, h.agent.Adds())
	assert.True(t, bp.IsInstalled())

	h.session.HandleNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     101,
		Type:           agent.ExceptionSoftwareBreakpoint,
		HitBreakpoints: []agent.BreakpointStats{{ID: bp.ID(), HitCount: 3}},
	})
	h.loop.RunUntilIdle()
	require.Len(t, h.stops, 1)
	assert.Equal(t, uint32(3), bp.HitCount())

	h.session.HandleNotification(agent.NotifyThreadExiting{ProcessKoid: 100, ThreadKoid: 101})
	assert.Nil(t, p.ThreadByKoid(101))

	h.session.HandleNotification(agent.NotifyProcessExiting{Koid: 100, ReturnCode: 0})
	h.loop.RunUntilIdle()
	assert.Nil(t, h.system.ProcessByKoid(100))
	assert.True(t, p.Destroyed())
	assert.Empty(t, bp.Locations())
	assert.False(t, bp.IsInstalled())
}

type countingOp struct {
	disposed int
}

func (o *countingOp) Dispose() {
	o.disposed++
}

func TestOperationSlots(t *testing.T) {
	h := newHarness()

	op := &countingOp{}
	slot := h.session.AddOperation(op)
	assert.Equal(t, 1, h.session.Operations())

	h.session.ReleaseOperation(slot)
	h.session.ReleaseOperation(slot)
	assert.Equal(t, 1, op.disposed)
	assert.Equal(t, 0, h.session.Operations())
}
