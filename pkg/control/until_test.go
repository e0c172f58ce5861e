package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/agent/agenttest"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/session"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

type resolver map[string][]uint64

func (r resolver) AddressesForFunction(p *target.Process, name string) []uint64 {
	return r[name]
}

func (r resolver) AddressesForLine(*target.Process, string, int) []uint64 {
	return nil
}

func (r resolver) CanonicalizeFileMatches(*target.Process, string) []string {
	return nil
}

type fixture struct {
	loop    *loop.Loop
	agent   *agenttest.Remote
	system  *target.System
	session *session.Session
	process *target.Process
	thread  *target.Thread

	stops [][]*breakpoint.Breakpoint
	errs  []error
}

func (f *fixture) OnThreadStopped(th *target.Thread, exc agent.ExceptionType, hits []*breakpoint.Breakpoint) {
	f.stops = append(f.stops, hits)
}

func newFixture() *fixture {
	f := &fixture{
		loop:   loop.New(),
		agent:  agenttest.NewRemote(),
		system: target.NewSystem(),
	}
	f.session = session.New(session.Config{
		Loop:     f.loop,
		System:   f.system,
		Remote:   f.agent,
		Resolver: resolver{"main.done": {0x1000}},
	})
	f.session.AddStopObserver(f)
	f.process = f.system.TargetForNewProcess().ProcessStarted(100, "demo")
	f.thread = f.process.ThreadStarting(101, "main")
	return f
}

func (f *fixture) record(err error) {
	f.errs = append(f.errs, err)
}

func (f *fixture) hit(u *Until, sp uint64) {
	f.session.OnStopNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     101,
		Type:           agent.ExceptionSoftwareBreakpoint,
		IP:             0x1000,
		SP:             sp,
		HitBreakpoints: []agent.BreakpointStats{{ID: u.Breakpoint().ID(), HitCount: 1}},
	})
	f.loop.RunUntilIdle()
}

func TestUntilThread(t *testing.T) {
	f := newFixture()

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	assert.Empty(t, f.errs, "callback must not run synchronously")
	f.loop.RunUntilIdle()

	require.Equal(t, []error{nil}, f.errs)
	assert.Equal(t, StateRunning, u.State())

	bp := u.Breakpoint()
	require.NotNil(t, bp)
	assert.True(t, bp.IsInternal())
	assert.Empty(t, f.session.Breakpoints())
	s := bp.Settings()
	assert.Equal(t, breakpoint.ScopeThread, s.Scope)
	assert.Equal(t, f.thread, s.Thread)
	assert.Equal(t, breakpoint.StopThread, s.StopMode)
	assert.True(t, s.OneShot)

	require.Len(t, f.agent.Resumes(), 1)
	assert.Equal(t, agent.ResumeRequest{ProcessKoid: 100, ThreadKoids: []uint64{101}}, f.agent.Resumes()[0].Req)
	assert.Equal(t, 1, f.session.Operations())

	f.hit(u, 0x7000)

	require.Len(t, f.stops, 1)
	assert.Empty(t, f.stops[0])
	assert.Len(t, f.agent.Resumes(), 1)
	assert.Equal(t, StateRetired, u.State())
	assert.Equal(t, 0, f.session.Operations())
	assert.Nil(t, f.session.BreakpointByID(bp.ID()))
	assert.Len(t, f.agent.Removes(), 1)
}

func TestUntilProcess(t *testing.T) {
	f := newFixture()

	u := UntilProcess(f.session, f.process, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()

	require.Equal(t, []error{nil}, f.errs)
	s := u.Breakpoint().Settings()
	assert.Equal(t, breakpoint.ScopeTarget, s.Scope)
	assert.Equal(t, f.process.Target(), s.Target)
	assert.Equal(t, breakpoint.StopProcess, s.StopMode)
	require.Len(t, f.agent.Resumes(), 1)
	assert.Equal(t, agent.ResumeRequest{ProcessKoid: 100}, f.agent.Resumes()[0].Req)
}

func TestUntilInstallFailure(t *testing.T) {
	f := newFixture()
	f.agent.AddStatus = agent.Errorf(agent.StatusInvalidArgs, "no")

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], breakpoint.ErrBreakpointSet)
	assert.Empty(t, f.agent.Resumes())
	assert.Equal(t, StateRetired, u.State())
	assert.Equal(t, 0, f.session.Operations())
	assert.False(t, f.process.HasObserver(u))
}

func TestUntilUnresolvedLocation(t *testing.T) {
	f := newFixture()

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("nowhere"), f.record)
	f.loop.RunUntilIdle()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrNoLocation)
	assert.Empty(t, f.agent.Resumes())
	assert.Equal(t, StateRetired, u.State())
}

func TestUntilThreadFrameFiltersDeeperHits(t *testing.T) {
	f := newFixture()

	u := UntilThreadFrame(f.session, f.thread, breakpoint.SymbolLocation("main.done"), 0x7000, f.record)
	f.loop.RunUntilIdle()
	require.Equal(t, []error{nil}, f.errs)
	assert.False(t, u.Breakpoint().Settings().OneShot)
	f.agent.Reset()

	// recursion: same location, deeper stack
	f.hit(u, 0x6000)
	f.hit(u, 0x7000)
	assert.Empty(t, f.stops)
	assert.Len(t, f.agent.Resumes(), 2)
	assert.Equal(t, StateRunning, u.State())
	assert.Equal(t, 1, f.session.Operations())

	f.hit(u, 0x7010)
	require.Len(t, f.stops, 1)
	assert.Equal(t, StateRetired, u.State())
	assert.Equal(t, 0, f.session.Operations())
}

func TestUntilThreadFrameSkipsUnknownThread(t *testing.T) {
	f := newFixture()

	u := UntilThreadFrame(f.session, f.thread, breakpoint.SymbolLocation("main.done"), 0x7000, f.record)
	f.loop.RunUntilIdle()
	f.agent.Reset()

	f.session.OnStopNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     999,
		Type:           agent.ExceptionSoftwareBreakpoint,
		IP:             0x1000,
		SP:             0x8000,
		HitBreakpoints: []agent.BreakpointStats{{ID: u.Breakpoint().ID(), HitCount: 1}},
	})
	f.loop.RunUntilIdle()

	assert.Empty(t, f.stops)
	assert.Equal(t, StateRunning, u.State())
	assert.Equal(t, 1, f.session.Operations())
	require.Len(t, f.agent.Resumes(), 1)
	assert.Equal(t, []uint64{999}, f.agent.Resumes()[0].Req.ThreadKoids)
}

func TestUntilHitBeforeInstallReply(t *testing.T) {
	f := newFixture()
	f.agent.Manual = true

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()
	require.Len(t, f.agent.Adds(), 1)

	f.hit(u, 0x7000)
	require.Len(t, f.stops, 1)
	assert.Equal(t, StateRetired, u.State())
	assert.Empty(t, f.errs)

	f.agent.Adds()[0].Reply(nil, agent.AddOrChangeBreakpointReply{})
	f.loop.RunUntilIdle()

	assert.Equal(t, []error{nil}, f.errs)
	assert.Empty(t, f.agent.Resumes())
}

func TestUntilThreadExitWhileRunning(t *testing.T) {
	f := newFixture()

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()
	bp := u.Breakpoint()

	f.process.ThreadExiting(101)
	f.loop.RunUntilIdle()

	assert.Equal(t, StateRetired, u.State())
	assert.Equal(t, 0, f.session.Operations())
	assert.Nil(t, bp.Ref().Get())
	assert.Empty(t, f.stops)
	assert.Equal(t, []error{nil}, f.errs)
}

func TestUntilTargetGoneBeforeInstall(t *testing.T) {
	f := newFixture()
	f.agent.Manual = true

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()
	require.Len(t, f.agent.Adds(), 1)

	f.process.Target().ProcessExited(0)
	f.loop.RunUntilIdle()
	assert.Equal(t, StateRetired, u.State())
	assert.Empty(t, f.errs)

	f.agent.Adds()[0].Reply(nil, agent.AddOrChangeBreakpointReply{})
	f.loop.RunUntilIdle()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrTargetGone)
	assert.Empty(t, f.agent.Resumes())
}

func TestUntilOnDeadThread(t *testing.T) {
	f := newFixture()
	f.process.ThreadExiting(101)

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()

	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], ErrTargetGone)
	assert.Equal(t, 0, f.session.Operations())
	assert.Empty(t, f.agent.Adds())
	assert.Nil(t, u.Breakpoint())
}

func TestUntilHitRacingExitRetiresOnce(t *testing.T) {
	f := newFixture()

	u := UntilThread(f.session, f.thread, breakpoint.SymbolLocation("main.done"), f.record)
	f.loop.RunUntilIdle()
	bp := u.Breakpoint()

	f.session.OnStopNotification(agent.NotifyException{
		ProcessKoid:    100,
		ThreadKoid:     101,
		HitBreakpoints: []agent.BreakpointStats{{ID: bp.ID()}},
	})
	f.process.ThreadExiting(101)
	f.loop.RunUntilIdle()

	assert.Equal(t, StateRetired, u.State())
	assert.Equal(t, 0, f.session.Operations())
	assert.Len(t, f.stops, 1)
	assert.Nil(t, bp.Ref().Get())
}
