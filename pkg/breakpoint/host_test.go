package breakpoint

import (
	"io"
	"log/slog"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/agent/agenttest"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

type fakeResolver struct {
	functions map[string][]uint64
	files     map[string][]string
	lines     map[string]map[int][]uint64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		functions: map[string][]uint64{},
		files:     map[string][]string{},
		lines:     map[string]map[int][]uint64{},
	}
}

func (r *fakeResolver) AddressesForFunction(p *target.Process, name string) []uint64 {
	return r.functions[name]
}

func (r *fakeResolver) AddressesForLine(p *target.Process, file string, line int) []uint64 {
	return r.lines[file][line]
}

func (r *fakeResolver) CanonicalizeFileMatches(p *target.Process, file string) []string {
	return r.files[file]
}

// fakeHost runs breakpoints on a real loop against a scripted agent and
// forwards system notifications the way the session does.
type fakeHost struct {
	target.NopSystemObserver

	loop     *loop.Loop
	agent    *agenttest.Remote
	remote   agent.Remote
	resolver *fakeResolver
	system   *target.System
	logger   *slog.Logger

	bps      []*Breakpoint
	failures []error
	nextID   uint32
}

func newFakeHost() *fakeHost {
	h := &fakeHost{
		loop:     loop.New(),
		agent:    agenttest.NewRemote(),
		resolver: newFakeResolver(),
		system:   target.NewSystem(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.remote = agent.WithPoster(h.agent, h.loop)
	h.system.AddObserver(h)
	return h
}

func (h *fakeHost) Post(fn func())               { h.loop.Post(fn) }
func (h *fakeHost) Remote() agent.Remote         { return h.remote }
func (h *fakeHost) Resolver() SymbolResolver     { return h.resolver }
func (h *fakeHost) Processes() []*target.Process { return h.system.Processes() }
func (h *fakeHost) Logger() *slog.Logger         { return h.logger }
func (h *fakeHost) BreakpointUpdateFailed(bp *Breakpoint, err error) {
	h.failures = append(h.failures, err)
}

func (h *fakeHost) DidCreateProcess(p *target.Process) {
	for _, bp := range h.bps {
		bp.DidCreateProcess(p)
	}
}

func (h *fakeHost) WillDestroyTarget(t *target.Target) {
	for _, bp := range h.bps {
		bp.WillDestroyTarget(t)
	}
}

func (h *fakeHost) newBreakpoint(c Controller) *Breakpoint {
	h.nextID++
	bp := New(h, h.nextID, c)
	h.bps = append(h.bps, bp)
	return bp
}

// set applies s, drains the loop and returns the completion error.
func (h *fakeHost) set(bp *Breakpoint, s Settings) error {
	var (
		err   error
		calls int
	)
	bp.SetSettings(s, func(e error) {
		calls++
		err = e
	})
	h.loop.RunUntilIdle()
	if calls != 1 {
		panic("completion did not run exactly once")
	}
	return err
}

// startProcess creates a process with one thread under a fresh target.
func (h *fakeHost) startProcess(koid uint64) (*target.Target, *target.Process, *target.Thread) {
	tgt := h.system.TargetForNewProcess()
	p := tgt.ProcessStarted(koid, "demo")
	th := p.ThreadStarting(koid+1, "main")
	return tgt, p, th
}
