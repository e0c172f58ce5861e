// Package session owns the breakpoints of one debug session and dispatches the
// agent's stop notifications to them.
//
// Everything here runs on the session loop. Other goroutines go through
// Loop().Post or Loop().Call.
package session

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

// StopObserver is told about threads that stopped and should be shown.
type StopObserver interface {
	// OnThreadStopped receives the user breakpoints that were hit, internal
	// ones are never included. thread is nil if the agent named an unknown one.
	OnThreadStopped(thread *target.Thread, exception agent.ExceptionType, hits []*breakpoint.Breakpoint)
}

// BreakpointObserver is told about background breakpoint updates that failed.
type BreakpointObserver interface {
	OnBreakpointUpdateFailure(bp *breakpoint.Breakpoint, err error)
}

// Operation is a self-retiring unit of work held in the session's slot map.
type Operation interface {
	// Dispose releases everything the operation holds. Called once.
	Dispose()
}

// Config wires a session to its collaborators.
type Config struct {
	Loop     *loop.Loop
	System   *target.System
	Remote   agent.Remote
	Resolver breakpoint.SymbolResolver
	Logger   *slog.Logger
}

// Session is one debugging session.
type Session struct {
	id       uuid.UUID
	loop     *loop.Loop
	system   *target.System
	remote   agent.Remote
	resolver breakpoint.SymbolResolver
	logger   *slog.Logger

	nextBreakpointID *atomic.Uint32
	breakpoints      map[uint32]*breakpoint.Breakpoint

	nextSlot   *atomic.Uint32
	operations map[uint32]Operation

	stopObservers       []StopObserver
	breakpointObservers []BreakpointObserver
}

// New creates a session and registers it on the system for process and target
// lifecycle events. Replies from cfg.Remote are delivered on cfg.Loop.
func New(cfg Config) *Session {
	if cfg.Loop == nil {
		cfg.Loop = loop.New()
	}
	if cfg.System == nil {
		cfg.System = target.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = rlog.Discard()
	}

	id := uuid.New()
	s := &Session{
		id:               id,
		loop:             cfg.Loop,
		system:           cfg.System,
		remote:           agent.WithPoster(cfg.Remote, cfg.Loop),
		resolver:         cfg.Resolver,
		logger:           cfg.Logger.With(rlog.SessionKey, id.String()),
		nextBreakpointID: atomic.NewUint32(0),
		breakpoints:      map[uint32]*breakpoint.Breakpoint{},
		nextSlot:         atomic.NewUint32(0),
		operations:       map[uint32]Operation{},
	}
	s.system.AddObserver(s)
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Loop() *loop.Loop {
	return s.loop
}

func (s *Session) System() *target.System {
	return s.system
}

// SetResolver replaces the symbol resolver, e.g. once a binary was loaded.
func (s *Session) SetResolver(r breakpoint.SymbolResolver) {
	s.resolver = r
}

func (s *Session) AddStopObserver(o StopObserver) {
	s.stopObservers = append(s.stopObservers, o)
}

func (s *Session) AddBreakpointObserver(o BreakpointObserver) {
	s.breakpointObservers = append(s.breakpointObservers, o)
}

// CreateBreakpoint creates a disabled user breakpoint.
func (s *Session) CreateBreakpoint() *breakpoint.Breakpoint {
	return s.createBreakpoint(nil)
}

// CreateInternalBreakpoint creates a breakpoint whose hits are decided by c and
// that is never reported to users.
func (s *Session) CreateInternalBreakpoint(c breakpoint.Controller) *breakpoint.Breakpoint {
	return s.createBreakpoint(c)
}

func (s *Session) createBreakpoint(c breakpoint.Controller) *breakpoint.Breakpoint {
	bp := breakpoint.New(s, s.nextBreakpointID.Inc(), c)
	s.breakpoints[bp.ID()] = bp
	liveBreakpoints.Inc()
	return bp
}

// DeleteBreakpoint destroys bp. Deleting twice is a no-op.
func (s *Session) DeleteBreakpoint(bp *breakpoint.Breakpoint) {
	if bp == nil {
		return
	}
	if s.breakpoints[bp.ID()] != bp {
		return
	}
	delete(s.breakpoints, bp.ID())
	liveBreakpoints.Dec()
	bp.Destroy()
}

// BreakpointByID returns the live breakpoint with the given id or nil.
func (s *Session) BreakpointByID(id uint32) *breakpoint.Breakpoint {
	return s.breakpoints[id]
}

// Breakpoints returns the user breakpoints ordered by id.
func (s *Session) Breakpoints() []*breakpoint.Breakpoint {
	var out []*breakpoint.Breakpoint
	for _, bp := range s.sortedBreakpoints() {
		if !bp.IsInternal() {
			out = append(out, bp)
		}
	}
	return out
}

func (s *Session) sortedBreakpoints() []*breakpoint.Breakpoint {
	out := make([]*breakpoint.Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AddOperation takes ownership of op and returns its slot.
func (s *Session) AddOperation(op Operation) uint32 {
	slot := s.nextSlot.Inc()
	s.operations[slot] = op
	return slot
}

// ReleaseOperation disposes of the operation in slot, if still held.
func (s *Session) ReleaseOperation(slot uint32) {
	op, ok := s.operations[slot]
	if !ok {
		return
	}
	delete(s.operations, slot)
	op.Dispose()
}

// Operations returns the number of operations still held.
func (s *Session) Operations() int {
	return len(s.operations)
}

// breakpoint.Host

func (s *Session) Post(fn func()) {
	s.loop.Post(fn)
}

func (s *Session) Remote() agent.Remote {
	return s.remote
}

func (s *Session) Resolver() breakpoint.SymbolResolver {
	return s.resolver
}

func (s *Session) Processes() []*target.Process {
	return s.system.Processes()
}

func (s *Session) Logger() *slog.Logger {
	return s.logger
}

func (s *Session) BreakpointUpdateFailed(bp *breakpoint.Breakpoint, err error) {
	updateFailures.Inc()
	s.logger.Warn("breakpoint update failed", rlog.BreakpointKey, bp.ID(), "err", err)
	for _, o := range s.breakpointObservers {
		o.OnBreakpointUpdateFailure(bp, err)
	}
}

// target.SystemObserver

func (s *Session) DidCreateProcess(p *target.Process) {
	s.logger.Debug("process created", rlog.ProcessKey, p.Koid())
	for _, bp := range s.sortedBreakpoints() {
		bp.DidCreateProcess(p)
	}
}

func (s *Session) WillDestroyProcess(p *target.Process, exitCode int) {
	s.logger.Debug("process exiting", rlog.ProcessKey, p.Koid(), "code", exitCode)
}

func (s *Session) WillDestroyTarget(t *target.Target) {
	for _, bp := range s.sortedBreakpoints() {
		bp.WillDestroyTarget(t)
	}
}
