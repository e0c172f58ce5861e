// Package breakpoint keeps user and internal breakpoints resolved against the
// live process population and installed on the debug agent.
//
// A Breakpoint is owned by a session and only touched from the session loop.
// Asynchronous completions never capture the Breakpoint itself but its Ref,
// which is cleared when the breakpoint is destroyed.
package breakpoint

import (
	"fmt"

	"github.com/hitzhangjie/rdbg/pkg/target"
)

// Ref is a weak handle to a Breakpoint.
type Ref struct {
	bp *Breakpoint
}

// Get returns the breakpoint, or nil once it has been destroyed.
func (r *Ref) Get() *Breakpoint {
	if r == nil {
		return nil
	}
	return r.bp
}

// Breakpoint is one breakpoint with its resolved locations.
type Breakpoint struct {
	host       Host
	id         uint32
	controller Controller

	settings  Settings
	installed bool
	// add or change requests the agent has not answered yet
	adding   int
	hitCount uint32

	procs map[*target.Process]*processRecord
	ref   *Ref
}

// New creates a disabled breakpoint without a location. A non-nil controller
// makes it internal: it is consulted on every hit and the breakpoint is never
// reported to users.
func New(host Host, id uint32, controller Controller) *Breakpoint {
	bp := &Breakpoint{
		host:       host,
		id:         id,
		controller: controller,
		settings:   DefaultSettings(),
		procs:      map[*target.Process]*processRecord{},
	}
	bp.ref = &Ref{bp: bp}
	return bp
}

// ID is the identifier shared with the agent.
func (b *Breakpoint) ID() uint32 {
	return b.id
}

func (b *Breakpoint) IsInternal() bool {
	return b.controller != nil
}

// Ref returns the weak handle of this breakpoint.
func (b *Breakpoint) Ref() *Ref {
	return b.ref
}

// Settings returns a copy of the current settings.
func (b *Breakpoint) Settings() Settings {
	return b.settings
}

// IsInstalled reports whether the agent is believed to hold this breakpoint.
func (b *Breakpoint) IsInstalled() bool {
	return b.installed
}

// HitCount is the last hit count reported by the agent.
func (b *Breakpoint) HitCount() uint32 {
	return b.hitCount
}

// RecordHit stores the agent's hit count.
func (b *Breakpoint) RecordHit(count uint32) {
	b.hitCount = count
}

// MarkUninstalled records that the agent dropped the breakpoint on its own,
// e.g. a one-shot breakpoint after its hit.
func (b *Breakpoint) MarkUninstalled() {
	b.installed = false
}

// HitAction asks the controller what to do with a thread stopped here. User
// breakpoints always stop.
func (b *Breakpoint) HitAction(thread *target.Thread) Action {
	if b.controller == nil {
		return ActionStop
	}
	return b.controller.HitAction(b, thread)
}

func (b *Breakpoint) String() string {
	if b.IsInternal() {
		return fmt.Sprintf("internal breakpoint %d", b.id)
	}
	return fmt.Sprintf("breakpoint %d", b.id)
}

// Locations returns every resolved location ordered by process and address.
func (b *Breakpoint) Locations() []*Location {
	var out []*Location
	for _, rec := range b.procs {
		out = append(out, rec.locations()...)
	}
	sortLocations(out)
	return out
}

// SetSettings validates and applies s, re-resolves every applicable process and
// pushes the result to the agent. cb (optional) runs exactly once on the loop,
// possibly after the breakpoint has been destroyed. Invalid settings leave the
// breakpoint untouched.
func (b *Breakpoint) SetSettings(s Settings, cb func(error)) {
	if err := s.Validate(); err != nil {
		b.host.Logger().Debug("reject breakpoint settings", "bp_id", b.id, "err", err)
		if cb != nil {
			b.host.Post(func() { cb(err) })
		}
		return
	}
	b.settings = s

	for p, rec := range b.procs {
		if !b.couldApplyToProcess(p) {
			rec.unobserve()
			delete(b.procs, p)
		}
	}
	for _, p := range b.host.Processes() {
		if b.couldApplyToProcess(p) {
			b.registerAndResolve(p)
		}
	}

	b.sync(cb)
}

// Destroy detaches the breakpoint from every process and the agent. Pending
// completions become no-ops. Only the owning session calls it.
func (b *Breakpoint) Destroy() {
	if b.ref.bp == nil {
		return
	}
	// the agent serves requests in order, a remove sent now follows any
	// pending add
	if b.installed || b.adding > 0 {
		b.sendRemove(nil, true)
		b.installed = false
	}
	for p, rec := range b.procs {
		rec.unobserve()
		delete(b.procs, p)
	}
	b.ref.bp = nil
}

// DidCreateProcess hooks a new process if the scope covers it.
func (b *Breakpoint) DidCreateProcess(p *target.Process) {
	if !b.couldApplyToProcess(p) {
		return
	}
	if b.registerAndResolve(p) {
		b.sync(nil)
	}
}

// WillDestroyTarget degrades a target or thread scoped breakpoint to system
// scope and disables it.
func (b *Breakpoint) WillDestroyTarget(t *target.Target) {
	if b.settings.Target != t {
		return
	}
	b.settings.Scope = ScopeSystem
	b.settings.Target = nil
	b.settings.Thread = nil
	b.settings.Enabled = false
	b.sync(nil)
}

func (b *Breakpoint) threadDestroyed(t *target.Thread) {
	if b.settings.Scope != ScopeThread || b.settings.Thread != t {
		return
	}
	b.settings.Scope = ScopeTarget
	b.settings.Thread = nil
	b.settings.Enabled = false
	b.sync(nil)
}

func (b *Breakpoint) processDestroyed(rec *processRecord) {
	hadEnabled := b.settings.Enabled && rec.hasEnabledLocation()

	// addresses mean nothing in the next run of the program
	if b.settings.Location.Type == LocationAddress {
		b.settings.Enabled = false
	}

	rec.unobserve()
	delete(b.procs, rec.process)

	if hadEnabled {
		b.sync(nil)
	}
}

func (b *Breakpoint) moduleLoaded(rec *processRecord, m target.Module) {
	if !b.couldApplyToProcess(rec.process) {
		return
	}
	if b.resolve(rec) {
		b.sync(nil)
	}
}

// moduleUnloading drops the locations inside the module eagerly, the agent
// would otherwise keep a breakpoint on unmapped or reused memory.
func (b *Breakpoint) moduleUnloading(rec *processRecord, m target.Module) {
	if rec.removeRange(m.Base, m.Size) && b.settings.Enabled {
		b.sync(nil)
	}
}

func (b *Breakpoint) couldApplyToProcess(p *target.Process) bool {
	switch b.settings.Scope {
	case ScopeSystem:
		return b.settings.Location.Type != LocationAddress
	case ScopeTarget, ScopeThread:
		return b.settings.Target != nil && b.settings.Target.Process() == p
	}
	return false
}

// registerAndResolve makes sure a record observes p and resolves it.
func (b *Breakpoint) registerAndResolve(p *target.Process) bool {
	rec, ok := b.procs[p]
	if !ok {
		rec = newProcessRecord(b, p)
		b.procs[p] = rec
	}
	rec.observe()
	return b.resolve(rec)
}

func (b *Breakpoint) resolve(rec *processRecord) bool {
	loc := b.settings.Location
	resolver := b.host.Resolver()

	var addrs []uint64
	switch loc.Type {
	case LocationSymbol:
		if resolver != nil {
			addrs = resolver.AddressesForFunction(rec.process, loc.Symbol)
		}
	case LocationLine:
		if resolver != nil {
			for _, file := range resolver.CanonicalizeFileMatches(rec.process, loc.File) {
				addrs = append(addrs, resolver.AddressesForLine(rec.process, file, loc.Line)...)
			}
		}
	case LocationAddress:
		addrs = []uint64{loc.Address}
	}

	return rec.setAddresses(addrs)
}

func (b *Breakpoint) hasEnabledLocation() bool {
	if !b.settings.Enabled {
		return false
	}
	for _, rec := range b.procs {
		if rec.hasEnabledLocation() {
			return true
		}
	}
	return false
}
