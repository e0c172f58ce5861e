package breakpoint

import (
	"sort"

	"github.com/hitzhangjie/rdbg/pkg/target"
)

// processRecord is a breakpoint's state for one live process. While observing
// it is registered on the process and forwards lifecycle events to the owner.
type processRecord struct {
	bp        *Breakpoint
	process   *target.Process
	observing bool
	locs      map[uint64]*Location
}

func newProcessRecord(bp *Breakpoint, p *target.Process) *processRecord {
	return &processRecord{
		bp:      bp,
		process: p,
		locs:    map[uint64]*Location{},
	}
}

func (r *processRecord) observe() {
	if r.observing {
		return
	}
	r.process.AddObserver(r)
	r.observing = true
}

// unobserve must run before the record is dropped.
func (r *processRecord) unobserve() {
	if !r.observing {
		return
	}
	r.process.RemoveObserver(r)
	r.observing = false
}

// setAddresses replaces every location with fresh enabled ones at addrs and
// reports whether the result is non-empty or differs from before.
func (r *processRecord) setAddresses(addrs []uint64) bool {
	next := make(map[uint64]*Location, len(addrs))
	for _, addr := range addrs {
		next[addr] = &Location{bp: r.bp, process: r.process, address: addr, enabled: true}
	}

	differs := len(next) != len(r.locs)
	if !differs {
		for addr := range next {
			if _, ok := r.locs[addr]; !ok {
				differs = true
				break
			}
		}
	}

	r.locs = next
	return len(next) > 0 || differs
}

// removeRange drops locations inside [base, base+size) and reports whether any
// of them was enabled.
func (r *processRecord) removeRange(base, size uint64) bool {
	hadEnabled := false
	for addr, loc := range r.locs {
		if addr >= base && addr < base+size {
			hadEnabled = hadEnabled || loc.enabled
			delete(r.locs, addr)
		}
	}
	return hadEnabled
}

func (r *processRecord) hasEnabledLocation() bool {
	for _, loc := range r.locs {
		if loc.enabled {
			return true
		}
	}
	return false
}

func (r *processRecord) locations() []*Location {
	out := make([]*Location, 0, len(r.locs))
	for _, loc := range r.locs {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address < out[j].address })
	return out
}

func (r *processRecord) DidLoadModule(p *target.Process, m target.Module) {
	r.bp.moduleLoaded(r, m)
}

func (r *processRecord) WillUnloadModule(p *target.Process, m target.Module) {
	r.bp.moduleUnloading(r, m)
}

func (r *processRecord) DidCreateThread(*target.Thread) {}

func (r *processRecord) WillDestroyThread(t *target.Thread) {
	r.bp.threadDestroyed(t)
}

func (r *processRecord) WillDestroyProcess(p *target.Process, exitCode int) {
	r.bp.processDestroyed(r)
}
