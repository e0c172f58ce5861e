//go:build linux && amd64

package ptrace

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

const int3 = 0xCC

type siteKey struct {
	pid  int
	addr uint64
}

// site is one patched instruction. Several breakpoints may share it.
type site struct {
	key  siteKey
	orig byte
	// users maps breakpoint id to the only thread it applies to, 0 for all
	users map[uint32]uint64
}

func (s *site) userIDs() []uint32 {
	ids := make([]uint32, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// breakpoint is the agent's copy of a client breakpoint.
type breakpoint struct {
	settings agent.BreakpointSettings
	sites    map[siteKey]uint64
	hits     uint32
}

func (a *Agent) addOrChange(s agent.BreakpointSettings) agent.AddOrChangeBreakpointReply {
	if s.Type != agent.BreakpointSoftware {
		return agent.AddOrChangeBreakpointReply{
			Status: agent.Errorf(agent.StatusInvalidArgs, "%s breakpoints are not supported", s.Type),
		}
	}

	wanted := map[siteKey]uint64{}
	for _, loc := range s.Locations {
		p, ok := a.procs[int(loc.ProcessKoid)]
		if !ok {
			return agent.AddOrChangeBreakpointReply{
				Status: agent.Errorf(agent.StatusNotFound, "process %d not traced", loc.ProcessKoid),
			}
		}
		if loc.ThreadKoid != 0 {
			if _, ok := p.threads[int(loc.ThreadKoid)]; !ok {
				return agent.AddOrChangeBreakpointReply{
					Status: agent.Errorf(agent.StatusNotFound, "thread %d not in process %d", loc.ThreadKoid, loc.ProcessKoid),
				}
			}
		}

		key := siteKey{pid: p.pid, addr: loc.Address}
		if prev, ok := wanted[key]; ok && prev != loc.ThreadKoid {
			wanted[key] = 0
			continue
		}
		wanted[key] = loc.ThreadKoid
	}

	bp, ok := a.bps[s.ID]
	if !ok {
		bp = &breakpoint{sites: map[siteKey]uint64{}}
		a.bps[s.ID] = bp
	}
	for key := range bp.sites {
		if _, ok := wanted[key]; !ok {
			a.release(s.ID, key)
			delete(bp.sites, key)
		}
	}
	for key, tid := range wanted {
		if err := a.acquire(s.ID, key, tid); err != nil {
			a.removeBreakpoint(s.ID)
			return agent.AddOrChangeBreakpointReply{
				Status: agent.Errorf(agent.StatusIOError, "breakpoint %d at %#x: %v", s.ID, key.addr, err),
			}
		}
		bp.sites[key] = tid
	}
	bp.settings = s

	a.logger.Debug("breakpoint set", rlog.BreakpointKey, s.ID, "sites", len(bp.sites))
	return agent.AddOrChangeBreakpointReply{Locations: s.Locations}
}

// removeBreakpoint drops id and restores every site nobody else uses. Unknown
// ids are not an error.
func (a *Agent) removeBreakpoint(id uint32) {
	bp, ok := a.bps[id]
	if !ok {
		return
	}
	for key := range bp.sites {
		a.release(id, key)
	}
	delete(a.bps, id)
	a.logger.Debug("breakpoint removed", rlog.BreakpointKey, id)
}

func (a *Agent) acquire(id uint32, key siteKey, tid uint64) error {
	st, ok := a.sites[key]
	if !ok {
		st = &site{key: key, users: map[uint32]uint64{}}
		if err := a.plant(a.procs[key.pid], st); err != nil {
			return err
		}
		a.sites[key] = st
	}
	st.users[id] = tid
	return nil
}

func (a *Agent) release(id uint32, key siteKey) {
	st, ok := a.sites[key]
	if !ok {
		return
	}
	delete(st.users, id)
	if len(st.users) > 0 {
		return
	}
	delete(a.sites, key)
	if p, ok := a.procs[key.pid]; ok {
		if err := a.unplant(p, st); err != nil {
			a.logger.Warn("restore breakpoint failed", rlog.ProcessKey, key.pid, "addr", key.addr, "error", err)
		}
	}
}

func (a *Agent) plant(p *process, st *site) error {
	return a.withMemory(p, func(tid int) error {
		orig := [1]byte{}
		n, err := unix.PtracePeekData(tid, uintptr(st.key.addr), orig[:])
		if err != nil || n != 1 {
			return fmt.Errorf("peek text, %d bytes, error: %v", n, err)
		}
		st.orig = orig[0]

		n, err = unix.PtracePokeData(tid, uintptr(st.key.addr), []byte{int3})
		if err != nil || n != 1 {
			return fmt.Errorf("poke text, %d bytes, error: %v", n, err)
		}
		return nil
	})
}

func (a *Agent) unplant(p *process, st *site) error {
	return a.withMemory(p, func(tid int) error {
		n, err := unix.PtracePokeData(tid, uintptr(st.key.addr), []byte{st.orig})
		if err != nil || n != 1 {
			return fmt.Errorf("poke text, %d bytes, error: %v", n, err)
		}
		return nil
	})
}

// withMemory calls fn with a stopped thread of p, briefly interrupting one if
// the whole process is running.
func (a *Agent) withMemory(p *process, fn func(tid int) error) error {
	if t := p.anyStopped(); t != nil {
		return fn(t.tid)
	}

	t, ok := p.threads[p.pid]
	if !ok {
		for _, t = range p.sortedThreads() {
			break
		}
	}
	if t == nil {
		return fmt.Errorf("process %d has no threads", p.pid)
	}

	stopped, clean := a.interrupt(p, t)
	if !stopped {
		return fmt.Errorf("thread %d could not be stopped", t.tid)
	}
	err := fn(t.tid)
	if clean {
		if cerr := a.resumeThread(p, t); cerr != nil {
			a.logger.Warn("resume after memory access failed", rlog.ThreadKey, t.tid, "error", cerr)
		}
	}
	return err
}

// maskSites replaces planted INT3 bytes in buf, read at addr, with the
// original instruction bytes.
func (a *Agent) maskSites(pid int, addr uint64, buf []byte) {
	end := addr + uint64(len(buf))
	for key, st := range a.sites {
		if key.pid == pid && key.addr >= addr && key.addr < end {
			buf[key.addr-addr] = st.orig
		}
	}
}
