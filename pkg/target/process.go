package target

import (
	"fmt"
	"sort"
)

// Process is a live debugged process.
type Process struct {
	koid      uint64
	name      string
	target    *Target
	threads   map[uint64]*Thread
	modules   []Module
	observers []ProcessObserver
	destroyed bool
}

// Koid returns the kernel id of the process, the pid for a ptrace agent.
func (p *Process) Koid() uint64 {
	return p.koid
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Target() *Target {
	return p.target
}

// Destroyed reports whether the process already exited.
func (p *Process) Destroyed() bool {
	return p.destroyed
}

func (p *Process) String() string {
	return fmt.Sprintf("process %d (%s)", p.koid, p.name)
}

// AddObserver registers o. Registering twice is a no-op.
func (p *Process) AddObserver(o ProcessObserver) {
	for _, v := range p.observers {
		if v == o {
			return
		}
	}
	p.observers = append(p.observers, o)
}

// RemoveObserver unregisters o.
func (p *Process) RemoveObserver(o ProcessObserver) {
	for i, v := range p.observers {
		if v == o {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			return
		}
	}
}

// HasObserver reports whether o is registered.
func (p *Process) HasObserver(o ProcessObserver) bool {
	for _, v := range p.observers {
		if v == o {
			return true
		}
	}
	return false
}

// Threads returns the live threads ordered by koid.
func (p *Process) Threads() []*Thread {
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].koid < out[j].koid })
	return out
}

// ThreadByKoid returns the thread or nil.
func (p *Process) ThreadByKoid(koid uint64) *Thread {
	return p.threads[koid]
}

// ThreadStarting adds a thread, returning the existing one if already known.
func (p *Process) ThreadStarting(koid uint64, name string) *Thread {
	if t, ok := p.threads[koid]; ok {
		return t
	}

	t := &Thread{koid: koid, name: name, process: p, state: ThreadRunning}
	p.threads[koid] = t

	for _, o := range p.snapshotObservers() {
		o.DidCreateThread(t)
	}
	return t
}

// ThreadExiting notifies observers and removes the thread.
func (p *Process) ThreadExiting(koid uint64) {
	t, ok := p.threads[koid]
	if !ok {
		return
	}

	for _, o := range p.snapshotObservers() {
		o.WillDestroyThread(t)
	}
	delete(p.threads, koid)
	t.state = ThreadDead
	t.destroyed = true
}

// Modules returns the loaded modules ordered by base address.
func (p *Process) Modules() []Module {
	out := make([]Module, len(p.modules))
	copy(out, p.modules)
	return out
}

// ModuleLoaded records m and notifies observers. A module with the same name and
// base is ignored.
func (p *Process) ModuleLoaded(m Module) {
	for _, v := range p.modules {
		if v.Name == m.Name && v.Base == m.Base {
			return
		}
	}
	p.modules = append(p.modules, m)
	sort.Slice(p.modules, func(i, j int) bool { return p.modules[i].Base < p.modules[j].Base })

	for _, o := range p.snapshotObservers() {
		o.DidLoadModule(p, m)
	}
}

// ModuleUnloaded notifies observers and forgets the module loaded at base.
func (p *Process) ModuleUnloaded(base uint64) {
	for i, m := range p.modules {
		if m.Base != base {
			continue
		}
		for _, o := range p.snapshotObservers() {
			o.WillUnloadModule(p, m)
		}
		p.modules = append(p.modules[:i], p.modules[i+1:]...)
		return
	}
}

// SetModules replaces the module list with mods: modules no longer present are
// unloaded, new ones loaded.
func (p *Process) SetModules(mods []Module) {
	keep := map[uint64]Module{}
	for _, m := range mods {
		keep[m.Base] = m
	}
	for _, m := range p.Modules() {
		if n, ok := keep[m.Base]; !ok || n.Name != m.Name {
			p.ModuleUnloaded(m.Base)
		}
	}
	for _, m := range mods {
		p.ModuleLoaded(m)
	}
}

func (p *Process) snapshotObservers() []ProcessObserver {
	out := make([]ProcessObserver, len(p.observers))
	copy(out, p.observers)
	return out
}
