// Package target is the debugger's view of the debuggee population: the system,
// its targets (a slot that may hold one running process), processes, threads and
// loaded modules.
//
// The registry is not safe for concurrent use. It is mutated from the session
// loop only, and observers are called synchronously from the mutating call.
package target

import (
	"sort"
)

// System is the root of the registry.
type System struct {
	targets   []*Target
	nextID    int
	observers []SystemObserver
}

// NewSystem creates an empty system.
func NewSystem() *System {
	return &System{nextID: 1}
}

// AddObserver registers o for system level notifications.
func (s *System) AddObserver(o SystemObserver) {
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters o.
func (s *System) RemoveObserver(o SystemObserver) {
	for i, v := range s.observers {
		if v == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// NewTarget creates a target without a process.
func (s *System) NewTarget() *Target {
	t := &Target{id: s.nextID, system: s}
	s.nextID++
	s.targets = append(s.targets, t)
	return t
}

// Targets returns all live targets ordered by id.
func (s *System) Targets() []*Target {
	out := make([]*Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Processes returns every live process ordered by koid.
func (s *System) Processes() []*Process {
	var out []*Process
	for _, t := range s.targets {
		if t.process != nil {
			out = append(out, t.process)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].koid < out[j].koid })
	return out
}

// ProcessByKoid returns the live process with the given koid or nil.
func (s *System) ProcessByKoid(koid uint64) *Process {
	for _, t := range s.targets {
		if t.process != nil && t.process.koid == koid {
			return t.process
		}
	}
	return nil
}

// TargetForNewProcess returns the first target without a process, creating one
// if every target is busy.
func (s *System) TargetForNewProcess() *Target {
	for _, t := range s.targets {
		if t.process == nil {
			return t
		}
	}
	return s.NewTarget()
}

// DestroyTarget tears down the target's process (if any), notifies observers
// and removes the target.
func (s *System) DestroyTarget(t *Target) {
	if t == nil || t.destroyed {
		return
	}
	if t.process != nil {
		t.ProcessExited(0)
	}

	for _, o := range s.snapshotObservers() {
		o.WillDestroyTarget(t)
	}

	for i, v := range s.targets {
		if v == t {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			break
		}
	}
	t.destroyed = true
}

func (s *System) snapshotObservers() []SystemObserver {
	out := make([]SystemObserver, len(s.observers))
	copy(out, s.observers)
	return out
}
