package target

import "fmt"

// Target is a slot for one debugged program. It outlives the processes that
// run in it, so a restarted program gets a new Process under the same Target.
type Target struct {
	id        int
	system    *System
	process   *Process
	destroyed bool
}

func (t *Target) ID() int {
	return t.id
}

func (t *Target) System() *System {
	return t.system
}

// Process returns the running process or nil.
func (t *Target) Process() *Process {
	return t.process
}

// Destroyed reports whether the target was removed from its system.
func (t *Target) Destroyed() bool {
	return t.destroyed
}

func (t *Target) String() string {
	return fmt.Sprintf("target %d", t.id)
}

// ProcessStarted creates the process running under this target and notifies
// system observers. An existing process is torn down first.
func (t *Target) ProcessStarted(koid uint64, name string) *Process {
	if t.process != nil {
		t.ProcessExited(0)
	}

	p := &Process{
		koid:    koid,
		name:    name,
		target:  t,
		threads: map[uint64]*Thread{},
	}
	t.process = p

	for _, o := range t.system.snapshotObservers() {
		o.DidCreateProcess(p)
	}
	return p
}

// ProcessExited tears down the running process: every thread is destroyed
// first, then process observers and system observers see WillDestroyProcess.
func (t *Target) ProcessExited(exitCode int) {
	p := t.process
	if p == nil {
		return
	}

	for _, th := range p.Threads() {
		p.ThreadExiting(th.koid)
	}

	for _, o := range p.snapshotObservers() {
		o.WillDestroyProcess(p, exitCode)
	}
	for _, o := range t.system.snapshotObservers() {
		o.WillDestroyProcess(p, exitCode)
	}

	p.destroyed = true
	p.observers = nil
	t.process = nil
}
