package target

import "fmt"

// ThreadState 线程状态
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadStopped
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadStopped:
		return "stopped"
	case ThreadDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread 线程信息
type Thread struct {
	koid      uint64      // thread ID
	name      string      // thread name
	process   *Process    // process this thread belongs to
	state     ThreadState // last known state
	ip, sp    uint64      // registers reported with the last stop
	destroyed bool
}

func (t *Thread) Koid() uint64 {
	return t.koid
}

func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) Process() *Process {
	return t.process
}

func (t *Thread) State() ThreadState {
	return t.state
}

// InstructionPointer returns the pc reported with the last stop.
func (t *Thread) InstructionPointer() uint64 {
	return t.ip
}

// StackPointer returns the sp reported with the last stop.
func (t *Thread) StackPointer() uint64 {
	return t.sp
}

// Destroyed reports whether the thread already exited.
func (t *Thread) Destroyed() bool {
	return t.destroyed
}

// SetStopped records that the thread stopped at ip with stack pointer sp.
func (t *Thread) SetStopped(ip, sp uint64) {
	t.state = ThreadStopped
	t.ip = ip
	t.sp = sp
}

// SetRunning records that the thread was resumed.
func (t *Thread) SetRunning() {
	if t.state != ThreadDead {
		t.state = ThreadRunning
	}
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d", t.koid)
}
