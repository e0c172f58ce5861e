package agent

// Notification is a message the agent pushes without a request. The concrete
// types below are the only implementations.
type Notification interface {
	notificationType() string
}

type NotifyProcessStarting struct {
	Koid uint64 `json:"koid"`
	Name string `json:"name"`
}

type NotifyProcessExiting struct {
	Koid       uint64 `json:"koid"`
	ReturnCode int    `json:"return_code"`
}

type NotifyThreadStarting struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid"`
	Name        string `json:"name,omitempty"`
}

type NotifyThreadExiting struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid"`
}

// Module as reported by the agent.
type Module struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size,omitempty"`
}

// NotifyModules carries the full module list of a process.
type NotifyModules struct {
	ProcessKoid uint64   `json:"process_koid"`
	Modules     []Module `json:"modules"`
}

// ExceptionType classifies why a thread stopped.
type ExceptionType int

const (
	ExceptionUnknown ExceptionType = iota
	ExceptionSoftwareBreakpoint
	ExceptionHardwareBreakpoint
	ExceptionWatchpoint
	ExceptionSingleStep
	ExceptionSignal
)

func (t ExceptionType) String() string {
	switch t {
	case ExceptionSoftwareBreakpoint:
		return "software breakpoint"
	case ExceptionHardwareBreakpoint:
		return "hardware breakpoint"
	case ExceptionWatchpoint:
		return "watchpoint"
	case ExceptionSingleStep:
		return "single step"
	case ExceptionSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// BreakpointStats describes one breakpoint that fired.
type BreakpointStats struct {
	ID       uint32 `json:"id"`
	HitCount uint32 `json:"hit_count"`
	// ShouldDelete is set when the agent already dropped a one-shot breakpoint.
	ShouldDelete bool `json:"should_delete,omitempty"`
}

// NotifyException reports a stopped thread.
type NotifyException struct {
	ProcessKoid    uint64            `json:"process_koid"`
	ThreadKoid     uint64            `json:"thread_koid"`
	Type           ExceptionType     `json:"type"`
	IP             uint64            `json:"ip"`
	SP             uint64            `json:"sp"`
	HitBreakpoints []BreakpointStats `json:"hit_breakpoints,omitempty"`
}

func (NotifyProcessStarting) notificationType() string { return "process_starting" }
func (NotifyProcessExiting) notificationType() string  { return "process_exiting" }
func (NotifyThreadStarting) notificationType() string  { return "thread_starting" }
func (NotifyThreadExiting) notificationType() string   { return "thread_exiting" }
func (NotifyModules) notificationType() string         { return "modules" }
func (NotifyException) notificationType() string       { return "exception" }
