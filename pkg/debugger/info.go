package debugger

import (
	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
)

// EventKind classifies an Event.
type EventKind int

const (
	EventStop EventKind = iota
	EventExit
	EventBreakpointFailure
)

func (k EventKind) String() string {
	switch k {
	case EventStop:
		return "stop"
	case EventExit:
		return "exit"
	case EventBreakpointFailure:
		return "breakpoint-failure"
	default:
		return "unknown"
	}
}

// Event is something the front end should show without being asked.
type Event struct {
	Kind      EventKind
	Process   uint64
	Thread    uint64
	Exception agent.ExceptionType
	IP        uint64
	Location  string
	// Hits lists the user breakpoints that fired, or the one that failed.
	Hits     []BreakpointInfo
	ExitCode int
	Err      error
}

// LocationInfo is one resolved address of a breakpoint.
type LocationInfo struct {
	Process uint64
	Address uint64
	Enabled bool
}

// BreakpointInfo is a copy of a breakpoint's state taken on the loop.
type BreakpointInfo struct {
	ID        uint32
	Name      string
	Location  string
	Enabled   bool
	OneShot   bool
	Installed bool
	HitCount  uint32
	StopMode  breakpoint.StopMode
	Locations []LocationInfo
}

// Pending reports a breakpoint that resolved nowhere yet.
func (b BreakpointInfo) Pending() bool {
	return len(b.Locations) == 0
}

func snapshot(bp *breakpoint.Breakpoint) BreakpointInfo {
	s := bp.Settings()
	info := BreakpointInfo{
		ID:        bp.ID(),
		Name:      s.Name,
		Location:  s.Location.String(),
		Enabled:   s.Enabled,
		OneShot:   s.OneShot,
		Installed: bp.IsInstalled(),
		HitCount:  bp.HitCount(),
		StopMode:  s.StopMode,
	}
	for _, loc := range bp.Locations() {
		info.Locations = append(info.Locations, LocationInfo{
			Process: loc.Process().Koid(),
			Address: loc.Address(),
			Enabled: loc.IsEnabled(),
		})
	}
	return info
}

// ThreadInfo describes one thread of a debugged process.
type ThreadInfo struct {
	Process  uint64
	Thread   uint64
	Name     string
	State    string
	IP       uint64
	Location string
	Current  bool
}
