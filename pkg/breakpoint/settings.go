package breakpoint

import (
	"fmt"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

// Scope is the population of processes and threads a breakpoint applies to.
type Scope int

const (
	ScopeSystem Scope = iota
	ScopeTarget
	ScopeThread
)

func (s Scope) String() string {
	switch s {
	case ScopeSystem:
		return "system"
	case ScopeTarget:
		return "target"
	case ScopeThread:
		return "thread"
	default:
		return "unknown"
	}
}

// StopMode is how much of the debuggee to halt on a hit.
type StopMode = agent.StopMode

const (
	StopNone    = agent.StopNone
	StopThread  = agent.StopThread
	StopProcess = agent.StopProcess
	StopAll     = agent.StopAll
)

// Kind is the breakpoint mechanism.
type Kind = agent.BreakpointType

const (
	KindSoftware  = agent.BreakpointSoftware
	KindHardware  = agent.BreakpointHardware
	KindReadWrite = agent.BreakpointReadWrite
	KindWrite     = agent.BreakpointWrite
)

// LocationType tells which fields of an InputLocation are meaningful.
type LocationType int

const (
	LocationNone LocationType = iota
	LocationSymbol
	LocationLine
	LocationAddress
)

func (t LocationType) String() string {
	switch t {
	case LocationNone:
		return "none"
	case LocationSymbol:
		return "symbol"
	case LocationLine:
		return "line"
	case LocationAddress:
		return "address"
	default:
		return "unknown"
	}
}

// InputLocation is the location the user asked for, before resolution.
type InputLocation struct {
	Type    LocationType
	Symbol  string
	File    string
	Line    int
	Address uint64
}

// SymbolLocation returns a location naming a function.
func SymbolLocation(name string) InputLocation {
	return InputLocation{Type: LocationSymbol, Symbol: name}
}

// LineLocation returns a file:line location.
func LineLocation(file string, line int) InputLocation {
	return InputLocation{Type: LocationLine, File: file, Line: line}
}

// AddressLocation returns a location at a fixed address.
func AddressLocation(addr uint64) InputLocation {
	return InputLocation{Type: LocationAddress, Address: addr}
}

func (l InputLocation) String() string {
	switch l.Type {
	case LocationSymbol:
		return l.Symbol
	case LocationLine:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	case LocationAddress:
		return fmt.Sprintf("%#x", l.Address)
	default:
		return "<none>"
	}
}

// Settings is everything the user can change about a breakpoint. It is a value
// type, Breakpoint hands out and takes copies.
//
// Target and Thread are weak references into the registry, a breakpoint never
// keeps them alive: when they go away the breakpoint degrades its scope.
type Settings struct {
	Name     string
	Scope    Scope
	Target   *target.Target
	Thread   *target.Thread
	Location InputLocation
	StopMode StopMode
	Enabled  bool
	OneShot  bool
	Kind     Kind
}

// DefaultSettings returns the settings of a freshly created breakpoint.
func DefaultSettings() Settings {
	return Settings{
		Scope:    ScopeSystem,
		StopMode: StopAll,
		Kind:     KindSoftware,
	}
}

// Validate checks scope and location consistency.
func (s Settings) Validate() error {
	switch s.Scope {
	case ScopeSystem:
		if s.Target != nil || s.Thread != nil {
			return &ValidationError{Reason: "system scope can't take a thread or target"}
		}
	case ScopeTarget:
		if s.Target == nil {
			return &ValidationError{Reason: "target scope requires a target"}
		}
		if s.Thread != nil {
			return &ValidationError{Reason: "target scope can't take a thread"}
		}
		if s.Target.Destroyed() {
			return &ValidationError{Reason: fmt.Sprintf("%s no longer exists", s.Target)}
		}
	case ScopeThread:
		if s.Target == nil || s.Thread == nil {
			return &ValidationError{Reason: "thread scope requires a target and a thread"}
		}
		if s.Thread.Destroyed() {
			return &ValidationError{Reason: fmt.Sprintf("%s no longer exists", s.Thread)}
		}
		if p := s.Thread.Process(); p == nil || p.Target() != s.Target {
			return &ValidationError{Reason: fmt.Sprintf("%s does not belong to %s", s.Thread, s.Target)}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown scope %d", s.Scope)}
	}

	switch s.Location.Type {
	case LocationNone:
	case LocationSymbol:
		if s.Location.Symbol == "" {
			return &ValidationError{Reason: "symbol location requires a name"}
		}
	case LocationLine:
		if s.Location.File == "" || s.Location.Line <= 0 {
			return &ValidationError{Reason: "line location requires a file and a positive line"}
		}
	case LocationAddress:
		if s.Scope == ScopeSystem {
			return &ValidationError{Reason: "address locations must be scoped to a target or thread"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown location type %d", s.Location.Type)}
	}

	if s.StopMode < StopNone || s.StopMode > StopAll {
		return &ValidationError{Reason: fmt.Sprintf("unknown stop mode %d", s.StopMode)}
	}
	return nil
}
