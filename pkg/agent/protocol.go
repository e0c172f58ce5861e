// Package agent defines the contract between the debugger client and the debug
// agent that plants breakpoints in the debuggee, plus the transports that carry it.
//
// The core only depends on the Remote interface. Two implementations ship here:
// Client (a websocket connection to a remote agent, see Server) and Local (an
// in-process adapter over a Backend).
package agent

import (
	"fmt"
)

// BreakpointType is the mechanism the agent uses to plant a breakpoint.
type BreakpointType int

const (
	BreakpointSoftware BreakpointType = iota
	BreakpointHardware
	BreakpointReadWrite
	BreakpointWrite
)

func (t BreakpointType) String() string {
	switch t {
	case BreakpointSoftware:
		return "software"
	case BreakpointHardware:
		return "hardware"
	case BreakpointReadWrite:
		return "read-write"
	case BreakpointWrite:
		return "write"
	default:
		return "unknown"
	}
}

// StopMode is how much of the debuggee the agent halts on a hit.
type StopMode int

const (
	StopNone StopMode = iota
	StopThread
	StopProcess
	StopAll
)

func (m StopMode) String() string {
	switch m {
	case StopNone:
		return "none"
	case StopThread:
		return "thread"
	case StopProcess:
		return "process"
	case StopAll:
		return "all"
	default:
		return "unknown"
	}
}

// ProcessBreakpointSettings is one concrete place a breakpoint is planted.
// ThreadKoid 0 means every thread of the process.
type ProcessBreakpointSettings struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid,omitempty"`
	Address     uint64 `json:"address"`
}

// BreakpointSettings is the agent's view of one breakpoint.
type BreakpointSettings struct {
	ID        uint32                      `json:"id"`
	Type      BreakpointType              `json:"type"`
	Name      string                      `json:"name,omitempty"`
	OneShot   bool                        `json:"one_shot,omitempty"`
	StopMode  StopMode                    `json:"stop_mode"`
	Locations []ProcessBreakpointSettings `json:"locations"`
}

// Status is the agent's verdict on a request. A zero Status is success.
type Status struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s Status) OK() bool {
	return s.Code == 0
}

// Err converts a failed status into an error, nil on success.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError is an error reported by the agent itself.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	if e.Status.Message == "" {
		return fmt.Sprintf("agent error %d", e.Status.Code)
	}
	return fmt.Sprintf("agent error %d: %s", e.Status.Code, e.Status.Message)
}

const (
	StatusInvalidArgs = 1
	StatusNotFound    = 2
	StatusIOError     = 3
	StatusBadState    = 4
)

// Errorf builds a failed status.
func Errorf(code int, format string, args ...interface{}) Status {
	return Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

type AddOrChangeBreakpointRequest struct {
	Breakpoint BreakpointSettings `json:"breakpoint"`
}

type AddOrChangeBreakpointReply struct {
	Status Status `json:"status"`
	// Locations echoes the locations the agent actually planted.
	Locations []ProcessBreakpointSettings `json:"locations,omitempty"`
}

type RemoveBreakpointRequest struct {
	ID uint32 `json:"id"`
}

type RemoveBreakpointReply struct {
	Status Status `json:"status"`
}

// ResumeRequest resumes threads. ProcessKoid 0 resumes every process; an empty
// ThreadKoids resumes every thread of the process.
type ResumeRequest struct {
	ProcessKoid uint64   `json:"process_koid,omitempty"`
	ThreadKoids []uint64 `json:"thread_koids,omitempty"`
}

type ResumeReply struct {
	Status Status `json:"status"`
}

type ReadRegistersRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid"`
}

// Registers is the general purpose register subset the client cares about.
type Registers struct {
	IP uint64 `json:"ip"`
	SP uint64 `json:"sp"`
	BP uint64 `json:"bp"`
}

type ReadRegistersReply struct {
	Status    Status    `json:"status"`
	Registers Registers `json:"registers"`
}

type ReadMemoryRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	Address     uint64 `json:"address"`
	Size        uint32 `json:"size"`
}

type ReadMemoryReply struct {
	Status Status `json:"status"`
	Data   []byte `json:"data,omitempty"`
}

// Remote is the client side of the agent protocol. Every method is
// asynchronous: cb receives a transport error (the round trip did not complete)
// or the agent's reply. Implementations may call cb from any goroutine; wrap
// them with WithPoster to deliver completions on a session loop.
type Remote interface {
	AddOrChangeBreakpoint(req AddOrChangeBreakpointRequest, cb func(error, AddOrChangeBreakpointReply))
	RemoveBreakpoint(req RemoveBreakpointRequest, cb func(error, RemoveBreakpointReply))
	Resume(req ResumeRequest, cb func(error, ResumeReply))
	ReadRegisters(req ReadRegistersRequest, cb func(error, ReadRegistersReply))
	ReadMemory(req ReadMemoryRequest, cb func(error, ReadMemoryReply))
}
