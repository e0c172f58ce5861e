//go:build !linux || !amd64

package ptrace

import (
	"github.com/hitzhangjie/rdbg/pkg/agent"
)

// Agent is unavailable on this platform, every operation fails.
type Agent struct{}

func New(cfg Config) *Agent { return &Agent{} }

func (a *Agent) Launch(path string, args []string) (int, error) { return 0, ErrUnsupported }
func (a *Agent) Attach(pid int) error                           { return ErrUnsupported }
func (a *Agent) Detach(pid int) error                           { return ErrUnsupported }
func (a *Agent) Close() error                                   { return nil }

func unsupported() agent.Status {
	return agent.Errorf(agent.StatusBadState, "%v", ErrUnsupported)
}

func (a *Agent) AddOrChangeBreakpoint(agent.AddOrChangeBreakpointRequest) agent.AddOrChangeBreakpointReply {
	return agent.AddOrChangeBreakpointReply{Status: unsupported()}
}

func (a *Agent) RemoveBreakpoint(agent.RemoveBreakpointRequest) agent.RemoveBreakpointReply {
	return agent.RemoveBreakpointReply{Status: unsupported()}
}

func (a *Agent) Resume(agent.ResumeRequest) agent.ResumeReply {
	return agent.ResumeReply{Status: unsupported()}
}

func (a *Agent) ReadRegisters(agent.ReadRegistersRequest) agent.ReadRegistersReply {
	return agent.ReadRegistersReply{Status: unsupported()}
}

func (a *Agent) ReadMemory(agent.ReadMemoryRequest) agent.ReadMemoryReply {
	return agent.ReadMemoryReply{Status: unsupported()}
}
