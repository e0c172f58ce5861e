// Package agenttest provides a scripted agent.Remote for tests.
package agenttest

import (
	"sync"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

// AddCall is a recorded AddOrChangeBreakpoint request.
type AddCall struct {
	Req     agent.AddOrChangeBreakpointRequest
	cb      func(error, agent.AddOrChangeBreakpointReply)
	replied bool
}

// Reply answers the request. Replying twice is a no-op.
func (c *AddCall) Reply(err error, reply agent.AddOrChangeBreakpointReply) {
	if c.replied {
		return
	}
	c.replied = true
	c.cb(err, reply)
}

// RemoveCall is a recorded RemoveBreakpoint request.
type RemoveCall struct {
	Req     agent.RemoveBreakpointRequest
	cb      func(error, agent.RemoveBreakpointReply)
	replied bool
}

func (c *RemoveCall) Reply(err error, reply agent.RemoveBreakpointReply) {
	if c.replied {
		return
	}
	c.replied = true
	c.cb(err, reply)
}

// ResumeCall is a recorded Resume request.
type ResumeCall struct {
	Req     agent.ResumeRequest
	cb      func(error, agent.ResumeReply)
	replied bool
}

func (c *ResumeCall) Reply(err error, reply agent.ResumeReply) {
	if c.replied {
		return
	}
	c.replied = true
	c.cb(err, reply)
}

// Remote records every request. Unless Manual is set it answers immediately
// with AddErr/AddStatus, RemoveErr and ResumeErr.
type Remote struct {
	mu sync.Mutex

	Manual bool

	AddErr    error
	AddStatus agent.Status
	RemoveErr error
	ResumeErr error

	Registers map[uint64]agent.Registers // keyed by thread koid
	Memory    map[uint64][]byte          // keyed by start address

	adds    []*AddCall
	removes []*RemoveCall
	resumes []*ResumeCall
}

// NewRemote returns a Remote that answers every request with success.
func NewRemote() *Remote {
	return &Remote{
		Registers: map[uint64]agent.Registers{},
		Memory:    map[uint64][]byte{},
	}
}

func (r *Remote) AddOrChangeBreakpoint(req agent.AddOrChangeBreakpointRequest, cb func(error, agent.AddOrChangeBreakpointReply)) {
	r.mu.Lock()
	call := &AddCall{Req: req, cb: cb}
	r.adds = append(r.adds, call)
	manual, err, status := r.Manual, r.AddErr, r.AddStatus
	r.mu.Unlock()

	if !manual {
		call.Reply(err, agent.AddOrChangeBreakpointReply{Status: status, Locations: req.Breakpoint.Locations})
	}
}

func (r *Remote) RemoveBreakpoint(req agent.RemoveBreakpointRequest, cb func(error, agent.RemoveBreakpointReply)) {
	r.mu.Lock()
	call := &RemoveCall{Req: req, cb: cb}
	r.removes = append(r.removes, call)
	manual, err := r.Manual, r.RemoveErr
	r.mu.Unlock()

	if !manual {
		call.Reply(err, agent.RemoveBreakpointReply{})
	}
}

func (r *Remote) Resume(req agent.ResumeRequest, cb func(error, agent.ResumeReply)) {
	r.mu.Lock()
	call := &ResumeCall{Req: req, cb: cb}
	r.resumes = append(r.resumes, call)
	manual, err := r.Manual, r.ResumeErr
	r.mu.Unlock()

	if !manual {
		call.Reply(err, agent.ResumeReply{})
	}
}

func (r *Remote) ReadRegisters(req agent.ReadRegistersRequest, cb func(error, agent.ReadRegistersReply)) {
	r.mu.Lock()
	regs, ok := r.Registers[req.ThreadKoid]
	r.mu.Unlock()

	if !ok {
		cb(nil, agent.ReadRegistersReply{Status: agent.Errorf(agent.StatusNotFound, "no thread %d", req.ThreadKoid)})
		return
	}
	cb(nil, agent.ReadRegistersReply{Registers: regs})
}

func (r *Remote) ReadMemory(req agent.ReadMemoryRequest, cb func(error, agent.ReadMemoryReply)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for start, data := range r.Memory {
		if req.Address < start || req.Address+uint64(req.Size) > start+uint64(len(data)) {
			continue
		}
		off := req.Address - start
		out := make([]byte, req.Size)
		copy(out, data[off:off+uint64(req.Size)])
		cb(nil, agent.ReadMemoryReply{Data: out})
		return
	}
	cb(nil, agent.ReadMemoryReply{Status: agent.Errorf(agent.StatusIOError, "unmapped %#x", req.Address)})
}

// Adds returns the recorded add-or-change requests.
func (r *Remote) Adds() []*AddCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*AddCall(nil), r.adds...)
}

// Removes returns the recorded remove requests.
func (r *Remote) Removes() []*RemoveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RemoveCall(nil), r.removes...)
}

// Resumes returns the recorded resume requests.
func (r *Remote) Resumes() []*ResumeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ResumeCall(nil), r.resumes...)
}

// LastAdd returns the most recent add-or-change request or nil.
func (r *Remote) LastAdd() *AddCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.adds) == 0 {
		return nil
	}
	return r.adds[len(r.adds)-1]
}

// Reset forgets recorded requests.
func (r *Remote) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adds, r.removes, r.resumes = nil, nil, nil
}
