package debugger

import (
	"encoding/binary"
	"fmt"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
	"github.com/hitzhangjie/rdbg/pkg/control"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

type none = struct{}

// BreakOptions tweak a new user breakpoint.
type BreakOptions struct {
	Name    string
	OneShot bool
	// CurrentThread limits the breakpoint to the selected thread.
	CurrentThread bool
	// StopMode overrides the configured stop mode when set.
	StopMode *breakpoint.StopMode
}

func replyErr(err error, st agent.Status) error {
	if err != nil {
		return err
	}
	return st.Err()
}

// Break creates a user breakpoint at loc. A breakpoint the agent rejects is
// deleted again; one that resolves nowhere yet stays pending. Address
// breakpoints apply to the selected process only.
func (d *Debugger) Break(loc breakpoint.InputLocation, opts BreakOptions) (BreakpointInfo, error) {
	return await(d, func(done func(BreakpointInfo, error) bool) {
		settings := breakpoint.DefaultSettings()
		settings.Name = opts.Name
		settings.Location = loc
		settings.Enabled = true
		settings.OneShot = opts.OneShot
		settings.StopMode = d.stopMode
		if opts.StopMode != nil {
			settings.StopMode = *opts.StopMode
		}
		if opts.CurrentThread {
			th, err := d.currentThread()
			if err != nil {
				done(BreakpointInfo{}, err)
				return
			}
			settings.Scope = breakpoint.ScopeThread
			settings.Target = th.Process().Target()
			settings.Thread = th
		} else if loc.Type == breakpoint.LocationAddress {
			// an address only means something in one process
			p, err := d.currentProcess()
			if err != nil {
				done(BreakpointInfo{}, err)
				return
			}
			settings.Scope = breakpoint.ScopeTarget
			settings.Target = p.Target()
		}

		bp := d.s.CreateBreakpoint()
		bp.SetSettings(settings, func(err error) {
			if err != nil {
				d.s.DeleteBreakpoint(bp)
				done(BreakpointInfo{}, err)
				return
			}
			if !done(snapshot(bp), nil) {
				// nobody will ever see this breakpoint
				d.s.DeleteBreakpoint(bp)
			}
		})
	})
}

// Breakpoints lists the user breakpoints by id.
func (d *Debugger) Breakpoints() ([]BreakpointInfo, error) {
	return call(d, func() ([]BreakpointInfo, error) {
		var out []BreakpointInfo
		for _, bp := range d.s.Breakpoints() {
			out = append(out, snapshot(bp))
		}
		return out, nil
	})
}

func (d *Debugger) userBreakpoint(id uint32) (*breakpoint.Breakpoint, error) {
	bp := d.s.BreakpointByID(id)
	if bp == nil || bp.IsInternal() {
		return nil, fmt.Errorf("%w: %d", ErrNoBreakpoint, id)
	}
	return bp, nil
}

// Clear deletes one user breakpoint.
func (d *Debugger) Clear(id uint32) (BreakpointInfo, error) {
	return call(d, func() (BreakpointInfo, error) {
		bp, err := d.userBreakpoint(id)
		if err != nil {
			return BreakpointInfo{}, err
		}
		info := snapshot(bp)
		d.s.DeleteBreakpoint(bp)
		return info, nil
	})
}

// ClearAll deletes every user breakpoint and returns how many there were.
func (d *Debugger) ClearAll() (int, error) {
	return call(d, func() (int, error) {
		bps := d.s.Breakpoints()
		for _, bp := range bps {
			d.s.DeleteBreakpoint(bp)
		}
		return len(bps), nil
	})
}

// SetEnabled flips the master enabled bit of a user breakpoint.
func (d *Debugger) SetEnabled(id uint32, enabled bool) (BreakpointInfo, error) {
	return await(d, func(done func(BreakpointInfo, error) bool) {
		bp, err := d.userBreakpoint(id)
		if err != nil {
			done(BreakpointInfo{}, err)
			return
		}
		settings := bp.Settings()
		settings.Enabled = enabled
		bp.SetSettings(settings, func(err error) {
			done(snapshot(bp), err)
		})
	})
}

// Continue resumes every process.
func (d *Debugger) Continue() error {
	_, err := await(d, func(done func(none, error) bool) {
		if len(d.s.Processes()) == 0 {
			done(none{}, ErrNoProcess)
			return
		}
		d.s.Resume(nil, func(err error) { done(none{}, err) })
	})
	return err
}

// Until resumes the selected thread until it reaches loc. It returns once the
// thread is running again, the stop arrives as an Event.
func (d *Debugger) Until(loc breakpoint.InputLocation) error {
	_, err := await(d, func(done func(none, error) bool) {
		th, err := d.currentThread()
		if err != nil {
			done(none{}, err)
			return
		}
		control.UntilThread(d.s, th, loc, func(err error) { done(none{}, err) })
	})
	return err
}

// Finish runs the selected thread until the current function returns. The
// return address and frame come from the frame pointer chain.
func (d *Debugger) Finish() error {
	_, err := await(d, func(done func(none, error) bool) {
		fail := func(err error) { done(none{}, err) }

		th, err := d.currentThread()
		if err != nil {
			fail(err)
			return
		}
		pid := th.Process().Koid()
		remote := d.s.Remote()

		remote.ReadRegisters(agent.ReadRegistersRequest{ProcessKoid: pid, ThreadKoid: th.Koid()}, func(err error, regs agent.ReadRegistersReply) {
			if err = replyErr(err, regs.Status); err != nil {
				fail(err)
				return
			}
			// [bp] saved bp, [bp+8] return address
			fp := regs.Registers.BP
			remote.ReadMemory(agent.ReadMemoryRequest{ProcessKoid: pid, Address: fp + 8, Size: 8}, func(err error, mem agent.ReadMemoryReply) {
				if err = replyErr(err, mem.Status); err != nil {
					fail(err)
					return
				}
				if len(mem.Data) != 8 {
					fail(fmt.Errorf("short read at %#x", fp+8))
					return
				}
				ret := binary.LittleEndian.Uint64(mem.Data)
				// the caller's sp is above fp+8 once the frame is popped
				control.UntilThreadFrame(d.s, th, breakpoint.AddressLocation(ret), fp+8, fail)
			})
		})
	})
	return err
}

// Threads lists the threads of every process.
func (d *Debugger) Threads() ([]ThreadInfo, error) {
	return call(d, func() ([]ThreadInfo, error) {
		var out []ThreadInfo
		for _, p := range d.s.Processes() {
			for _, th := range p.Threads() {
				info := ThreadInfo{
					Process: p.Koid(),
					Thread:  th.Koid(),
					Name:    th.Name(),
					State:   th.State().String(),
					Current: p.Koid() == d.current.process && th.Koid() == d.current.thread,
				}
				if th.State() == target.ThreadStopped {
					info.IP = th.InstructionPointer()
					info.Location = d.describe(p, info.IP)
				}
				out = append(out, info)
			}
		}
		return out, nil
	})
}

// SelectThread makes thread koid the target of thread commands.
func (d *Debugger) SelectThread(koid uint64) error {
	_, err := call(d, func() (none, error) {
		for _, p := range d.s.Processes() {
			if th := p.ThreadByKoid(koid); th != nil {
				d.current.process, d.current.thread = p.Koid(), koid
				return none{}, nil
			}
		}
		return none{}, fmt.Errorf("no thread %d", koid)
	})
	return err
}

// Registers reads the registers of the selected thread.
func (d *Debugger) Registers() (agent.Registers, error) {
	return await(d, func(done func(agent.Registers, error) bool) {
		th, err := d.currentThread()
		if err != nil {
			done(agent.Registers{}, err)
			return
		}
		req := agent.ReadRegistersRequest{ProcessKoid: th.Process().Koid(), ThreadKoid: th.Koid()}
		d.s.Remote().ReadRegisters(req, func(err error, reply agent.ReadRegistersReply) {
			done(reply.Registers, replyErr(err, reply.Status))
		})
	})
}

// ReadMemory reads the selected process's memory.
func (d *Debugger) ReadMemory(addr uint64, size uint32) ([]byte, error) {
	return await(d, func(done func([]byte, error) bool) {
		p, err := d.currentProcess()
		if err != nil {
			done(nil, err)
			return
		}
		req := agent.ReadMemoryRequest{ProcessKoid: p.Koid(), Address: addr, Size: size}
		d.s.Remote().ReadMemory(req, func(err error, reply agent.ReadMemoryReply) {
			done(reply.Data, replyErr(err, reply.Status))
		})
	})
}

// Position is where the selected thread stopped.
type Position struct {
	IP       uint64
	Location string
	File     string
	Line     int
}

// Where returns the position of the selected thread.
func (d *Debugger) Where() (Position, error) {
	return call(d, func() (Position, error) {
		th, err := d.currentThread()
		if err != nil {
			return Position{}, err
		}
		pos := Position{IP: th.InstructionPointer()}
		pos.Location = d.describe(th.Process(), pos.IP)
		if d.symbols != nil {
			if file, line, ok := d.symbols.FileLine(th.Process(), pos.IP); ok {
				pos.File, pos.Line = file, line
			}
		}
		return pos, nil
	})
}
