package debugger

import (
	"encoding/binary"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

// Frame is one entry of a backtrace.
type Frame struct {
	PC       uint64
	Location string
}

// Backtrace walks the frame pointer chain of the selected thread, innermost
// frame first. The walk ends at a zero or non-increasing frame pointer, an
// unreadable frame, or after max frames.
func (d *Debugger) Backtrace(max int) ([]Frame, error) {
	return await(d, func(done func([]Frame, error) bool) {
		th, err := d.currentThread()
		if err != nil {
			done(nil, err)
			return
		}
		p := th.Process()
		pid := p.Koid()
		remote := d.s.Remote()

		remote.ReadRegisters(agent.ReadRegistersRequest{ProcessKoid: pid, ThreadKoid: th.Koid()}, func(err error, regs agent.ReadRegistersReply) {
			if err = replyErr(err, regs.Status); err != nil {
				done(nil, err)
				return
			}

			frames := []Frame{{PC: regs.Registers.IP, Location: d.describe(p, regs.Registers.IP)}}
			var walk func(fp uint64)
			walk = func(fp uint64) {
				if fp == 0 || len(frames) >= max {
					done(frames, nil)
					return
				}
				// [fp] caller's fp, [fp+8] return address
				remote.ReadMemory(agent.ReadMemoryRequest{ProcessKoid: pid, Address: fp, Size: 16}, func(err error, mem agent.ReadMemoryReply) {
					if replyErr(err, mem.Status) != nil || len(mem.Data) != 16 {
						done(frames, nil)
						return
					}
					next := binary.LittleEndian.Uint64(mem.Data[:8])
					ret := binary.LittleEndian.Uint64(mem.Data[8:])
					if ret == 0 {
						done(frames, nil)
						return
					}
					frames = append(frames, Frame{PC: ret, Location: d.describe(p, ret)})
					if next <= fp {
						done(frames, nil)
						return
					}
					walk(next)
				})
			}
			walk(regs.Registers.BP)
		})
	})
}
