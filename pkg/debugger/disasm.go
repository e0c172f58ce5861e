package debugger

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// x86 instructions are at most 15 bytes long
const maxInstLen = 15

// Instruction is one decoded machine instruction.
type Instruction struct {
	Address uint64
	Bytes   []byte
	Text    string
}

// Disassemble decodes up to count instructions at addr, or at the selected
// thread's ip when addr is 0. Planted breakpoints show the original code.
func (d *Debugger) Disassemble(addr uint64, count int, syntax string) ([]Instruction, error) {
	if err := checkSyntax(syntax); err != nil {
		return nil, err
	}
	if addr == 0 {
		regs, err := d.Registers()
		if err != nil {
			return nil, err
		}
		addr = regs.IP
	}

	size := count * maxInstLen
	if size > 4096 {
		size = 4096
	}
	dat, err := d.ReadMemory(addr, uint32(size))
	if err != nil {
		return nil, fmt.Errorf("peek text error: %v", err)
	}
	return decode(addr, dat, count, syntax)
}

func decode(addr uint64, dat []byte, count int, syntax string) ([]Instruction, error) {
	var (
		out    []Instruction
		offset int
	)
	for len(out) < count && offset < len(dat) {
		inst, err := x86asm.Decode(dat[offset:], 64)
		if err != nil {
			if len(out) > 0 {
				// ran off the end of what was read
				break
			}
			return nil, fmt.Errorf("x86asm decode error: %v", err)
		}

		pc := addr + uint64(offset)
		asm, err := instSyntax(inst, syntax, pc)
		if err != nil {
			return nil, err
		}

		end := offset + inst.Len
		out = append(out, Instruction{Address: pc, Bytes: dat[offset:end], Text: asm})
		offset = end
	}
	return out, nil
}

func checkSyntax(syntax string) error {
	switch syntax {
	case "go", "gnu", "intel":
		return nil
	default:
		return fmt.Errorf("invalid asm syntax %q, want go, gnu or intel", syntax)
	}
}

func instSyntax(inst x86asm.Inst, syntax string, pc uint64) (string, error) {
	asm := ""
	switch syntax {
	case "go":
		asm = x86asm.GoSyntax(inst, pc, nil)
	case "gnu":
		asm = x86asm.GNUSyntax(inst, pc, nil)
	case "intel":
		asm = x86asm.IntelSyntax(inst, pc, nil)
	default:
		return "", checkSyntax(syntax)
	}
	return asm, nil
}
