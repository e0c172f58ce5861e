package symbol

import (
	"debug/dwarf"
)

// Function function
//
// see DWARFv4 3.3 subroutine and entry point entries
type Function struct {
	name     string
	lowpc    uint64
	highpc   uint64
	declFile int64
	external bool

	entry     *dwarf.Entry
	variables []*dwarf.Entry
	cu        *CompileUnit
}

func (f *Function) Name() string {
	return f.name
}

// LowPC is the first instruction of the function.
func (f *Function) LowPC() uint64 {
	return f.lowpc
}

// HighPC is the first address past the function.
func (f *Function) HighPC() uint64 {
	return f.highpc
}

func (f *Function) Variables() []*dwarf.Entry {
	return f.variables
}

func (f *Function) parseFrom(curEntry *dwarf.Entry) error {
	var (
		highpc      uint64
		highpcIsLen bool
	)

	for _, field := range curEntry.Field {
		switch field.Attr {
		case dwarf.AttrName:
			if val, ok := field.Val.(string); ok {
				f.name = val
			}
		case dwarf.AttrLowpc:
			if val, ok := field.Val.(uint64); ok {
				f.lowpc = val
			}
		case dwarf.AttrHighpc:
			// DWARF 4 allows high_pc as an offset from low_pc
			switch val := field.Val.(type) {
			case uint64:
				highpc = val
			case int64:
				highpc, highpcIsLen = uint64(val), true
			}
		case dwarf.AttrDeclFile:
			if val, ok := field.Val.(int64); ok {
				f.declFile = val
			}
		case dwarf.AttrExternal:
			if val, ok := field.Val.(bool); ok {
				f.external = val
			}
		}
	}

	if highpcIsLen {
		highpc += f.lowpc
	}
	f.highpc = highpc
	f.entry = curEntry
	return nil
}
