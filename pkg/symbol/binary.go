// Package symbol reads DWARF debug info from ELF binaries and resolves
// functions and source lines to addresses.
package symbol

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a lookup has no match.
	ErrNotFound = errors.New("not found")
	// ErrNoDebugInfo is returned for binaries built without DWARF.
	ErrNoDebugInfo = errors.New("no debug info")
)

// BinaryInfo binary info
type BinaryInfo struct {
	Path         string
	Sources      map[string]map[int][]*dwarf.LineEntry // key=filename, val=map[lineno]lineEntries
	Functions    []*Function
	CompileUnits []*CompileUnit

	// PIE binaries are linked at 0 and relocated by the load bias
	PIE bool

	// only used for parsing purpose
	curCompileUnit *CompileUnit
	curFunction    *Function
}

func newBinaryInfo(path string) *BinaryInfo {
	return &BinaryInfo{
		Path:    path,
		Sources: make(map[string]map[int][]*dwarf.LineEntry),
	}
}

// Analyze Analyze executable `execFile` and return the binary info
func Analyze(execFile string) (*BinaryInfo, error) {
	file, err := elf.Open(execFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dwarfData, err := file.DWARF()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoDebugInfo, execFile, err)
	}

	bi := newBinaryInfo(execFile)
	bi.PIE = file.Type == elf.ET_DYN

	// parse .(z)debug_line and .(z)debug_info
	if err = bi.ParseLineAndInfo(dwarfData); err != nil {
		return nil, err
	}
	return bi, nil
}

// ParseLineAndInfo parse .(z)debug_line and .(z)debug_info sections
//
// unit entries: see DWARF v4 chapter 3.3.1 normal and partial compilation unit entries
func (bi *BinaryInfo) ParseLineAndInfo(dwarfData *dwarf.Data) error {
	rd := dwarfData.Reader()
	for {
		entry, err := rd.Next()
		if err != nil {
			return err
		}
		if entry == nil { // reaches the end
			break
		}

		switch entry.Tag {
		// parse compile unit and line table
		case dwarf.TagCompileUnit:
			cu := &CompileUnit{entry: entry, bi: bi}
			bi.curCompileUnit = cu
			bi.CompileUnits = append(bi.CompileUnits, cu)

			lr, err := dwarfData.LineReader(entry)
			if err != nil {
				return err
			}
			if lr == nil {
				continue
			}
			if err = cu.parseLineSection(lr); err != nil {
				return err
			}

		// parse subprogram
		case dwarf.TagSubprogram:
			fn := &Function{cu: bi.curCompileUnit}
			if err = fn.parseFrom(entry); err != nil {
				return err
			}
			// declarations and abstract origins of inlined functions carry no code
			if fn.lowpc == 0 && fn.highpc == 0 {
				bi.curFunction = nil
				continue
			}
			bi.curFunction = fn
			bi.Functions = append(bi.Functions, fn)
			if bi.curCompileUnit != nil {
				bi.curCompileUnit.functions = append(bi.curCompileUnit.functions, fn)
			}

		// parse variables defined in subprogram
		case dwarf.TagVariable:
			if bi.curFunction != nil {
				bi.curFunction.variables = append(bi.curFunction.variables, entry)
			}
		}
	}

	sort.Slice(bi.Functions, func(i, j int) bool { return bi.Functions[i].lowpc < bi.Functions[j].lowpc })
	return nil
}

// PCToFunction returns the function whose range covers PC
//
// note: not considered inline function
func (bi *BinaryInfo) PCToFunction(pc uint64) (*Function, error) {
	i := sort.Search(len(bi.Functions), func(i int) bool { return bi.Functions[i].highpc > pc })
	if i < len(bi.Functions) && bi.Functions[i].lowpc <= pc {
		return bi.Functions[i], nil
	}
	return nil, ErrNotFound
}

// LookupFunctions returns the functions named `name`. Without an exact match
// the name is matched against the trailing components of qualified names, so
// "main" finds "main.main" and "http.ListenAndServe" finds
// "net/http.ListenAndServe".
func (bi *BinaryInfo) LookupFunctions(name string) []*Function {
	var exact, suffix []*Function
	for _, fn := range bi.Functions {
		switch {
		case fn.name == name:
			exact = append(exact, fn)
		case strings.HasSuffix(fn.name, "."+name), strings.HasSuffix(fn.name, "/"+name):
			suffix = append(suffix, fn)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return suffix
}

// FunctionEntry returns the address a breakpoint on fn should use: the end of
// its prologue if the line table marks it, its low pc otherwise.
func (bi *BinaryInfo) FunctionEntry(fn *Function) uint64 {
	var best uint64
	for _, lines := range bi.Sources {
		for _, entries := range lines {
			for _, e := range entries {
				if e.PrologueEnd && e.Address >= fn.lowpc && e.Address < fn.highpc {
					if best == 0 || e.Address < best {
						best = e.Address
					}
				}
			}
		}
	}
	if best == 0 {
		return fn.lowpc
	}
	return best
}

// Files returns every source file named by the line tables.
func (bi *BinaryInfo) Files() []string {
	out := make([]string, 0, len(bi.Sources))
	for f := range bi.Sources {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// parseLoc parse location `loc` to file:lineno
func parseLoc(loc string) (string, int, error) {
	idx := strings.LastIndex(loc, ":")
	if idx <= 0 {
		return "", 0, errors.New("wrong loc should be like filename:lineno")
	}
	filename, linenostr := loc[:idx], loc[idx+1:]
	lineno, err := strconv.Atoi(linenostr)
	if err != nil || lineno <= 0 {
		return "", 0, errors.New("wrong loc should be like filename:lineno")
	}
	return filename, lineno, nil
}

// ParseLoc splits "file:line".
func ParseLoc(loc string) (string, int, error) {
	return parseLoc(loc)
}

// FileLineToPCs returns one breakpoint address per function that has code for
// `filename:lineno`: the lowest statement address of that line in it. Inlined
// or duplicated code yields several addresses.
func (bi *BinaryInfo) FileLineToPCs(filename string, lineno int) ([]uint64, error) {
	entries := bi.Sources[filename][lineno]
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	lowest := map[uint64]uint64{} // function lowpc -> address
	for _, e := range entries {
		if !e.IsStmt {
			continue
		}
		key := e.Address
		if fn, err := bi.PCToFunction(e.Address); err == nil {
			key = fn.lowpc
		}
		if addr, ok := lowest[key]; !ok || e.Address < addr {
			lowest[key] = e.Address
		}
	}
	if len(lowest) == 0 {
		return nil, ErrNotFound
	}

	out := make([]uint64, 0, len(lowest))
	for _, addr := range lowest {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// PCToFileLine returns the source position of the closest line entry at or
// below pc.
func (bi *BinaryInfo) PCToFileLine(pc uint64) (string, int, error) {
	if len(bi.Sources) == 0 {
		return "", 0, errors.New("no sources file")
	}

	var (
		found    bool
		bestPC   uint64
		filename string
		lineno   int
	)
	for file, lines := range bi.Sources {
		for ln, entries := range lines {
			for _, e := range entries {
				if e.Address == pc {
					return file, ln, nil
				}
				if e.Address < pc && (!found || e.Address > bestPC) {
					found, bestPC, filename, lineno = true, e.Address, file, ln
				}
			}
		}
	}
	if !found {
		return "", 0, ErrNotFound
	}
	return filename, lineno, nil
}
