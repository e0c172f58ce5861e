package symbol

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hitzhangjie/rdbg/pkg/target"
)

// Resolver resolves symbols against the modules loaded in a process. Binaries
// are read once per path and cached; it is used from the session loop only.
type Resolver struct {
	main  string
	cache map[string]*BinaryInfo
	load  func(path string) (*BinaryInfo, error)
}

// NewResolver creates a resolver. mainBinary, if set, is used for processes
// the agent didn't report modules for yet.
func NewResolver(mainBinary string) *Resolver {
	return &Resolver{
		main:  mainBinary,
		cache: map[string]*BinaryInfo{},
		load:  Analyze,
	}
}

// Add registers already analyzed debug info for path.
func (r *Resolver) Add(path string, bi *BinaryInfo) {
	r.cache[path] = bi
}

type loaded struct {
	bi   *BinaryInfo
	bias uint64
}

func (r *Resolver) binary(path string) *BinaryInfo {
	if bi, ok := r.cache[path]; ok {
		return bi
	}
	bi, err := r.load(path)
	if err != nil {
		// misses are cached too
		bi = nil
	}
	r.cache[path] = bi
	return bi
}

func (r *Resolver) binaries(p *target.Process) []loaded {
	var out []loaded
	if p != nil {
		for _, m := range p.Modules() {
			if m.Path == "" {
				continue
			}
			bi := r.binary(m.Path)
			if bi == nil {
				continue
			}
			var bias uint64
			if bi.PIE {
				bias = m.Base
			}
			out = append(out, loaded{bi: bi, bias: bias})
		}
	}
	if len(out) == 0 && r.main != "" {
		if bi := r.binary(r.main); bi != nil {
			out = append(out, loaded{bi: bi})
		}
	}
	return out
}

// AddressesForFunction returns the post-prologue address of every function
// matching name.
func (r *Resolver) AddressesForFunction(p *target.Process, name string) []uint64 {
	var out []uint64
	for _, l := range r.binaries(p) {
		for _, fn := range l.bi.LookupFunctions(name) {
			out = append(out, l.bi.FunctionEntry(fn)+l.bias)
		}
	}
	return dedup(out)
}

// AddressesForLine resolves a canonical file name and line.
func (r *Resolver) AddressesForLine(p *target.Process, file string, line int) []uint64 {
	var out []uint64
	for _, l := range r.binaries(p) {
		pcs, err := l.bi.FileLineToPCs(file, line)
		if err != nil {
			continue
		}
		for _, pc := range pcs {
			out = append(out, pc+l.bias)
		}
	}
	return dedup(out)
}

// CanonicalizeFileMatches returns the source files file may refer to: an exact
// match, or every file whose trailing path components equal file.
func (r *Resolver) CanonicalizeFileMatches(p *target.Process, file string) []string {
	file = filepath.Clean(file)

	seen := map[string]bool{}
	var out []string
	for _, l := range r.binaries(p) {
		for _, candidate := range l.bi.Files() {
			if seen[candidate] || !fileMatches(candidate, file) {
				continue
			}
			seen[candidate] = true
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out
}

func fileMatches(candidate, file string) bool {
	if candidate == file {
		return true
	}
	if filepath.IsAbs(file) {
		return false
	}
	return strings.HasSuffix(candidate, "/"+file)
}

// Describe formats pc as "function file:line" for display.
func (r *Resolver) Describe(p *target.Process, pc uint64) string {
	for _, l := range r.binaries(p) {
		if pc < l.bias {
			continue
		}
		fn, err := l.bi.PCToFunction(pc - l.bias)
		if err != nil {
			continue
		}
		file, line, err := l.bi.PCToFileLine(pc - l.bias)
		if err != nil {
			return fn.Name()
		}
		return fmt.Sprintf("%s %s:%d", fn.Name(), file, line)
	}
	return fmt.Sprintf("%#x", pc)
}

// FileLine maps pc back to its source position.
func (r *Resolver) FileLine(p *target.Process, pc uint64) (string, int, bool) {
	for _, l := range r.binaries(p) {
		if pc < l.bias {
			continue
		}
		if file, line, err := l.bi.PCToFileLine(pc - l.bias); err == nil {
			return file, line, true
		}
	}
	return "", 0, false
}

func dedup(addrs []uint64) []uint64 {
	if len(addrs) == 0 {
		return nil
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	out := addrs[:1]
	for _, a := range addrs[1:] {
		if a != out[len(out)-1] {
			out = append(out, a)
		}
	}
	return out
}
