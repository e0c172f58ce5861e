package symbol

import (
	"debug/dwarf"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/rdbg/pkg/target"
)

func testBinary() *BinaryInfo {
	bi := newBinaryInfo("/bin/demo")

	src := &dwarf.LineFile{Name: "/src/demo/main.go"}
	vendored := &dwarf.LineFile{Name: "/vendor/demo/main.go"}

	bi.Sources[src.Name] = map[int][]*dwarf.LineEntry{
		10: {{Address: 0x1000, File: src, Line: 10, IsStmt: true}},
		11: {{Address: 0x1004, File: src, Line: 11, IsStmt: true, PrologueEnd: true}},
		20: {
			{Address: 0x2010, File: src, Line: 20, IsStmt: true},
			{Address: 0x2000, File: src, Line: 20, IsStmt: true},
			{Address: 0x2008, File: src, Line: 20},
			{Address: 0x3008, File: src, Line: 20, IsStmt: true},
		},
	}
	bi.Sources[vendored.Name] = map[int][]*dwarf.LineEntry{
		5: {{Address: 0x4000, File: vendored, Line: 5, IsStmt: true}},
	}
	bi.Functions = []*Function{
		{name: "main.main", lowpc: 0x1000, highpc: 0x1100},
		{name: "main.helper", lowpc: 0x2000, highpc: 0x2100},
		{name: "other.helper", lowpc: 0x3000, highpc: 0x3100},
		{name: "vendor.init", lowpc: 0x4000, highpc: 0x4100},
	}
	return bi
}

func names(fns []*Function) []string {
	var out []string
	for _, fn := range fns {
		out = append(out, fn.Name())
	}
	return out
}

func TestLookupFunctions(t *testing.T) {
	bi := testBinary()

	tests := []struct {
		name string
		want []string
	}{
		{"main.main", []string{"main.main"}},
		{"main", []string{"main.main"}},
		{"helper", []string{"main.helper", "other.helper"}},
		{"main.helper", []string{"main.helper"}},
		{"nope", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(bi.LookupFunctions(tt.name)))
		})
	}
}

func TestFunctionEntrySkipsPrologue(t *testing.T) {
	bi := testBinary()

	fns := bi.LookupFunctions("main.main")
	require.Len(t, fns, 1)
	assert.Equal(t, uint64(0x1004), bi.FunctionEntry(fns[0]))

	fns = bi.LookupFunctions("vendor.init")
	require.Len(t, fns, 1)
	assert.Equal(t, uint64(0x4000), bi.FunctionEntry(fns[0]))
}

func TestFileLineToPCs(t *testing.T) {
	bi := testBinary()

	pcs, err := bi.FileLineToPCs("/src/demo/main.go", 20)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x2000, 0x3008}, pcs)

	_, err = bi.FileLineToPCs("/src/demo/main.go", 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPCLookups(t *testing.T) {
	bi := testBinary()

	fn, err := bi.PCToFunction(0x2050)
	require.NoError(t, err)
	assert.Equal(t, "main.helper", fn.Name())

	_, err = bi.PCToFunction(0x5000)
	assert.ErrorIs(t, err, ErrNotFound)

	file, line, err := bi.PCToFileLine(0x1002)
	require.NoError(t, err)
	assert.Equal(t, "/src/demo/main.go", file)
	assert.Equal(t, 10, line)
}

func TestParseLoc(t *testing.T) {
	file, line, err := ParseLoc("main.go:12")
	require.NoError(t, err)
	assert.Equal(t, "main.go", file)
	assert.Equal(t, 12, line)

	for _, bad := range []string{"main.go", "main.go:x", ":3", "main.go:0"} {
		_, _, err := ParseLoc(bad)
		assert.Error(t, err, bad)
	}
}

func TestAnalyzeSelf(t *testing.T) {
	bi, err := Analyze(os.Args[0])
	if err != nil {
		t.Skipf("test binary has no usable debug info: %v", err)
	}

	fns := bi.LookupFunctions("symbol.TestAnalyzeSelf")
	require.NotEmpty(t, fns)

	entry := bi.FunctionEntry(fns[0])
	fn, err := bi.PCToFunction(entry)
	require.NoError(t, err)
	assert.Equal(t, fns[0].Name(), fn.Name())
	assert.NotEmpty(t, bi.Files())
}

func newProcess(koid uint64, mods ...target.Module) *target.Process {
	p := target.NewSystem().NewTarget().ProcessStarted(koid, "demo")
	p.SetModules(mods)
	return p
}

func TestResolverAppliesLoadBias(t *testing.T) {
	bi := testBinary()
	bi.PIE = true

	r := NewResolver("")
	r.Add("/bin/demo", bi)
	p := newProcess(100, target.Module{Name: "demo", Path: "/bin/demo", Base: 0x550000, Size: 0x10000})

	assert.Equal(t, []uint64{0x551004}, r.AddressesForFunction(p, "main.main"))
	assert.Equal(t, []uint64{0x552000, 0x553008}, r.AddressesForLine(p, "/src/demo/main.go", 20))
	assert.Equal(t, "main.helper /src/demo/main.go:20", r.Describe(p, 0x552000))
	assert.Equal(t, "0x9", r.Describe(p, 9))

	file, line, ok := r.FileLine(p, 0x551002)
	require.True(t, ok)
	assert.Equal(t, "/src/demo/main.go", file)
	assert.Equal(t, 10, line)
	_, _, ok = r.FileLine(p, 0x10)
	assert.False(t, ok)
}

func TestResolverCanonicalizeFileMatches(t *testing.T) {
	r := NewResolver("/bin/demo")
	r.Add("/bin/demo", testBinary())
	p := newProcess(100)

	tests := []struct {
		file string
		want []string
	}{
		{"main.go", []string{"/src/demo/main.go", "/vendor/demo/main.go"}},
		{"demo/main.go", []string{"/src/demo/main.go", "/vendor/demo/main.go"}},
		{"src/demo/main.go", []string{"/src/demo/main.go"}},
		{"./src/demo/main.go", []string{"/src/demo/main.go"}},
		{"/src/demo/main.go", []string{"/src/demo/main.go"}},
		{"/demo/main.go", nil},
		{"ain.go", nil},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanonicalizeFileMatches(p, tt.file))
		})
	}
}

func TestResolverCachesMisses(t *testing.T) {
	r := NewResolver("")
	loads := 0
	r.load = func(path string) (*BinaryInfo, error) {
		loads++
		return nil, ErrNoDebugInfo
	}
	p := newProcess(100, target.Module{Name: "libc.so", Path: "/lib/libc.so", Base: 0x7000, Size: 0x1000})

	assert.Empty(t, r.AddressesForFunction(p, "malloc"))
	assert.Empty(t, r.AddressesForFunction(p, "free"))
	assert.Equal(t, 1, loads)
}
