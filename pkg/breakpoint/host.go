package breakpoint

import (
	"log/slog"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/target"
)

// SymbolResolver turns symbolic locations into addresses in one process.
type SymbolResolver interface {
	AddressesForFunction(p *target.Process, name string) []uint64
	AddressesForLine(p *target.Process, file string, line int) []uint64
	// CanonicalizeFileMatches returns every known source path the requested
	// file name may refer to, e.g. both a relative and an absolute match.
	CanonicalizeFileMatches(p *target.Process, file string) []string
}

// Controller decides what happens when an internal breakpoint is hit. It must
// not do anything beyond returning the action; deferred work must be posted.
type Controller interface {
	HitAction(bp *Breakpoint, thread *target.Thread) Action
}

// Host is what a Breakpoint needs from the session that owns it.
type Host interface {
	// Post runs fn later on the session loop.
	Post(fn func())
	// Remote returns the agent connection. Completions must arrive on the loop.
	Remote() agent.Remote
	Resolver() SymbolResolver
	// Processes returns every live process.
	Processes() []*target.Process
	Logger() *slog.Logger
	// BreakpointUpdateFailed reports a failed sync nobody waited for.
	BreakpointUpdateFailed(bp *Breakpoint, err error)
}
