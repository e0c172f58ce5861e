package breakpoint

import (
	"fmt"
	"sort"

	"github.com/hitzhangjie/rdbg/pkg/target"
)

// Location is one concrete address a breakpoint resolved to in one process.
// Locations are rebuilt on every resolution pass, don't hold on to them across
// mutations of the owning breakpoint.
type Location struct {
	bp      *Breakpoint
	process *target.Process
	address uint64
	enabled bool
}

func (l *Location) Process() *target.Process {
	return l.process
}

func (l *Location) Address() uint64 {
	return l.address
}

// IsEnabled reports the per-location bit. The location is only planted when the
// breakpoint's master Enabled bit is set too.
func (l *Location) IsEnabled() bool {
	return l.enabled
}

// SetEnabled toggles this location alone and syncs the breakpoint.
func (l *Location) SetEnabled(enabled bool) {
	if l.enabled == enabled {
		return
	}
	l.enabled = enabled
	if l.bp != nil && l.bp.ref.Get() != nil {
		l.bp.sync(nil)
	}
}

func (l *Location) String() string {
	return fmt.Sprintf("%s@%#x", l.process, l.address)
}

func sortLocations(locs []*Location) {
	sort.Slice(locs, func(i, j int) bool {
		if ki, kj := locs[i].process.Koid(), locs[j].process.Koid(); ki != kj {
			return ki < kj
		}
		return locs[i].address < locs[j].address
	})
}
