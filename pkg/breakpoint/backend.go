package breakpoint

import (
	"fmt"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

// sync pushes the enabled locations to the agent, or removes the breakpoint
// there when nothing is left to plant. cb always runs asynchronously.
func (b *Breakpoint) sync(cb func(error)) {
	switch {
	case b.hasEnabledLocation():
		b.sendAddOrChange(cb)
	case b.installed:
		b.sendRemove(cb, false)
	default:
		if cb != nil {
			b.host.Post(func() { cb(nil) })
		}
	}
}

// agentSettings builds the agent's view of the breakpoint from the enabled
// locations.
func (b *Breakpoint) agentSettings() agent.BreakpointSettings {
	s := agent.BreakpointSettings{
		ID:       b.id,
		Type:     b.settings.Kind,
		Name:     b.settings.Name,
		OneShot:  b.settings.OneShot,
		StopMode: b.settings.StopMode,
	}

	var threadKoid uint64
	if b.settings.Scope == ScopeThread && b.settings.Thread != nil {
		threadKoid = b.settings.Thread.Koid()
	}

	for _, loc := range b.Locations() {
		if !loc.enabled {
			continue
		}
		s.Locations = append(s.Locations, agent.ProcessBreakpointSettings{
			ProcessKoid: loc.process.Koid(),
			ThreadKoid:  threadKoid,
			Address:     loc.address,
		})
	}
	return s
}

func (b *Breakpoint) sendAddOrChange(cb func(error)) {
	req := agent.AddOrChangeBreakpointRequest{Breakpoint: b.agentSettings()}
	ref, host, id := b.ref, b.host, b.id

	host.Logger().Debug("install breakpoint", "bp_id", id, "locations", len(req.Breakpoint.Locations))
	b.adding++

	host.Remote().AddOrChangeBreakpoint(req, func(err error, reply agent.AddOrChangeBreakpointReply) {
		if err == nil {
			if serr := reply.Status.Err(); serr != nil {
				err = &SetError{ID: id, Cause: serr}
			}
		}

		bp := ref.Get()
		if bp != nil {
			bp.adding--
			if err != nil {
				// the agent state is unknown or it dropped the breakpoint,
				// either way keep the settings and let the user retry
				bp.settings.Enabled = false
				bp.installed = false
			} else {
				bp.installed = true
			}
		}
		complete(host, bp, id, cb, err)
	})
}

// sendRemove asks the agent to drop the breakpoint. Best effort removals come
// from Destroy and don't report back.
func (b *Breakpoint) sendRemove(cb func(error), bestEffort bool) {
	req := agent.RemoveBreakpointRequest{ID: b.id}
	ref, host, id := b.ref, b.host, b.id

	host.Logger().Debug("remove breakpoint", "bp_id", id)

	host.Remote().RemoveBreakpoint(req, func(err error, reply agent.RemoveBreakpointReply) {
		if err == nil {
			if serr := reply.Status.Err(); serr != nil {
				err = fmt.Errorf("%w: breakpoint %d: %v", ErrBreakpointRemove, id, serr)
			}
		}
		if bestEffort {
			if err != nil {
				host.Logger().Debug("remove destroyed breakpoint", "bp_id", id, "err", err)
			}
			return
		}

		bp := ref.Get()
		if bp != nil {
			bp.installed = false
		}
		complete(host, bp, id, cb, err)
	})
}

func complete(host Host, bp *Breakpoint, id uint32, cb func(error), err error) {
	if cb != nil {
		cb(err)
		return
	}
	if err == nil {
		return
	}
	if bp == nil {
		host.Logger().Warn("breakpoint update failed after delete", "bp_id", id, "err", err)
		return
	}
	host.BreakpointUpdateFailed(bp, err)
}
