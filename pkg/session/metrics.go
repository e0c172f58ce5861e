package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stopEvents tracks dispatched stop notifications by resulting action
	stopEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdbg_session_stop_events_total",
			Help: "Total thread stop notifications by dispatch action",
		},
		[]string{"action"},
	)

	// breakpointHits tracks resolved hits by breakpoint kind
	breakpointHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdbg_session_breakpoint_hits_total",
			Help: "Total breakpoint hits by internal or user breakpoint",
		},
		[]string{"kind"},
	)

	// unknownHits tracks hit ids no local breakpoint matched
	unknownHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rdbg_session_unknown_hits_total",
			Help: "Total hit breakpoint ids without a local breakpoint",
		},
	)

	// resumes tracks resume requests by scope
	resumes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdbg_session_resumes_total",
			Help: "Total resume requests issued by the dispatcher by scope",
		},
		[]string{"scope"},
	)

	// updateFailures tracks breakpoint syncs that failed without a waiting caller
	updateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rdbg_session_breakpoint_update_failures_total",
			Help: "Total background breakpoint updates rejected by the agent",
		},
	)

	// liveBreakpoints tracks the number of breakpoints owned by sessions
	liveBreakpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rdbg_session_breakpoints",
			Help: "Number of live breakpoints, internal ones included",
		},
	)
)

func recordHit(internal bool) {
	kind := "user"
	if internal {
		kind = "internal"
	}
	breakpointHits.WithLabelValues(kind).Inc()
}
