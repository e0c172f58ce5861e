package agent

import "sort"

// world is the live process table as seen through notifications.
type world struct {
	procs map[uint64]*worldProcess
}

type worldProcess struct {
	start   NotifyProcessStarting
	threads map[uint64]NotifyThreadStarting
	modules *NotifyModules
}

func newWorld() *world {
	return &world{procs: map[uint64]*worldProcess{}}
}

func (w *world) apply(n Notification) {
	switch n := n.(type) {
	case NotifyProcessStarting:
		w.procs[n.Koid] = &worldProcess{start: n, threads: map[uint64]NotifyThreadStarting{}}
	case NotifyProcessExiting:
		delete(w.procs, n.Koid)
	case NotifyThreadStarting:
		if p, ok := w.procs[n.ProcessKoid]; ok {
			p.threads[n.ThreadKoid] = n
		}
	case NotifyThreadExiting:
		if p, ok := w.procs[n.ProcessKoid]; ok {
			delete(p.threads, n.ThreadKoid)
		}
	case NotifyModules:
		if p, ok := w.procs[n.ProcessKoid]; ok {
			p.modules = &n
		}
	}
}

// replay returns the notifications that rebuild the table, processes and
// threads in koid order.
func (w *world) replay() []Notification {
	var out []Notification
	for _, koid := range sortedKeys(w.procs) {
		p := w.procs[koid]
		out = append(out, p.start)
		for _, tid := range sortedKeys(p.threads) {
			out = append(out, p.threads[tid])
		}
		if p.modules != nil {
			out = append(out, *p.modules)
		}
	}
	return out
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
