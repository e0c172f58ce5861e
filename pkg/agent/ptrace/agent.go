//go:build linux && amd64

package ptrace

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

// Agent traces local processes. Process koids are pids, thread koids are tids.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	reqs      chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// everything below is owned by the ptrace thread
	procs    map[int]*process
	owner    map[int]*process // tid -> process
	early    map[int]bool     // clones that stopped before their parent's clone event
	bps      map[uint32]*breakpoint
	sites    map[siteKey]*site
	deferred []waitEvent
}

type process struct {
	pid      int
	name     string
	launched bool
	threads  map[int]*thread
	modules  []agent.Module
}

type thread struct {
	tid     int
	stopped bool
	// signal to deliver when the thread is resumed
	signal int
	// fresh clones start with a SIGSTOP we swallow
	fresh bool
	// a SIGSTOP sent by interrupt has not been reaped yet
	expectStop bool
	// a stop of this thread is queued in Agent.deferred
	deferred bool
}

type waitEvent struct {
	tid    int
	status unix.WaitStatus
}

func (p *process) sortedThreads() []*thread {
	out := make([]*thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tid < out[j].tid })
	return out
}

func (p *process) anyStopped() *thread {
	for _, t := range p.sortedThreads() {
		if t.stopped && !t.deferred {
			return t
		}
	}
	return nil
}

// New starts the ptrace thread.
func New(cfg Config) *Agent {
	cfg.setDefaults()
	a := &Agent{
		cfg:    cfg,
		logger: rlog.WithComponent(cfg.Logger, "ptrace"),
		reqs:   make(chan func()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		procs:  map[int]*process{},
		owner:  map[int]*process{},
		early:  map[int]bool{},
		bps:    map[uint32]*breakpoint{},
		sites:  map[siteKey]*site{},
	}
	go a.run()
	return a
}

// run is the ptrace thread.
//
// issue: https://github.com/golang/go/issues/7699
// ptrace请求必须来自同一个tracer线程，否则内核会返回ESRCH
func (a *Agent) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-a.reqs:
			fn()
			a.flushDeferred()
		case <-ticker.C:
			a.poll()
		case <-a.stop:
			a.shutdown()
			return
		}
	}
}

// exec runs fn on the ptrace thread and waits for it.
func (a *Agent) exec(fn func()) error {
	finished := make(chan struct{})
	select {
	case a.reqs <- func() {
		defer close(finished)
		fn()
	}:
	case <-a.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// Close kills launched processes, detaches from attached ones and stops the
// ptrace thread.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

func (a *Agent) shutdown() {
	for _, p := range a.sortedProcs() {
		if p.launched {
			_ = unix.Kill(p.pid, unix.SIGKILL)
			continue
		}
		a.detach(p)
	}
}

func (a *Agent) sortedProcs() []*process {
	out := make([]*process, 0, len(a.procs))
	for _, p := range a.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pid < out[j].pid })
	return out
}

// Launch starts path under the tracer. The process is stopped at its first
// instruction until a Resume request.
func (a *Agent) Launch(path string, args []string) (int, error) {
	var (
		pid int
		err error
	)
	if xerr := a.exec(func() { pid, err = a.launch(path, args) }); xerr != nil {
		return 0, xerr
	}
	return pid, err
}

func (a *Agent) launch(path string, args []string) (int, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = a.cfg.Stdin
	cmd.Stdout = a.cfg.Stdout
	cmd.Stderr = a.cfg.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:  true, // implies PTRACE_TRACEME
		Setpgid: true,
	}
	cmd.Env = append(os.Environ(), "GODEBUG=asyncpreemptoff=1")

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", path, err)
	}
	pid := cmd.Process.Pid

	// the tracee stops with SIGTRAP once execve succeeded
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, unix.WALL, nil); err != nil {
		return 0, fmt.Errorf("wait %d: %w", pid, err)
	}
	if !ws.Stopped() {
		return 0, fmt.Errorf("process %d did not stop at exec: %s", pid, describe(ws))
	}

	// trace newly created threads
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACECLONE); err != nil {
		_ = unix.Kill(pid, unix.SIGKILL)
		return 0, fmt.Errorf("set PTRACE_O_TRACECLONE: %w", err)
	}

	p := a.addProcess(pid, filepath.Base(path), true)
	a.addThread(p, pid).stopped = true
	a.announce(p)

	a.logger.Info("process launched", rlog.ProcessKey, pid, "path", path)
	return pid, nil
}

// Attach traces every thread of a running process and stops it.
func (a *Agent) Attach(pid int) error {
	var err error
	if xerr := a.exec(func() { err = a.attach(pid) }); xerr != nil {
		return xerr
	}
	return err
}

func (a *Agent) attach(pid int) error {
	if _, ok := a.procs[pid]; ok {
		return fmt.Errorf("process %d already attached", pid)
	}
	if !checkPid(pid) {
		return fmt.Errorf("process %d not existed", pid)
	}
	name, err := readProcComm(pid)
	if err != nil {
		return err
	}
	tids, err := loadThreadList(pid)
	if err != nil {
		return fmt.Errorf("load threads: %w", err)
	}

	p := a.addProcess(pid, name, false)
	for _, tid := range tids {
		if err := unix.PtraceAttach(tid); err != nil {
			if tid == pid {
				a.dropProcess(p)
				return fmt.Errorf("process %d attached error: %w", pid, err)
			}
			// the thread may have exited meanwhile
			a.logger.Debug("attach thread failed", rlog.ThreadKey, tid, "error", err)
			continue
		}

		var ws unix.WaitStatus
		if _, err := unix.Wait4(tid, &ws, unix.WALL, nil); err != nil || !ws.Stopped() {
			continue
		}
		if err := unix.PtraceSetOptions(tid, unix.PTRACE_O_TRACECLONE); err != nil {
			a.logger.Warn("set PTRACE_O_TRACECLONE failed", rlog.ThreadKey, tid, "error", err)
		}

		t := a.addThread(p, tid)
		t.stopped = true
		if sig := ws.StopSignal(); sig != unix.SIGSTOP {
			t.signal = int(sig)
		}
	}
	a.announce(p)

	a.logger.Info("process attached", rlog.ProcessKey, pid, "threads", len(p.threads))
	return nil
}

// Detach removes every breakpoint from pid and lets it run untraced.
func (a *Agent) Detach(pid int) error {
	var err error
	if xerr := a.exec(func() {
		p, ok := a.procs[pid]
		if !ok {
			err = fmt.Errorf("process %d not traced", pid)
			return
		}
		a.detach(p)
	}); xerr != nil {
		return xerr
	}
	return err
}

func (a *Agent) detach(p *process) {
	a.stopProcess(p)
	for key, st := range a.sites {
		if key.pid != p.pid {
			continue
		}
		if err := a.unplant(p, st); err != nil {
			a.logger.Warn("restore breakpoint failed", rlog.ProcessKey, p.pid, "addr", key.addr, "error", err)
		}
		delete(a.sites, key)
	}
	for _, t := range p.sortedThreads() {
		if !t.stopped {
			continue
		}
		if err := unix.PtraceDetach(t.tid); err != nil {
			a.logger.Debug("thread detach failed", rlog.ThreadKey, t.tid, "error", err)
		}
	}
	a.dropProcess(p)
	a.logger.Info("process detached", rlog.ProcessKey, p.pid)
}

func (a *Agent) addProcess(pid int, name string, launched bool) *process {
	p := &process{pid: pid, name: name, launched: launched, threads: map[int]*thread{}}
	a.procs[pid] = p
	return p
}

func (a *Agent) addThread(p *process, tid int) *thread {
	t := &thread{tid: tid}
	p.threads[tid] = t
	a.owner[tid] = p
	return t
}

func (a *Agent) dropProcess(p *process) {
	for tid := range p.threads {
		delete(a.owner, tid)
	}
	for key := range a.sites {
		if key.pid == p.pid {
			delete(a.sites, key)
		}
	}
	for _, bp := range a.bps {
		for key := range bp.sites {
			if key.pid == p.pid {
				delete(bp.sites, key)
			}
		}
	}
	delete(a.procs, p.pid)
}

// announce reports a newly traced process with its threads and modules.
func (a *Agent) announce(p *process) {
	a.cfg.Notify(agent.NotifyProcessStarting{Koid: uint64(p.pid), Name: p.name})
	for _, t := range p.sortedThreads() {
		a.cfg.Notify(agent.NotifyThreadStarting{ProcessKoid: uint64(p.pid), ThreadKoid: uint64(t.tid)})
	}
	a.refreshModules(p, true)
}

// refreshModules re-reads the mappings of p and reports them if they changed.
func (a *Agent) refreshModules(p *process, force bool) {
	mods, err := readModules(p.pid)
	if err != nil {
		a.logger.Debug("read modules failed", rlog.ProcessKey, p.pid, "error", err)
		return
	}
	if !force && sameModules(p.modules, mods) {
		return
	}
	p.modules = mods
	a.cfg.Notify(agent.NotifyModules{ProcessKoid: uint64(p.pid), Modules: mods})
}

func sameModules(a, b []agent.Module) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
