package target

// SystemObserver is notified about processes and targets coming and going.
type SystemObserver interface {
	// DidCreateProcess is called after a process was attached to its target.
	DidCreateProcess(p *Process)
	// WillDestroyProcess is called before the process is detached from its
	// target, after every process observer has seen WillDestroyProcess.
	WillDestroyProcess(p *Process, exitCode int)
	// WillDestroyTarget is called before a target is removed from the system.
	WillDestroyTarget(t *Target)
}

// ProcessObserver is notified about what happens inside one process.
type ProcessObserver interface {
	DidLoadModule(p *Process, m Module)
	WillUnloadModule(p *Process, m Module)
	DidCreateThread(t *Thread)
	WillDestroyThread(t *Thread)
	WillDestroyProcess(p *Process, exitCode int)
}

// NopProcessObserver can be embedded to implement only part of ProcessObserver.
type NopProcessObserver struct{}

func (NopProcessObserver) DidLoadModule(*Process, Module)    {}
func (NopProcessObserver) WillUnloadModule(*Process, Module) {}
func (NopProcessObserver) DidCreateThread(*Thread)           {}
func (NopProcessObserver) WillDestroyThread(*Thread)         {}
func (NopProcessObserver) WillDestroyProcess(*Process, int)  {}

// NopSystemObserver can be embedded to implement only part of SystemObserver.
type NopSystemObserver struct{}

func (NopSystemObserver) DidCreateProcess(*Process)        {}
func (NopSystemObserver) WillDestroyProcess(*Process, int) {}
func (NopSystemObserver) WillDestroyTarget(*Target)        {}
