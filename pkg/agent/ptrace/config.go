// Package ptrace is a debug agent for local Linux processes. It implements
// agent.Backend with ptrace(2): software breakpoints are INT3 bytes patched
// into the tracee, and every ptrace request and wait status is handled by one
// locked OS thread.
package ptrace

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hitzhangjie/rdbg/pkg/agent"
)

var (
	// ErrClosed is returned by an Agent after Close.
	ErrClosed = errors.New("ptrace agent closed")
	// ErrUnsupported is returned on platforms without a ptrace backend.
	ErrUnsupported = errors.New("ptrace agent needs linux/amd64")
)

// Config configures an Agent.
type Config struct {
	// Notify receives process, thread, module and exception notifications.
	// It is called on the ptrace thread and must not call back into the Agent.
	Notify agent.NotifyFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Standard streams of launched programs, nil means /dev/null.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// PollInterval is how often running tracees are checked for events.
	PollInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Notify == nil {
		c.Notify = func(agent.Notification) {}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Millisecond
	}
}
