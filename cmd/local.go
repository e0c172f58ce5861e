/*
Copyright © 2021 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"os"

	"github.com/hitzhangjie/rdbg/cmd/debug"
	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/agent/ptrace"
	"github.com/hitzhangjie/rdbg/pkg/debugger"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/session"
	"github.com/hitzhangjie/rdbg/pkg/symbol"
)

// localDebugger runs the ptrace agent in this process, with the session loop
// and the shell on their own goroutines.
type localDebugger struct {
	loop   *loop.Loop
	tracer *ptrace.Agent
	remote *agent.Local
	dbg    *debugger.Debugger
	cancel context.CancelFunc
}

// newLocalDebugger wires everything up and starts the loop. mainBinary may be
// empty, symbols then come from the modules the agent reports.
func newLocalDebugger(mainBinary string) *localDebugger {
	l := loop.New()

	var sess *session.Session
	tracer := ptrace.New(ptrace.Config{
		// sess is set before the loop runs anything
		Notify: func(n agent.Notification) {
			l.Post(func() { sess.HandleNotification(n) })
		},
		Logger: logger,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	remote := agent.NewLocal(tracer)

	sess = session.New(session.Config{
		Loop:     l,
		Remote:   remote,
		Resolver: symbol.NewResolver(mainBinary),
		Logger:   logger,
	})

	d := &localDebugger{
		loop:   l,
		tracer: tracer,
		remote: remote,
	}
	d.dbg = newDebugger(sess)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() {
		if err := l.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("session loop stopped", "error", err)
		}
	}()

	atCleanup(d.close)
	return d
}

// close kills launched tracees and detaches attached ones.
func (d *localDebugger) close() {
	if err := d.tracer.Close(); err != nil {
		logger.Warn("close ptrace agent", "error", err)
	}
	_ = d.remote.Close()
	d.cancel()
}

func newDebugger(sess *session.Session) *debugger.Debugger {
	resolver, _ := sess.Resolver().(*symbol.Resolver)

	dc := debugger.Config{
		Session:  sess,
		StopMode: cfg.StopMode(),
		Timeout:  cfg.Shell.Timeout,
		Logger:   rlog.WithComponent(logger, "shell"),
	}
	if resolver != nil {
		dc.Symbols = resolver
	}
	return debugger.New(dc)
}

func runShell(dbg *debugger.Debugger) {
	debug.CurrentSession = debug.NewDebugSession(dbg, cfg.Shell.AsmSyntax, os.Stdout).AtExit(Cleanup)
	debug.CurrentSession.Start()
}
