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
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/agent/ptrace"
	"github.com/hitzhangjie/rdbg/pkg/config"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

const shutdownTimeout = 5 * time.Second

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent [--exec prog | --attach pid]",
	Short: "启动调试agent，供远程rdbg connect",
	Long: `启动调试agent，供远程rdbg connect。

agent在 /agent 提供websocket调试协议，在 /metrics 提供prometheus指标。
可以通过 --exec 启动程序或 --attach 调试运行中进程，也可以两者都不指定。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			prog, _ = cmd.Flags().GetString("exec")
			pid, _  = cmd.Flags().GetInt("attach")
		)
		if prog != "" && pid != 0 {
			return errors.New("--exec and --attach are exclusive")
		}

		var srv *agent.Server
		tracer := ptrace.New(ptrace.Config{
			// srv is set before any tracee exists
			Notify: func(n agent.Notification) { srv.Notify(n) },
			Logger: logger,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
		srv = agent.NewServer(agent.ServerConfig{
			Backend: tracer,
			Logger:  rlog.WithComponent(logger, "server"),
		})
		atCleanup(func() {
			_ = srv.Close()
			_ = tracer.Close()
		})

		switch {
		case prog != "":
			path, err := filepath.Abs(prog)
			if err != nil {
				Cleanup()
				return err
			}
			p, err := tracer.Launch(path, args)
			if err != nil {
				Cleanup()
				return err
			}
			logger.Info("tracee started", rlog.ProcessKey, p, "path", path)
		case pid != 0:
			if err := tracer.Attach(pid); err != nil {
				Cleanup()
				return err
			}
		}

		mux := http.NewServeMux()
		mux.Handle("/agent", srv)
		mux.Handle("/metrics", promhttp.Handler())

		hs := &http.Server{Addr: cfg.Agent.Listen, Handler: mux}
		atCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = hs.Shutdown(ctx)
		})

		fmt.Fprintf(cmd.OutOrStdout(), "agent listening on %s\n", cfg.Agent.Listen)
		err := hs.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		Cleanup()
		return err
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().String("listen", "", "监听地址，默认127.0.0.1:7788")
	agentCmd.Flags().String("exec", "", "启动并调试可执行程序")
	agentCmd.Flags().Int("attach", 0, "调试运行中进程")

	_ = v.BindPFlag(config.KeyAgentListen, agentCmd.Flags().Lookup("listen"))
}
