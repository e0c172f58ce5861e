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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/agent"
	"github.com/hitzhangjie/rdbg/pkg/config"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
	"github.com/hitzhangjie/rdbg/pkg/loop"
	"github.com/hitzhangjie/rdbg/pkg/session"
	"github.com/hitzhangjie/rdbg/pkg/symbol"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [--addr ws://host:port/agent]",
	Short: "连接远程调试agent",
	Long: `连接远程调试agent。

符号信息按agent上报的模块路径加载，本地路径不同时可以通过 --binary 指定可执行程序。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, _ := cmd.Flags().GetString("binary")

		l := loop.New()

		var sess *session.Session
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if cfg.Agent.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, cfg.Agent.Timeout)
		}
		client, err := agent.Dial(ctx, agent.ClientConfig{
			URL:     cfg.Agent.Address,
			Timeout: cfg.Agent.Timeout,
			// sess is set before the loop runs anything
			OnNotification: func(n agent.Notification) {
				l.Post(func() { sess.HandleNotification(n) })
			},
			Logger: rlog.WithComponent(logger, "client"),
		})
		cancel()
		if err != nil {
			return err
		}

		sess = session.New(session.Config{
			Loop:     l,
			Remote:   client,
			Resolver: symbol.NewResolver(binary),
			Logger:   logger,
		})
		dbg := newDebugger(sess)

		runCtx, stop := context.WithCancel(context.Background())
		go func() {
			_ = l.Run(runCtx)
		}()
		atCleanup(func() {
			_ = client.Close()
			stop()
		})

		go func() {
			select {
			case <-client.Done():
				logger.Warn("agent connection closed")
			case <-runCtx.Done():
			}
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "connected to %s\n", cfg.Agent.Address)
		runShell(dbg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().String("addr", "", "agent地址，默认ws://127.0.0.1:7788/agent")
	connectCmd.Flags().String("binary", "", "本地可执行程序路径，用于加载符号")

	_ = v.BindPFlag(config.KeyAgentAddress, connectCmd.Flags().Lookup("addr"))
}
