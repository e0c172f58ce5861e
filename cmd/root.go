/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

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
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/rdbg/pkg/config"
	rlog "github.com/hitzhangjie/rdbg/pkg/log"
)

var (
	cfgFile string
	v       = viper.New()

	cfg    *config.Config
	logger *slog.Logger

	cleanupMu sync.Mutex
	cleanups  []func()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rdbg",
	Short: "rdbg是一个面向go程序的调试器，支持本地及远程调试",
	Long: `rdbg是一个面向go程序的调试器，支持本地及远程调试。

本地调试:
  rdbg exec <prog>       启动并调试可执行程序
  rdbg attach <pid>      调试运行中进程
  rdbg debug [dir]       编译并调试go程序

远程调试:
  rdbg agent --exec <prog>     在目标机器上启动调试agent
  rdbg connect                 连接远程agent并开始调试`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = rlog.New(cfg.Logging())
		slog.SetDefault(logger)
		if cfg.File != "" {
			logger.Debug("config loaded", "file", cfg.File)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rdbg.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "日志级别：debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "日志格式：text, json")

	_ = v.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

// atCleanup registers fn to run on Cleanup, last registered runs first.
func atCleanup(fn func()) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanups = append(cleanups, fn)
}

// Cleanup releases whatever the running command holds: tracees, agents,
// build artifacts. It runs at most once per registered func.
func Cleanup() {
	cleanupMu.Lock()
	fns := cleanups
	cleanups = nil
	cleanupMu.Unlock()

	for idx := len(fns) - 1; idx >= 0; idx-- {
		fns[idx]()
	}
}
