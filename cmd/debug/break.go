package debug

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/rdbg/pkg/config"
	"github.com/hitzhangjie/rdbg/pkg/debugger"
)

var breakCmd = &cobra.Command{
	Use:   "break <locspec>",
	Short: "在源码中添加断点",
	Long: `在源码中添加断点，源码位置可以通过locspec格式指定。

当前支持的locspec格式，包括:
- 指令地址，如 0x4a1b2c
- 文件名:行号，如 main.go:42
- 函数名，如 main.main

断点在尚未加载的模块中时保持pending，模块加载后自动生效。`,
	Aliases: []string{"b", "breakpoint"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return addBreakpoint(cmd, args, false)
	},
}

var tbreakCmd = &cobra.Command{
	Use:   "tbreak <locspec>",
	Short: "添加一次性断点，命中后自动删除",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return addBreakpoint(cmd, args, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{breakCmd, tbreakCmd} {
		debugRootCmd.AddCommand(c)

		c.Flags().BoolP("thread", "t", false, "仅对当前线程生效")
		c.Flags().StringP("stop", "s", "", "命中后暂停范围，支持：none, thread, process, all")
		c.Flags().String("name", "", "断点名称")
	}
}

func addBreakpoint(cmd *cobra.Command, args []string, oneShot bool) error {
	if len(args) != 1 {
		return errors.New("参数错误")
	}

	loc, err := debugger.ParseLocation(args[0])
	if err != nil {
		return err
	}

	var (
		thread, _ = cmd.Flags().GetBool("thread")
		stop, _   = cmd.Flags().GetString("stop")
		name, _   = cmd.Flags().GetString("name")
	)
	opts := debugger.BreakOptions{Name: name, OneShot: oneShot, CurrentThread: thread}
	if stop != "" {
		mode, err := config.ParseStopMode(stop)
		if err != nil {
			return err
		}
		opts.StopMode = &mode
	}

	info, err := CurrentSession.dbg.Break(loc, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if info.Pending() {
		fmt.Fprintf(out, "breakpoint %d pending at %s\n", info.ID, info.Location)
		return nil
	}
	for _, l := range info.Locations {
		fmt.Fprintf(out, "breakpoint %d at %#x, process %d\n", info.ID, l.Address, l.Process)
	}
	return nil
}
