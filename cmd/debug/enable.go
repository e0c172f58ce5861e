package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <breakpoint no.>",
	Short: "启用指定编号的断点",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleBreakpoint(cmd, args, true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <breakpoint no.>",
	Short: "禁用指定编号的断点，断点保留但不再命中",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleBreakpoint(cmd, args, false)
	},
}

func init() {
	debugRootCmd.AddCommand(enableCmd)
	debugRootCmd.AddCommand(disableCmd)
}

func toggleBreakpoint(cmd *cobra.Command, args []string, enabled bool) error {
	id, err := breakpointID(cmd, args)
	if err != nil {
		return err
	}
	bp, err := CurrentSession.dbg.SetEnabled(id, enabled)
	if err != nil {
		return err
	}

	state := "disabled"
	if bp.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "breakpoint %d %s\n", bp.ID, state)
	return nil
}
